// Package wasmtest assembles small WebAssembly modules for tests. It emits
// the binary format directly so tests do not need a wasm toolchain.
package wasmtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// I32 is the i32 value type.
const I32 = 0x7f

// FuncType is a function signature.
type FuncType struct {
	Params  []byte
	Results []byte
}

// Import is an imported function.
type Import struct {
	Module string
	Name   string
	Type   FuncType
}

// Func is a defined function. It is exported when Export is non-empty.
// Locals adds extra i32 locals after the parameters. Body holds the
// instructions without the trailing end opcode.
type Func struct {
	Export string
	Type   FuncType
	Locals int
	Body   []byte
}

// Module describes a test module. One linear memory of MemoryMin pages is
// declared and exported as "memory"; NumMemories overrides the declared
// memory count for negative tests. Global 0 is a mutable i32 initialized to
// HeapBase, used by the bump allocator.
type Module struct {
	Imports []Import
	Funcs   []Func

	MemoryMin   uint32
	NumMemories int

	HeapBase uint32

	Data       []byte
	DataOffset uint32

	StartFunc *uint32
}

// Build emits the module binary.
func (m *Module) Build() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	// Type section, one entry per import and defined function.
	var typeSec bytes.Buffer
	typeSec.Write(uleb(uint32(len(m.Imports) + len(m.Funcs))))
	writeType := func(t FuncType) {
		typeSec.WriteByte(0x60)
		typeSec.Write(uleb(uint32(len(t.Params))))
		typeSec.Write(t.Params)
		typeSec.Write(uleb(uint32(len(t.Results))))
		typeSec.Write(t.Results)
	}
	for _, imp := range m.Imports {
		writeType(imp.Type)
	}
	for _, fn := range m.Funcs {
		writeType(fn.Type)
	}
	writeSection(&buf, 1, typeSec.Bytes())

	if len(m.Imports) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint32(len(m.Imports))))
		for i, imp := range m.Imports {
			writeName(&s, imp.Module)
			writeName(&s, imp.Name)
			s.WriteByte(0x00)
			s.Write(uleb(uint32(i)))
		}
		writeSection(&buf, 2, s.Bytes())
	}

	if len(m.Funcs) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint32(len(m.Funcs))))
		for i := range m.Funcs {
			s.Write(uleb(uint32(len(m.Imports) + i)))
		}
		writeSection(&buf, 3, s.Bytes())
	}

	numMemories := m.NumMemories
	if numMemories == 0 {
		numMemories = 1
	}
	{
		var s bytes.Buffer
		s.Write(uleb(uint32(numMemories)))
		for i := 0; i < numMemories; i++ {
			s.WriteByte(0x00)
			s.Write(uleb(m.MemoryMin))
		}
		writeSection(&buf, 5, s.Bytes())
	}

	{
		var s bytes.Buffer
		s.Write(uleb(1))
		s.WriteByte(I32)
		s.WriteByte(0x01) // mutable
		s.WriteByte(0x41)
		s.Write(sleb(int32(m.HeapBase)))
		s.WriteByte(0x0b)
		writeSection(&buf, 6, s.Bytes())
	}

	{
		var s bytes.Buffer
		count := uint32(1)
		for _, fn := range m.Funcs {
			if fn.Export != "" {
				count++
			}
		}
		s.Write(uleb(count))
		writeName(&s, "memory")
		s.WriteByte(0x02)
		s.Write(uleb(0))
		for i, fn := range m.Funcs {
			if fn.Export == "" {
				continue
			}
			writeName(&s, fn.Export)
			s.WriteByte(0x00)
			s.Write(uleb(uint32(len(m.Imports) + i)))
		}
		writeSection(&buf, 7, s.Bytes())
	}

	if m.StartFunc != nil {
		writeSection(&buf, 8, uleb(*m.StartFunc))
	}

	if len(m.Funcs) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint32(len(m.Funcs))))
		for _, fn := range m.Funcs {
			var b bytes.Buffer
			if fn.Locals > 0 {
				b.Write(uleb(1))
				b.Write(uleb(uint32(fn.Locals)))
				b.WriteByte(I32)
			} else {
				b.Write(uleb(0))
			}
			b.Write(fn.Body)
			b.WriteByte(0x0b)
			s.Write(uleb(uint32(b.Len())))
			s.Write(b.Bytes())
		}
		writeSection(&buf, 10, s.Bytes())
	}

	if len(m.Data) > 0 {
		var s bytes.Buffer
		s.Write(uleb(1))
		s.Write(uleb(0))
		s.WriteByte(0x41)
		s.Write(sleb(int32(m.DataOffset)))
		s.WriteByte(0x0b)
		s.Write(uleb(uint32(len(m.Data))))
		s.Write(m.Data)
		writeSection(&buf, 11, s.Bytes())
	}

	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, id byte, body []byte) {
	buf.WriteByte(id)
	buf.Write(uleb(uint32(len(body))))
	buf.Write(body)
}

func writeName(buf *bytes.Buffer, name string) {
	buf.Write(uleb(uint32(len(name))))
	buf.WriteString(name)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// Instruction helpers for function bodies.

func I32Const(v int32) []byte  { return append([]byte{0x41}, sleb(v)...) }
func LocalGet(i uint32) []byte { return append([]byte{0x20}, uleb(i)...) }
func LocalSet(i uint32) []byte { return append([]byte{0x21}, uleb(i)...) }
func GlobalGet(i uint32) []byte {
	return append([]byte{0x23}, uleb(i)...)
}
func GlobalSet(i uint32) []byte {
	return append([]byte{0x24}, uleb(i)...)
}
func CallFunc(i uint32) []byte { return append([]byte{0x10}, uleb(i)...) }
func I32Add() []byte           { return []byte{0x6a} }
func Drop() []byte             { return []byte{0x1a} }

// Instrs concatenates instruction sequences into one body.
func Instrs(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

const (
	// dataBase is where the data segment of canned contracts starts.
	dataBase = 1024
	// heapBase is the initial bump allocator pointer, past the data.
	heapBase = 0x10000
)

// layout accumulates the data segment of a canned contract.
type layout struct {
	data []byte
}

func (l *layout) place(b []byte) (offset, length uint32) {
	offset = dataBase + uint32(len(l.data))
	l.data = append(l.data, b...)
	return offset, uint32(len(b))
}

// placeResult stores a result blob plus its region descriptor, returning
// the descriptor pointer that entry points return.
func (l *layout) placeResult(result []byte) uint32 {
	offset, length := l.place(result)
	desc := make([]byte, 8)
	binary.LittleEndian.PutUint32(desc[0:4], offset)
	binary.LittleEndian.PutUint32(desc[4:8], length)
	ptr, _ := l.place(desc)
	return ptr
}

// AllocatorFuncs returns bump allocator allocate/deallocate functions
// operating on global 0. Deallocation is a no-op.
func AllocatorFuncs() []Func {
	allocate := Func{
		Export: "allocate",
		Type:   FuncType{Params: []byte{I32}, Results: []byte{I32}},
		Locals: 1,
		Body: Instrs(
			GlobalGet(0),
			LocalSet(1),
			LocalGet(1),
			LocalGet(0),
			I32Add(),
			GlobalSet(0),
			LocalGet(1),
		),
	}
	deallocate := Func{
		Export: "deallocate",
		Type:   FuncType{Params: []byte{I32, I32}},
	}
	return []Func{allocate, deallocate}
}

// EntryType is the signature shared by all entry points.
var EntryType = FuncType{Params: []byte{I32, I32, I32, I32}, Results: []byte{I32}}

// EntryFuncs returns the six entry point functions. All respond with the
// region descriptor at resultPtr; prelude instructions run at the start of
// the preludeEntry entry point.
func EntryFuncs(resultPtr uint32, preludeEntry string, prelude []byte) []Func {
	entries := []string{"instantiate", "call", "query", "handle_reply", "pre_upgrade", "post_upgrade"}
	funcs := make([]Func, 0, len(entries))
	for _, name := range entries {
		body := I32Const(int32(resultPtr))
		if name == preludeEntry && len(prelude) > 0 {
			body = Instrs(prelude, body)
		}
		funcs = append(funcs, Func{Export: name, Type: EntryType, Body: body})
	}
	return funcs
}

func buildContract(imports []Import, preludeEntry string, prelude []byte, l *layout, resultPtr uint32, extra ...Func) []byte {
	funcs := append(AllocatorFuncs(), EntryFuncs(resultPtr, preludeEntry, prelude)...)
	funcs = append(funcs, extra...)
	m := Module{
		Imports:    imports,
		Funcs:      funcs,
		MemoryMin:  2,
		HeapBase:   heapBase,
		Data:       l.data,
		DataOffset: dataBase,
	}
	return m.Build()
}

// SimpleContract builds a contract whose every entry point responds with
// the given CBOR execution result.
func SimpleContract(result []byte) []byte {
	var l layout
	ptr := l.placeResult(result)
	return buildContract(nil, "", nil, &l, ptr)
}

// SubVersionContract is SimpleContract plus an ABI sub-version marker
// export.
func SubVersionContract(result []byte, sv uint32) []byte {
	var l layout
	ptr := l.placeResult(result)
	marker := Func{Export: fmt.Sprintf("__contract_sv_%d", sv)}
	return buildContract(nil, "", nil, &l, ptr, marker)
}

// InsertContract inserts key/value into public storage from the call entry
// point before responding with result.
func InsertContract(result, key, value []byte) []byte {
	return insertContract(0, "call", result, key, value)
}

// ConfidentialInsertContract is InsertContract targeting the confidential
// store.
func ConfidentialInsertContract(result, key, value []byte) []byte {
	return insertContract(1, "call", result, key, value)
}

// QueryInsertContract attempts the insert from the query entry point, which
// always runs read-only.
func QueryInsertContract(result, key, value []byte) []byte {
	return insertContract(0, "query", result, key, value)
}

func insertContract(kind int32, entry string, result, key, value []byte) []byte {
	var l layout
	keyOff, keyLen := l.place(key)
	valOff, valLen := l.place(value)
	ptr := l.placeResult(result)
	imports := []Import{{
		Module: "storage",
		Name:   "insert",
		Type:   FuncType{Params: []byte{I32, I32, I32, I32, I32}},
	}}
	prelude := Instrs(
		I32Const(kind),
		I32Const(int32(keyOff)), I32Const(int32(keyLen)),
		I32Const(int32(valOff)), I32Const(int32(valLen)),
		CallFunc(0),
	)
	return buildContract(imports, entry, prelude, &l, ptr)
}

// RemoveContract removes key from public storage from the call entry point
// before responding with result.
func RemoveContract(result, key []byte) []byte {
	var l layout
	keyOff, keyLen := l.place(key)
	ptr := l.placeResult(result)
	imports := []Import{{
		Module: "storage",
		Name:   "remove",
		Type:   FuncType{Params: []byte{I32, I32, I32}},
	}}
	prelude := Instrs(
		I32Const(0),
		I32Const(int32(keyOff)), I32Const(int32(keyLen)),
		CallFunc(0),
	)
	return buildContract(imports, "call", prelude, &l, ptr)
}

// GetContract looks key up in public storage from the call entry point,
// discarding the outcome, before responding with result.
func GetContract(result, key []byte) []byte {
	var l layout
	keyOff, keyLen := l.place(key)
	ptr := l.placeResult(result)
	imports := []Import{{
		Module: "storage",
		Name:   "get",
		Type:   FuncType{Params: []byte{I32, I32, I32}, Results: []byte{I32, I32}},
	}}
	prelude := Instrs(
		I32Const(0),
		I32Const(int32(keyOff)), I32Const(int32(keyLen)),
		CallFunc(0),
		Drop(), Drop(),
	)
	return buildContract(imports, "call", prelude, &l, ptr)
}

// EnvQueryContract issues the given CBOR environment query from the call
// entry point, discarding the response, before responding with result.
func EnvQueryContract(result, query []byte) []byte {
	var l layout
	queryOff, queryLen := l.place(query)
	ptr := l.placeResult(result)
	imports := []Import{{
		Module: "env",
		Name:   "query",
		Type:   FuncType{Params: []byte{I32, I32}, Results: []byte{I32}},
	}}
	prelude := Instrs(
		I32Const(int32(queryOff)), I32Const(int32(queryLen)),
		CallFunc(0),
		Drop(),
	)
	return buildContract(imports, "call", prelude, &l, ptr)
}
