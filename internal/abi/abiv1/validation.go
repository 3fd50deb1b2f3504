package abiv1

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	abipkg "github.com/contractvm/wasmhost/internal/abi"
	"github.com/contractvm/wasmhost/types"
)

// exportSubVersionPrefix marks the ABI sub-version a contract declares.
// Zero such exports means sub-version 0, more than one is malformed.
const exportSubVersionPrefix = "__contract_sv_"

var (
	i32 = api.ValueTypeI32

	// entry points: fn(ctx_offset, ctx_length, request_offset, request_length) -> response region ptr
	entryParams  = []api.ValueType{i32, i32, i32, i32}
	entryResults = []api.ValueType{i32}
)

var requiredExports = []string{
	exportAllocate,
	exportDeallocate,
	exportInstantiate,
	exportCall,
}

var reservedExports = []string{
	exportGasLimit,
	exportGasLimitExhausted,
}

// expectedSignature returns the required type of a known export, or nil
// params when the export carries no signature requirement.
func expectedSignature(name string) (params, results []api.ValueType, known bool) {
	switch name {
	case exportAllocate:
		return []api.ValueType{i32}, []api.ValueType{i32}, true
	case exportDeallocate:
		return []api.ValueType{i32, i32}, nil, true
	case exportInstantiate, exportCall, exportQuery, exportHandleReply, exportPreUpgrade, exportPostUpgrade:
		return entryParams, entryResults, true
	default:
		return nil, nil, false
	}
}

func signatureMatches(def api.FunctionDefinition, params, results []api.ValueType) bool {
	return bytes.Equal(def.ParamTypes(), params) && bytes.Equal(def.ResultTypes(), results)
}

// Validate statically validates contract code. Failures are permanent for
// the given code; the driver never stores code that fails validation.
func (a *V1) Validate(code []byte) (*abipkg.Info, error) {
	if err := scanForbiddenSections(code); err != nil {
		return nil, err
	}

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCodeMalformed, err)
	}
	defer compiled.Close(ctx)

	exports := compiled.ExportedFunctions()

	for _, required := range requiredExports {
		if _, ok := exports[required]; !ok {
			return nil, types.CodeMissingExportError{Export: required}
		}
	}
	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		return nil, types.CodeMissingExportError{Export: exportMemory}
	}

	for _, reserved := range reservedExports {
		if _, ok := exports[reserved]; ok {
			return nil, types.CodeReservedExportError{Export: reserved}
		}
	}

	// Known exports must carry the expected signatures; the entry dispatch
	// relies on them.
	for name, def := range exports {
		params, results, known := expectedSignature(name)
		if known && !signatureMatches(def, params, results) {
			return nil, fmt.Errorf("%w: export %s has wrong signature", types.ErrCodeMalformed, name)
		}
	}

	abiSV, err := detectSubVersion(exports)
	if err != nil {
		return nil, err
	}

	return &abipkg.Info{ABISubVersion: abiSV}, nil
}

func detectSubVersion(exports map[string]api.FunctionDefinition) (uint32, error) {
	var found []string
	for name := range exports {
		if strings.HasPrefix(name, exportSubVersionPrefix) {
			found = append(found, name)
		}
	}
	switch len(found) {
	case 0:
		return 0, nil
	case 1:
		sv, err := strconv.ParseUint(strings.TrimPrefix(found[0], exportSubVersionPrefix), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: bad sub-version export %s", types.ErrCodeMalformed, found[0])
		}
		return uint32(sv), nil
	default:
		return 0, fmt.Errorf("%w: code declares multiple sub-versions", types.ErrCodeMalformed)
	}
}

const (
	sectionMemory = 5
	sectionStart  = 8
)

// scanForbiddenSections walks the top-level section layout to reject start
// functions and multiple linear memories before compilation. The
// compiled-module API does not surface either.
func scanForbiddenSections(code []byte) error {
	if len(code) < 8 {
		return types.ErrCodeMalformed
	}
	r := code[8:] // past magic and version

	for len(r) > 0 {
		id := r[0]
		r = r[1:]
		size, n := leb128U32(r)
		if n == 0 || uint64(size) > uint64(len(r)-n) {
			return types.ErrCodeMalformed
		}
		body := r[n : n+int(size)]
		r = r[n+int(size):]

		switch id {
		case sectionStart:
			return types.CodeDeclaresStartFunctionError{}
		case sectionMemory:
			count, cn := leb128U32(body)
			if cn == 0 {
				return types.ErrCodeMalformed
			}
			if count > 1 {
				return types.CodeDeclaresTooManyMemoriesError{}
			}
		}
	}
	return nil
}

// leb128U32 decodes an unsigned LEB128 value, returning the value and the
// number of bytes consumed (0 on malformed input).
func leb128U32(b []byte) (uint32, int) {
	var out uint64
	for i := 0; i < len(b) && i < 5; i++ {
		out |= uint64(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			if out > 0xffffffff {
				return 0, 0
			}
			return uint32(out), i + 1
		}
	}
	return 0, 0
}
