package abiv1

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/contractvm/wasmhost/types"
)

const (
	exportMemory     = "memory"
	exportAllocate   = "allocate"
	exportDeallocate = "deallocate"
)

// regionStructSize is the size of a region descriptor in guest memory:
// two little-endian uint32 fields, offset then length.
const regionStructSize = 8

// Region describes a byte range inside guest linear memory. A region is a
// one-time handle: an owned region transfers responsibility for the backing
// guest buffer to the receiving side, a borrowed region never outlives the
// host call it was passed to.
type Region struct {
	Offset uint32
	Length uint32
}

// RegionFromArgs builds a borrowed region from a host-function argument pair.
func RegionFromArgs(offset, length uint32) Region {
	return Region{Offset: offset, Length: length}
}

// Read copies the region contents out of guest memory, bounds-checked
// against the live memory size.
func (r Region) Read(mem api.Memory) ([]byte, error) {
	if r.Length == 0 {
		return nil, nil
	}
	data, ok := mem.Read(r.Offset, r.Length)
	if !ok {
		return nil, fmt.Errorf("%w: region [%d, %d) out of bounds (memory size %d)",
			types.ErrExecutionFailed, r.Offset, uint64(r.Offset)+uint64(r.Length), mem.Size())
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write copies data into the region. The data must exactly fill the region.
func (r Region) Write(mem api.Memory, data []byte) error {
	if uint32(len(data)) != r.Length {
		return fmt.Errorf("%w: region size mismatch (region %d, data %d)",
			types.ErrExecutionFailed, r.Length, len(data))
	}
	if r.Length == 0 {
		return nil
	}
	if !mem.Write(r.Offset, data) {
		return fmt.Errorf("%w: region [%d, %d) out of bounds (memory size %d)",
			types.ErrExecutionFailed, r.Offset, uint64(r.Offset)+uint64(r.Length), mem.Size())
	}
	return nil
}

// readRegionStruct dereferences a guest pointer to a region descriptor.
func readRegionStruct(mem api.Memory, ptr uint32) (Region, error) {
	raw, ok := mem.Read(ptr, regionStructSize)
	if !ok {
		return Region{}, fmt.Errorf("%w: bad region pointer %d", types.ErrExecutionFailed, ptr)
	}
	return Region{
		Offset: binary.LittleEndian.Uint32(raw[0:4]),
		Length: binary.LittleEndian.Uint32(raw[4:8]),
	}, nil
}

// allocate asks the guest for a buffer of the given length and returns the
// owned region describing it.
func allocate(ctx context.Context, mod api.Module, length uint32) (Region, error) {
	fn := mod.ExportedFunction(exportAllocate)
	if fn == nil {
		return Region{}, fmt.Errorf("%w: missing %s export", types.ErrExecutionFailed, exportAllocate)
	}
	res, err := fn.Call(ctx, uint64(length))
	if err != nil {
		return Region{}, fmt.Errorf("%w: allocation failed: %v", types.ErrExecutionFailed, err)
	}
	if len(res) != 1 {
		return Region{}, fmt.Errorf("%w: bad allocation function", types.ErrExecutionFailed)
	}
	return Region{Offset: uint32(res[0]), Length: length}, nil
}

// allocateAndCopy transfers data into a freshly guest-allocated buffer and
// hands the owned region to the caller.
func allocateAndCopy(ctx context.Context, mod api.Module, data []byte) (Region, error) {
	dst, err := allocate(ctx, mod, uint32(len(data)))
	if err != nil {
		return Region{}, err
	}
	if err := dst.Write(mod.Memory(), data); err != nil {
		return Region{}, err
	}
	return dst, nil
}

// allocateRegionStruct writes a region descriptor into a freshly allocated
// guest buffer and returns the pointer to it. Used by host functions whose
// wasm signature returns a single pointer.
func allocateRegionStruct(ctx context.Context, mod api.Module, r Region) (uint32, error) {
	var raw [regionStructSize]byte
	binary.LittleEndian.PutUint32(raw[0:4], r.Offset)
	binary.LittleEndian.PutUint32(raw[4:8], r.Length)
	dst, err := allocateAndCopy(ctx, mod, raw[:])
	if err != nil {
		return 0, err
	}
	return dst.Offset, nil
}

// IntoOwnedBuffer reclaims the buffer behind an owned region: the contents
// are copied out and the guest buffer is released via deallocate. A null
// offset is a host/guest protocol violation.
func IntoOwnedBuffer(ctx context.Context, mod api.Module, r Region) ([]byte, error) {
	if r.Offset == 0 {
		return nil, fmt.Errorf("%w: null region offset", types.ErrExecutionFailed)
	}
	data, err := r.Read(mod.Memory())
	if err != nil {
		return nil, err
	}
	fn := mod.ExportedFunction(exportDeallocate)
	if fn == nil {
		return nil, fmt.Errorf("%w: missing %s export", types.ErrExecutionFailed, exportDeallocate)
	}
	if _, err := fn.Call(ctx, uint64(r.Offset), uint64(r.Length)); err != nil {
		return nil, fmt.Errorf("%w: deallocation failed: %v", types.ErrExecutionFailed, err)
	}
	return data, nil
}
