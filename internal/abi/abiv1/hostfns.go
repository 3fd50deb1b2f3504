package abiv1

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	abipkg "github.com/contractvm/wasmhost/internal/abi"
	"github.com/contractvm/wasmhost/types"
)

// trapError aborts guest execution when panicked from a host function; the
// runtime recovers it and unwinds the call.
type trapError struct {
	err error
}

func (t trapError) Error() string { return t.err.Error() }
func (t trapError) Unwrap() error { return t.err }

func trap(err error) {
	panic(trapError{err: err})
}

// requireContext traps unless a guest entry point is currently executing.
// A host function invoked with no live call is a protocol violation.
func requireContext(ec *abipkg.ExecutionContext) {
	if !ec.Live {
		trap(fmt.Errorf("%w: host function called with no call in progress", types.ErrExecutionFailed))
	}
}

// chargeGas deducts gas, trapping on exhaustion.
func chargeGas(ec *abipkg.ExecutionContext, amount uint64) {
	if err := ec.Gas.Consume(amount); err != nil {
		trap(err)
	}
}

// chargeGasSized deducts a base plus per-byte amount, trapping on exhaustion.
func chargeGasSized(ec *abipkg.ExecutionContext, base, perByte uint64, size int) {
	if err := ec.Gas.ConsumeSized(base, perByte, uint64(size)); err != nil {
		trap(err)
	}
}

// hostAbort records err on the aborted slot so it surfaces verbatim at the
// top level, then traps.
func hostAbort(ec *abipkg.ExecutionContext, err error) {
	ec.Aborted = err
	trap(err)
}

// readRegionArg reads a borrowed input region passed as host-function
// arguments, trapping on out-of-bounds claims.
func readRegionArg(ec *abipkg.ExecutionContext, mem api.Memory, offset, length uint32) []byte {
	data, err := RegionFromArgs(offset, length).Read(mem)
	if err != nil {
		trap(err)
	}
	return data
}

// hostAllocateAndCopy writes host output through a fresh guest allocation.
// The context is not live while the guest allocator runs, so re-entering a
// host function from there fails.
func hostAllocateAndCopy(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, data []byte) Region {
	ec.Live = false
	defer func() { ec.Live = true }()

	region, err := allocateAndCopy(ctx, mod, data)
	if err != nil {
		trap(err)
	}
	return region
}

// hostAllocateRegionStruct is hostAllocateAndCopy for functions returning a
// pointer to a region descriptor.
func hostAllocateRegionStruct(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, data []byte) uint32 {
	region := hostAllocateAndCopy(ctx, ec, mod, data)

	ec.Live = false
	defer func() { ec.Live = true }()

	ptr, err := allocateRegionStruct(ctx, mod, region)
	if err != nil {
		trap(err)
	}
	return ptr
}
