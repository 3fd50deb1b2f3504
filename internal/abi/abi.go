// Package abi defines the contract between the host and guest contract code.
package abi

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/contractvm/wasmhost/internal/gas"
	"github.com/contractvm/wasmhost/internal/storage"
	"github.com/contractvm/wasmhost/types"
)

// Info is the metadata detected during code validation.
type Info struct {
	// ABISubVersion is the declared ABI sub-version.
	ABISubVersion uint32
}

// StoreProvider yields the per-instance store of the requested kind. The
// provider is supplied by the driver; acquiring a confidential store may
// fail when no key manager is available.
type StoreProvider interface {
	InstanceStore(instance *types.Instance, kind types.StoreKind) (storage.Store, error)
}

// ExecutionContext carries everything a single contract call needs. It is
// created per call and must never outlive it.
type ExecutionContext struct {
	// Params are the module parameters.
	Params *types.Parameters
	// Code describes the code being executed.
	Code *types.Code
	// Instance describes the instance being executed.
	Instance *types.Instance
	// Gas meters the call.
	Gas *gas.Meter
	// Caller is the address of the immediate caller.
	Caller types.Address
	// ReadOnly forbids state mutation during the call.
	ReadOnly bool
	// CallFormat is the format of call arguments and results.
	CallFormat types.CallFormat
	// Deposited are the tokens deposited into the instance by the call.
	Deposited []types.BaseUnits
	// SubcallDepth is the current subcall nesting depth.
	SubcallDepth uint16
	// Block describes the current block.
	Block types.BlockInfo
	// Stores provides per-instance state stores.
	Stores StoreProvider
	// Querier answers environment queries.
	Querier types.Querier
	// Logger is the call-scoped logger.
	Logger zerolog.Logger

	// Live is true only while a guest entry point is on the stack. Host
	// functions refuse to run otherwise, and it is cleared for the
	// duration of host-initiated call-outs into the guest so re-entering
	// a host function from there fails.
	Live bool

	// Aborted is set by host functions that need their error to surface
	// verbatim instead of the generic execution-failure wrapping of the
	// trap that unwound the guest.
	Aborted error
}

// ExecutionResult is the outcome of dispatching one entry point.
type ExecutionResult struct {
	// Ok is the success payload, nil when Err is set.
	Ok *types.ExecutionOk
	// Err is the failure, nil when Ok is set.
	Err error
	// GasUsed is the gas consumed by the call, always reported.
	GasUsed uint64
}

// ABI is a versioned host/guest interface. Implementations validate code at
// upload time, link host modules into the runtime and dispatch entry points.
type ABI interface {
	// Name returns the human-readable ABI name.
	Name() string

	// Validate statically validates code and returns detected metadata.
	// Validation failures are permanent for the given code.
	Validate(code []byte) (*Info, error)

	// Link registers the host modules into the runtime. Host functions
	// close over the execution context.
	Link(ctx context.Context, ec *ExecutionContext, rt wazero.Runtime) error

	// SetGasLimit arms the context's gas meter with the transaction gas
	// limit, converted to ABI gas units.
	SetGasLimit(ec *ExecutionContext, gasLimit uint64) error

	// Instantiate calls the contract's instantiate entry point.
	Instantiate(ctx context.Context, ec *ExecutionContext, mod api.Module, request []byte) ExecutionResult
	// Call calls the contract's call entry point.
	Call(ctx context.Context, ec *ExecutionContext, mod api.Module, request []byte) ExecutionResult
	// Query calls the contract's query entry point.
	Query(ctx context.Context, ec *ExecutionContext, mod api.Module, request []byte) ExecutionResult
	// HandleReply delivers a subcall reply to the contract.
	HandleReply(ctx context.Context, ec *ExecutionContext, mod api.Module, reply types.Reply) ExecutionResult
	// PreUpgrade calls the old code's pre_upgrade entry point.
	PreUpgrade(ctx context.Context, ec *ExecutionContext, mod api.Module, request []byte) ExecutionResult
	// PostUpgrade calls the new code's post_upgrade entry point.
	PostUpgrade(ctx context.Context, ec *ExecutionContext, mod api.Module, request []byte) ExecutionResult
}

// Factory constructs an ABI implementation.
type Factory func(logger zerolog.Logger) ABI

var registry = make(map[types.ABI]Factory)

// Register makes an ABI implementation available to New. Called from the
// implementation's init.
func Register(kind types.ABI, f Factory) {
	if _, ok := registry[kind]; ok {
		panic(fmt.Sprintf("abi: duplicate registration for %s", kind))
	}
	registry[kind] = f
}

// New constructs the ABI implementation for the given kind.
func New(kind types.ABI, logger zerolog.Logger) (ABI, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedABI, kind)
	}
	return f(logger), nil
}
