// Package abiv1 implements the version 1 contract ABI.
//
// The guest exports allocate/deallocate for buffer management plus one
// function per entry point. Entry points take two (offset, length) region
// pairs, the serialized execution context and the request, and return a
// pointer to a region descriptor holding the CBOR-encoded execution result.
package abiv1

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	abipkg "github.com/contractvm/wasmhost/internal/abi"
	"github.com/contractvm/wasmhost/internal/gas"
	"github.com/contractvm/wasmhost/types"
)

const (
	exportInstantiate = "instantiate"
	exportCall        = "call"
	exportQuery       = "query"
	exportHandleReply = "handle_reply"
	exportPreUpgrade  = "pre_upgrade"
	exportPostUpgrade = "post_upgrade"
)

// V1 is the version 1 ABI.
type V1 struct {
	logger zerolog.Logger
}

func init() {
	abipkg.Register(types.ABIContractV1, func(logger zerolog.Logger) abipkg.ABI {
		return New(logger)
	})
}

// New creates the version 1 ABI.
func New(logger zerolog.Logger) *V1 {
	return &V1{logger: logger.With().Str("abi", "contract-v1").Logger()}
}

// Name returns the human-readable ABI name.
func (a *V1) Name() string { return types.ABIContractV1.String() }

// SetGasLimit configures the call's gas budget, converting transaction gas
// to guest gas units.
func (a *V1) SetGasLimit(ec *abipkg.ExecutionContext, gasLimit uint64) error {
	ec.Gas = gas.NewMeter(txGasToWasm(gasLimit))
	return nil
}

// Link registers the storage, env and crypto host modules into the runtime.
func (a *V1) Link(ctx context.Context, ec *abipkg.ExecutionContext, rt wazero.Runtime) error {
	if err := a.linkStorage(ctx, ec, rt); err != nil {
		return fmt.Errorf("%w: linking storage: %v", types.ErrModuleLoadingFailed, err)
	}
	if err := a.linkEnv(ctx, ec, rt); err != nil {
		return fmt.Errorf("%w: linking env: %v", types.ErrModuleLoadingFailed, err)
	}
	if err := a.linkCrypto(ctx, ec, rt); err != nil {
		return fmt.Errorf("%w: linking crypto: %v", types.ErrModuleLoadingFailed, err)
	}
	return nil
}

// Instantiate calls the contract's instantiate entry point.
func (a *V1) Instantiate(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, request []byte) abipkg.ExecutionResult {
	return a.callWithContext(ctx, ec, mod, exportInstantiate, request)
}

// Call calls the contract's call entry point.
func (a *V1) Call(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, request []byte) abipkg.ExecutionResult {
	return a.callWithContext(ctx, ec, mod, exportCall, request)
}

// Query calls the contract's query entry point.
func (a *V1) Query(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, request []byte) abipkg.ExecutionResult {
	return a.callWithContext(ctx, ec, mod, exportQuery, request)
}

// HandleReply delivers a subcall reply to the contract.
func (a *V1) HandleReply(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, reply types.Reply) abipkg.ExecutionResult {
	request, err := cbor.Marshal(reply)
	if err != nil {
		return abipkg.ExecutionResult{
			Err:     fmt.Errorf("%w: serializing reply: %v", types.ErrExecutionFailed, err),
			GasUsed: wasmGasToTx(ec.Gas.Used()),
		}
	}
	return a.callWithContext(ctx, ec, mod, exportHandleReply, request)
}

// PreUpgrade calls the old code's pre_upgrade entry point.
func (a *V1) PreUpgrade(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, request []byte) abipkg.ExecutionResult {
	return a.callWithContext(ctx, ec, mod, exportPreUpgrade, request)
}

// PostUpgrade calls the new code's post_upgrade entry point.
func (a *V1) PostUpgrade(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, request []byte) abipkg.ExecutionResult {
	return a.callWithContext(ctx, ec, mod, exportPostUpgrade, request)
}

// guestContext is the guest-visible view of the execution context, passed
// serialized as the first entry point argument.
type guestContext struct {
	InstanceID      types.InstanceID  `cbor:"instance_id"`
	InstanceAddress types.Address     `cbor:"instance_address"`
	CallerAddress   types.Address     `cbor:"caller_address"`
	DepositedTokens []types.BaseUnits `cbor:"deposited_tokens"`
	ReadOnly        bool              `cbor:"read_only,omitempty"`
	CallFormat      types.CallFormat  `cbor:"call_format,omitempty"`
}

// callWithContext dispatches one entry point and converts the raw outcome
// into an execution result with gas accounting attached.
func (a *V1) callWithContext(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, entry string, request []byte) abipkg.ExecutionResult {
	ok, err := a.rawCall(ctx, ec, mod, entry, request)
	if err != nil {
		// An abort set by a host function carries the precise failure;
		// it bypasses the generic wrapping of the trap that unwound
		// the guest.
		if aborted := ec.Aborted; aborted != nil {
			ec.Aborted = nil
			err = aborted
		} else if ec.Gas.Exhausted() {
			err = types.OutOfGasError{}
		}
	}
	return abipkg.ExecutionResult{
		Ok:      ok,
		Err:     err,
		GasUsed: wasmGasToTx(ec.Gas.Used()),
	}
}

func (a *V1) rawCall(ctx context.Context, ec *abipkg.ExecutionContext, mod api.Module, entry string, request []byte) (*types.ExecutionOk, error) {
	gc := guestContext{
		InstanceID:      ec.Instance.ID,
		InstanceAddress: ec.Instance.Address(),
		CallerAddress:   ec.Caller,
		DepositedTokens: ec.Deposited,
	}
	if ec.Code.ABISubVersion >= 1 {
		// Sub-version 1 understands the read-only and call-format flags.
		gc.ReadOnly = ec.ReadOnly
		gc.CallFormat = ec.CallFormat
	}
	ctxData, err := cbor.Marshal(gc)
	if err != nil {
		return nil, fmt.Errorf("%w: serializing context: %v", types.ErrExecutionFailed, err)
	}

	ctxRegion, err := allocateAndCopy(ctx, mod, ctxData)
	if err != nil {
		return nil, err
	}
	reqRegion, err := allocateAndCopy(ctx, mod, request)
	if err != nil {
		return nil, err
	}

	fn := mod.ExportedFunction(entry)
	if fn == nil {
		return nil, fmt.Errorf("%w: contract does not support %s", types.ErrExecutionFailed, entry)
	}

	ec.Live = true
	res, err := fn.Call(ctx,
		uint64(ctxRegion.Offset), uint64(ctxRegion.Length),
		uint64(reqRegion.Offset), uint64(reqRegion.Length),
	)
	ec.Live = false
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrExecutionFailed, err)
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("%w: %s returned no result", types.ErrExecutionFailed, entry)
	}

	resultRegion, err := readRegionStruct(mod.Memory(), uint32(res[0]))
	if err != nil {
		return nil, err
	}
	if resultRegion.Length > ec.Params.MaxResultSizeBytes {
		return nil, types.ResultTooLargeError{
			Size:    resultRegion.Length,
			MaxSize: ec.Params.MaxResultSizeBytes,
		}
	}
	// The result region is owned by the host from here on.
	resultData, err := IntoOwnedBuffer(ctx, mod, resultRegion)
	if err != nil {
		return nil, err
	}

	var result types.ExecutionResult
	if err := cbor.Unmarshal(resultData, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed result: %v", types.ErrExecutionFailed, err)
	}
	switch {
	case result.Ok != nil:
		return result.Ok, nil
	case result.Failed != nil:
		return nil, types.NewContractError(ec.Instance.CodeID, result.Failed.Module, result.Failed.Code, result.Failed.Message)
	default:
		return nil, fmt.Errorf("%w: empty result", types.ErrExecutionFailed)
	}
}
