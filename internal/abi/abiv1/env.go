package abiv1

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	abipkg "github.com/contractvm/wasmhost/internal/abi"
	"github.com/contractvm/wasmhost/types"
)

// linkEnv registers the "env" host module:
//
//	query(request_offset, request_length) -> response region ptr
//	address_for_instance(instance_id, dst_offset, dst_length)
func (a *V1) linkEnv(ctx context.Context, ec *abipkg.ExecutionContext, rt wazero.Runtime) error {
	builder := rt.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(
		func(callCtx context.Context, mod api.Module, stack []uint64) {
			requireContext(ec)
			chargeGas(ec, ec.Params.GasCosts.WasmEnvQueryBase)

			raw := readRegionArg(ec, mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			if uint32(len(raw)) > ec.Params.MaxQuerySizeBytes {
				hostAbort(ec, fmt.Errorf("%w: query too large (size: %d max: %d)",
					types.ErrInvalidArgument, len(raw), ec.Params.MaxQuerySizeBytes))
			}

			var request types.QueryRequest
			if err := cbor.Unmarshal(raw, &request); err != nil {
				hostAbort(ec, fmt.Errorf("%w: malformed query", types.ErrInvalidArgument))
			}

			response, err := cbor.Marshal(a.dispatchQuery(ec, request))
			if err != nil {
				trap(fmt.Errorf("%w: serializing query response: %v", types.ErrExecutionFailed, err))
			}
			stack[0] = uint64(hostAllocateRegionStruct(callCtx, ec, mod, response))
		},
	), []api.ValueType{i32, i32}, []api.ValueType{i32}).Export("query")

	builder.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(
		func(callCtx context.Context, mod api.Module, stack []uint64) {
			requireContext(ec)
			chargeGas(ec, ec.Params.GasCosts.WasmEnvQueryBase)

			address := types.InstanceAddress(types.InstanceID(stack[0]))
			dst := RegionFromArgs(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			if err := dst.Write(mod.Memory(), address.Bytes()); err != nil {
				trap(err)
			}
		},
	), []api.ValueType{api.ValueTypeI64, i32, i32}, nil).Export("address_for_instance")

	_, err := builder.Instantiate(ctx)
	return err
}

// dispatchQuery answers an environment query on behalf of the guest.
func (a *V1) dispatchQuery(ec *abipkg.ExecutionContext, request types.QueryRequest) types.QueryResponse {
	switch {
	case request.BlockInfo != nil:
		block := ec.Block
		return types.QueryResponse{BlockInfo: &block}

	case request.Accounts != nil && request.Accounts.Balance != nil:
		q := request.Accounts.Balance
		if ec.Querier == nil {
			return queryError(types.ModuleName, 2, "accounts queries not supported")
		}
		balance, err := ec.Querier.Balance(q.Address, q.Denomination)
		if err != nil {
			return queryError(types.ModuleName, 3, err.Error())
		}
		return types.QueryResponse{
			Accounts: &types.AccountsResponse{
				Balance: &types.BalanceResponse{Balance: balance},
			},
		}

	default:
		return queryError("", 1, "query not supported")
	}
}

func queryError(module string, code uint32, message string) types.QueryResponse {
	return types.QueryResponse{
		Error: &types.QueryError{Module: module, Code: code, Message: message},
	}
}
