package abiv1

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	abipkg "github.com/contractvm/wasmhost/internal/abi"
	"github.com/contractvm/wasmhost/internal/storage"
	"github.com/contractvm/wasmhost/types"
)

// linkStorage registers the "storage" host module:
//
//	get(store, key_offset, key_length) -> (value_offset, value_length)
//	insert(store, key_offset, key_length, value_offset, value_length)
//	remove(store, key_offset, key_length)
func (a *V1) linkStorage(ctx context.Context, ec *abipkg.ExecutionContext, rt wazero.Runtime) error {
	builder := rt.NewHostModuleBuilder("storage")

	builder.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(
		func(callCtx context.Context, mod api.Module, stack []uint64) {
			requireContext(ec)

			chargeGas(ec, ec.Params.GasCosts.WasmStorageGetBase)
			key := readRegionArg(ec, mod.Memory(), api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			ensureKeySize(ec, key)
			chargeGasSized(ec, 0, ec.Params.GasCosts.WasmStorageKeyByte, len(key))

			value, err := instanceStore(ec, api.DecodeU32(stack[0])).Get(key)
			if err != nil {
				hostAbort(ec, err)
			}
			if value == nil {
				stack[0], stack[1] = 0, 0
				return
			}

			region := hostAllocateAndCopy(callCtx, ec, mod, value)
			stack[0] = uint64(region.Offset)
			stack[1] = uint64(region.Length)
		},
	), []api.ValueType{i32, i32, i32}, []api.ValueType{i32, i32}).Export("get")

	builder.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(
		func(callCtx context.Context, mod api.Module, stack []uint64) {
			requireContext(ec)

			chargeGas(ec, ec.Params.GasCosts.WasmStorageInsertBase)
			key := readRegionArg(ec, mod.Memory(), api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			value := readRegionArg(ec, mod.Memory(), api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
			ensureKeySize(ec, key)
			ensureValueSize(ec, value)
			chargeGasSized(ec, 0, ec.Params.GasCosts.WasmStorageKeyByte, len(key))
			chargeGasSized(ec, 0, ec.Params.GasCosts.WasmStorageValueByte, len(value))

			if ec.ReadOnly {
				hostAbort(ec, types.ErrReadOnly)
			}
			if err := instanceStore(ec, api.DecodeU32(stack[0])).Insert(key, value); err != nil {
				hostAbort(ec, err)
			}
		},
	), []api.ValueType{i32, i32, i32, i32, i32}, nil).Export("insert")

	builder.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(
		func(callCtx context.Context, mod api.Module, stack []uint64) {
			requireContext(ec)

			chargeGas(ec, ec.Params.GasCosts.WasmStorageRemoveBase)
			key := readRegionArg(ec, mod.Memory(), api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			ensureKeySize(ec, key)
			chargeGasSized(ec, 0, ec.Params.GasCosts.WasmStorageKeyByte, len(key))

			if ec.ReadOnly {
				hostAbort(ec, types.ErrReadOnly)
			}
			if err := instanceStore(ec, api.DecodeU32(stack[0])).Remove(key); err != nil {
				hostAbort(ec, err)
			}
		},
	), []api.ValueType{i32, i32, i32}, nil).Export("remove")

	_, err := builder.Instantiate(ctx)
	return err
}

// instanceStore resolves the per-instance store of the requested kind,
// aborting the call on invalid kinds or unavailable confidentiality.
func instanceStore(ec *abipkg.ExecutionContext, kind uint32) storage.Store {
	sk := types.StoreKind(kind)
	if _, err := sk.Prefix(); err != nil {
		hostAbort(ec, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err))
	}
	store, err := ec.Stores.InstanceStore(ec.Instance, sk)
	if err != nil {
		hostAbort(ec, err)
	}
	return store
}

func ensureKeySize(ec *abipkg.ExecutionContext, key []byte) {
	if uint32(len(key)) > ec.Params.MaxStorageKeySizeBytes {
		hostAbort(ec, fmt.Errorf("%w: storage key too large (size: %d max: %d)",
			types.ErrInvalidArgument, len(key), ec.Params.MaxStorageKeySizeBytes))
	}
}

func ensureValueSize(ec *abipkg.ExecutionContext, value []byte) {
	if uint32(len(value)) > ec.Params.MaxStorageValueSizeBytes {
		hostAbort(ec, fmt.Errorf("%w: storage value too large (size: %d max: %d)",
			types.ErrInvalidArgument, len(value), ec.Params.MaxStorageValueSizeBytes))
	}
}
