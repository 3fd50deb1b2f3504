// Package wasmhost is a sandbox for executing WebAssembly smart contracts.
// It covers code upload and validation, per-call module instantiation, gas
// metering, the host function surface and the contract state store stack,
// including confidential state. Transaction dispatch, fee handling and
// subcall scheduling remain the embedding runtime's job.
package wasmhost

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"

	"github.com/contractvm/wasmhost/internal/abi"
	_ "github.com/contractvm/wasmhost/internal/abi/abiv1" // registers the v1 ABI
	"github.com/contractvm/wasmhost/internal/keymanager"
	"github.com/contractvm/wasmhost/types"
)

// Key manager contract, re-exported for embedders.
type (
	KeyManager = keymanager.KeyManager
	KeyPair    = keymanager.KeyPair
	KeyPairID  = keymanager.KeyPairID
	StateKey   = keymanager.StateKey
)

// ErrKeyManagerUnavailable is returned when the key manager cannot serve
// a request backing a confidential store.
var ErrKeyManagerUnavailable = keymanager.ErrUnavailable

// NewInMemoryKeyManager creates a key manager deriving keys from a master
// secret. Meant for tests and local development only.
func NewInMemoryKeyManager(master []byte) KeyManager {
	return keymanager.NewInMemory(master)
}

// Config configures a VM.
type Config struct {
	// Params override the default module parameters.
	Params *types.Parameters
	// Logger is the base logger; a disabled logger is used when unset.
	Logger *zerolog.Logger
	// KeyManager backs confidential state. When nil, confidential store
	// requests fail.
	KeyManager KeyManager
	// Querier answers environment queries. When nil, accounts queries
	// report an error to the guest.
	Querier types.Querier
	// CodeCacheSize is the number of decompressed code blobs kept in
	// memory, DefaultCodeCacheSize when zero.
	CodeCacheSize int
}

// CallContext bundles the per-call inputs supplied by the dispatch
// framework. A CallContext is used for exactly one entry point dispatch.
type CallContext struct {
	// State is the transaction-scoped storage engine.
	State types.KVStore
	// Block is the current block context.
	Block *BlockContext
	// Caller is the address of the immediate caller.
	Caller types.Address
	// Deposited are tokens deposited into the instance by this call.
	Deposited []types.BaseUnits
	// ReadOnly forbids state mutation during the call.
	ReadOnly bool
	// CallFormat is the format of call arguments and results.
	CallFormat types.CallFormat
	// SubcallDepth is the current subcall nesting depth.
	SubcallDepth uint16
}

// VM executes contract calls. One VM serves a whole runtime; each call gets
// a fresh guest module instance and execution context.
type VM struct {
	params     types.Parameters
	logger     zerolog.Logger
	keyManager KeyManager
	querier    types.Querier
	codes      *CodeStore
	cache      wazero.CompilationCache
}

// NewVM creates a VM. codeKV is the storage engine backing the code store.
func NewVM(cfg Config, codeKV types.KVStore) (*VM, error) {
	params := types.DefaultParameters()
	if cfg.Params != nil {
		params = *cfg.Params
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	codes, err := NewCodeStore(codeKV, cfg.CodeCacheSize)
	if err != nil {
		return nil, err
	}

	vm := &VM{
		params:     params,
		logger:     logger.With().Str("module", types.ModuleName).Logger(),
		keyManager: cfg.KeyManager,
		querier:    cfg.Querier,
		codes:      codes,
		cache:      wazero.NewCompilationCache(),
	}
	vm.logger.Info().
		Uint32("max_code_size", params.MaxCodeSize).
		Uint32("max_memory_pages", params.MaxMemoryPages).
		Msg("wasm host initialized")
	return vm, nil
}

// Close releases the compilation cache.
func (vm *VM) Close(ctx context.Context) error {
	return vm.cache.Close(ctx)
}

// ValidateAndTransform validates code against the declared ABI and returns
// the artifact to persist plus the detected ABI sub-version. Validation
// failures are permanent for the given code. The transformation is
// idempotent: accepted code always yields a byte-identical artifact.
func (vm *VM) ValidateAndTransform(code []byte, kind types.ABI) ([]byte, uint32, error) {
	if uint32(len(code)) > vm.params.MaxCodeSize {
		return nil, 0, types.CodeTooLargeError{Size: uint32(len(code)), MaxSize: vm.params.MaxCodeSize}
	}

	a, err := abi.New(kind, vm.logger)
	if err != nil {
		return nil, 0, err
	}
	info, err := a.Validate(code)
	if err != nil {
		return nil, 0, err
	}

	// The v1 ABI performs no bytecode rewriting; metering happens on the
	// host side of the boundary.
	transformed := make([]byte, len(code))
	copy(transformed, code)
	return transformed, info.ABISubVersion, nil
}

// UploadCode validates, transforms and persists contract code, returning
// the code descriptor to record. Code that fails validation is never stored.
func (vm *VM) UploadCode(id types.CodeID, uploader types.Address, kind types.ABI, instantiatePolicy types.Policy, code []byte) (*types.Code, error) {
	transformed, abiSV, err := vm.ValidateAndTransform(code, kind)
	if err != nil {
		return nil, err
	}
	if err := vm.codes.Put(id, transformed); err != nil {
		return nil, err
	}

	c := &types.Code{
		ID:                id,
		Hash:              types.CalcChecksum(transformed),
		ABI:               kind,
		ABISubVersion:     abiSV,
		Uploader:          uploader,
		InstantiatePolicy: instantiatePolicy,
	}
	vm.logger.Info().
		Uint64("code_id", uint64(id)).
		Str("hash", c.Hash.String()).
		Int("size", len(transformed)).
		Msg("code uploaded")
	return c, nil
}

// LoadCode fetches the stored code blob for the given ID.
func (vm *VM) LoadCode(id types.CodeID) ([]byte, error) {
	return vm.codes.Get(id)
}

// Instantiate runs the contract's instantiate entry point, enforcing the
// code's instantiation policy. Returns the result, the gas used and an
// error; gas used is reported even on failure.
func (vm *VM) Instantiate(ctx context.Context, cc CallContext, code *types.Code, instance *types.Instance, request []byte, gasLimit uint64) (*types.ExecutionOk, uint64, error) {
	if err := code.InstantiatePolicy.Enforce(cc.Caller); err != nil {
		return nil, 0, err
	}
	return vm.execute(ctx, cc, code, instance, entryInstantiate, request, nil, gasLimit)
}

// Call runs the contract's call entry point.
func (vm *VM) Call(ctx context.Context, cc CallContext, code *types.Code, instance *types.Instance, request []byte, gasLimit uint64) (*types.ExecutionOk, uint64, error) {
	return vm.execute(ctx, cc, code, instance, entryCall, request, nil, gasLimit)
}

// Query runs the contract's query entry point. Queries are always
// read-only regardless of the call context.
func (vm *VM) Query(ctx context.Context, cc CallContext, code *types.Code, instance *types.Instance, request []byte, gasLimit uint64) (*types.ExecutionOk, uint64, error) {
	cc.ReadOnly = true
	return vm.execute(ctx, cc, code, instance, entryQuery, request, nil, gasLimit)
}

// HandleReply delivers a subcall reply to the contract.
func (vm *VM) HandleReply(ctx context.Context, cc CallContext, code *types.Code, instance *types.Instance, reply types.Reply, gasLimit uint64) (*types.ExecutionOk, uint64, error) {
	return vm.execute(ctx, cc, code, instance, entryHandleReply, nil, &reply, gasLimit)
}

// PreUpgrade runs the old code's pre_upgrade entry point, enforcing the
// instance's upgrade policy.
func (vm *VM) PreUpgrade(ctx context.Context, cc CallContext, code *types.Code, instance *types.Instance, request []byte, gasLimit uint64) (*types.ExecutionOk, uint64, error) {
	if err := instance.UpgradesPolicy.Enforce(cc.Caller); err != nil {
		return nil, 0, err
	}
	return vm.execute(ctx, cc, code, instance, entryPreUpgrade, request, nil, gasLimit)
}

// PostUpgrade runs the new code's post_upgrade entry point, enforcing the
// instance's upgrade policy.
func (vm *VM) PostUpgrade(ctx context.Context, cc CallContext, code *types.Code, instance *types.Instance, request []byte, gasLimit uint64) (*types.ExecutionOk, uint64, error) {
	if err := instance.UpgradesPolicy.Enforce(cc.Caller); err != nil {
		return nil, 0, err
	}
	return vm.execute(ctx, cc, code, instance, entryPostUpgrade, request, nil, gasLimit)
}

type entryKind int

const (
	entryInstantiate entryKind = iota
	entryCall
	entryQuery
	entryHandleReply
	entryPreUpgrade
	entryPostUpgrade
)

// execute dispatches one entry point in a fresh runtime. Infrastructure
// failures before the guest runs report zero guest gas; once the guest is
// dispatched, gas used is always reported.
func (vm *VM) execute(ctx context.Context, cc CallContext, code *types.Code, instance *types.Instance, entry entryKind, request []byte, reply *types.Reply, gasLimit uint64) (*types.ExecutionOk, uint64, error) {
	if cc.SubcallDepth > vm.params.MaxSubcallDepth {
		return nil, 0, types.CallDepthExceededError{Depth: cc.SubcallDepth, MaxDepth: vm.params.MaxSubcallDepth}
	}

	codeBytes, err := vm.codes.Get(code.ID)
	if err != nil {
		return nil, 0, err
	}
	abiImpl, err := abi.New(code.ABI, vm.logger)
	if err != nil {
		return nil, 0, err
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(vm.params.MaxMemoryPages).
		WithCompilationCache(vm.cache).
		WithCloseOnContextDone(true))
	defer rt.Close(ctx)

	ec := &abi.ExecutionContext{
		Params:       &vm.params,
		Code:         code,
		Instance:     instance,
		Caller:       cc.Caller,
		ReadOnly:     cc.ReadOnly,
		CallFormat:   cc.CallFormat,
		Deposited:    cc.Deposited,
		SubcallDepth: cc.SubcallDepth,
		Block:        cc.Block.Info(),
		Stores: &storeProvider{
			keyManager:   vm.keyManager,
			state:        cc.State,
			block:        cc.Block,
			subcallDepth: cc.SubcallDepth,
		},
		Querier: vm.querier,
		Logger: vm.logger.With().
			Uint64("code_id", uint64(code.ID)).
			Uint64("instance_id", uint64(instance.ID)).
			Logger(),
	}

	if err := abiImpl.Link(ctx, ec, rt); err != nil {
		return nil, 0, err
	}
	compiled, err := rt.CompileModule(ctx, codeBytes)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", types.ErrModuleLoadingFailed, err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("contract").
		WithStartFunctions())
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", types.ErrModuleLoadingFailed, err)
	}

	if err := abiImpl.SetGasLimit(ec, gasLimit); err != nil {
		return nil, 0, err
	}

	var result abi.ExecutionResult
	switch entry {
	case entryInstantiate:
		result = abiImpl.Instantiate(ctx, ec, mod, request)
	case entryCall:
		result = abiImpl.Call(ctx, ec, mod, request)
	case entryQuery:
		result = abiImpl.Query(ctx, ec, mod, request)
	case entryHandleReply:
		result = abiImpl.HandleReply(ctx, ec, mod, *reply)
	case entryPreUpgrade:
		result = abiImpl.PreUpgrade(ctx, ec, mod, request)
	case entryPostUpgrade:
		result = abiImpl.PostUpgrade(ctx, ec, mod, request)
	}

	if result.Err != nil {
		ec.Logger.Debug().Err(result.Err).Uint64("gas_used", result.GasUsed).Msg("execution failed")
		return nil, result.GasUsed, result.Err
	}
	if len(result.Ok.Messages) > int(vm.params.MaxSubcallCount) {
		return nil, result.GasUsed, types.TooManySubcallsError{
			Count: uint16(len(result.Ok.Messages)),
			Max:   vm.params.MaxSubcallCount,
		}
	}
	return result.Ok, result.GasUsed, nil
}
