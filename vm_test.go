package wasmhost

import (
	"bytes"
	"context"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/contractvm/wasmhost/internal/wasmtest"
	"github.com/contractvm/wasmhost/types"
)

var (
	testUploader = types.NewAddressForModule("accounts", []byte("uploader"))
	testCaller   = types.NewAddressForModule("accounts", []byte("caller"))
)

func okResult(t *testing.T) []byte {
	t.Helper()
	data, err := cbor.Marshal(types.ExecutionResult{Ok: &types.ExecutionOk{}})
	require.NoError(t, err)
	return data
}

func failResult(t *testing.T, module string, code uint32, message string) []byte {
	t.Helper()
	data, err := cbor.Marshal(types.ExecutionResult{Failed: &types.ExecutionFailed{
		Module:  module,
		Code:    code,
		Message: message,
	}})
	require.NoError(t, err)
	return data
}

func newTestVM(t *testing.T, cfg Config) *VM {
	t.Helper()
	if cfg.KeyManager == nil {
		cfg.KeyManager = NewInMemoryKeyManager([]byte("test master secret"))
	}
	vm, err := NewVM(cfg, NewDBStore(dbm.NewMemDB()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vm.Close(context.Background()) })
	return vm
}

func uploadContract(t *testing.T, vm *VM, id types.CodeID, code []byte) *types.Code {
	t.Helper()
	c, err := vm.UploadCode(id, testUploader, types.ABIContractV1, types.PolicyEveryone(), code)
	require.NoError(t, err)
	return c
}

func testInstance(code *types.Code) *types.Instance {
	return &types.Instance{
		ID:             1,
		CodeID:         code.ID,
		Creator:        testCaller,
		UpgradesPolicy: types.PolicyEveryone(),
	}
}

// callEnv is the per-test state backing a call context.
type callEnv struct {
	db    dbm.DB
	state types.KVStore
	block *BlockContext
}

func newCallEnv() *callEnv {
	db := dbm.NewMemDB()
	return &callEnv{
		db:    db,
		state: NewDBStore(db),
		block: &BlockContext{Round: 42, Epoch: 3, Timestamp: 1756250000},
	}
}

func (e *callEnv) callContext() CallContext {
	return CallContext{
		State:  e.state,
		Block:  e.block,
		Caller: testCaller,
	}
}

// snapshot captures the raw state for inspecting what the contract wrote.
func (e *callEnv) snapshot(t *testing.T) map[string][]byte {
	t.Helper()
	it, err := e.db.Iterator(nil, nil)
	require.NoError(t, err)
	defer it.Close()

	out := make(map[string][]byte)
	for ; it.Valid(); it.Next() {
		out[string(it.Key())] = append([]byte(nil), it.Value()...)
	}
	return out
}

func TestInstantiateSimpleContract(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := uploadContract(t, vm, 1, wasmtest.SimpleContract(okResult(t)))
	env := newCallEnv()

	resp, gasUsed, err := vm.Instantiate(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Zero(t, gasUsed)
}

func TestContractFailureForwarded(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := uploadContract(t, vm, 1, wasmtest.SimpleContract(
		failResult(t, "mycontract", 3, "insufficient funds")))
	env := newCallEnv()

	_, _, err := vm.Call(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	var cerr *types.ContractError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, code.ID, cerr.CodeID)
	require.Equal(t, "mycontract", cerr.Module)
	require.Equal(t, uint32(3), cerr.Code)
	require.Equal(t, "insufficient funds", cerr.Message)
}

func TestStorageInsert(t *testing.T) {
	vm := newTestVM(t, Config{})
	key, value := []byte("hello"), []byte("0123456789")
	code := uploadContract(t, vm, 1, wasmtest.InsertContract(okResult(t), key, value))
	env := newCallEnv()
	instance := testInstance(code)

	resp, gasUsed, err := vm.Call(context.Background(), env.callContext(), code, instance, nil, 1000)
	require.NoError(t, err)
	require.NotNil(t, resp)
	// insert base 20 + 5 key bytes + 10 value bytes
	require.Equal(t, uint64(35), gasUsed)

	provider := &storeProvider{state: env.state, block: env.block}
	store, err := provider.InstanceStore(instance, types.StoreKindPublic)
	require.NoError(t, err)
	stored, err := store.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, stored)

	// The raw keyspace never holds the plain key.
	for rawKey := range env.snapshot(t) {
		require.NotContains(t, rawKey, string(key))
	}
}

func TestStorageInsertOutOfGas(t *testing.T) {
	vm := newTestVM(t, Config{})
	key, value := []byte("hello"), []byte("0123456789")
	code := uploadContract(t, vm, 1, wasmtest.InsertContract(okResult(t), key, value))
	env := newCallEnv()
	instance := testInstance(code)

	// One unit short of the 35 the insert costs.
	_, gasUsed, err := vm.Call(context.Background(), env.callContext(), code, instance, nil, 34)
	require.ErrorIs(t, err, types.OutOfGasError{})
	require.Equal(t, uint64(34), gasUsed)

	// Nothing was written.
	provider := &storeProvider{state: env.state, block: env.block}
	store, err := provider.InstanceStore(instance, types.StoreKindPublic)
	require.NoError(t, err)
	stored, err := store.Get(key)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestStorageGetMissing(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := uploadContract(t, vm, 1, wasmtest.GetContract(okResult(t), []byte("hello")))
	env := newCallEnv()

	resp, gasUsed, err := vm.Call(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	require.NoError(t, err)
	require.NotNil(t, resp)
	// get base 20 + 5 key bytes
	require.Equal(t, uint64(25), gasUsed)
}

func TestStorageGetAfterInsert(t *testing.T) {
	vm := newTestVM(t, Config{})
	key, value := []byte("hello"), []byte("0123456789")
	insert := uploadContract(t, vm, 1, wasmtest.InsertContract(okResult(t), key, value))
	get := uploadContract(t, vm, 2, wasmtest.GetContract(okResult(t), key))
	env := newCallEnv()
	instance := testInstance(insert)

	_, _, err := vm.Call(context.Background(), env.callContext(), insert, instance, nil, 1000)
	require.NoError(t, err)

	// Same instance, different code: reads land on the same keyspace.
	getInstance := *instance
	getInstance.CodeID = get.ID
	_, gasUsed, err := vm.Call(context.Background(), env.callContext(), get, &getInstance, nil, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(25), gasUsed)
}

func TestReadOnlyCallRejectsInsert(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := uploadContract(t, vm, 1, wasmtest.InsertContract(okResult(t), []byte("hello"), []byte("world")))
	env := newCallEnv()

	cc := env.callContext()
	cc.ReadOnly = true
	_, _, err := vm.Call(context.Background(), cc, code, testInstance(code), nil, 1000)
	require.ErrorIs(t, err, types.ErrReadOnly)
}

func TestQueryIsReadOnly(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := uploadContract(t, vm, 1, wasmtest.QueryInsertContract(okResult(t), []byte("hello"), []byte("world")))
	env := newCallEnv()

	_, _, err := vm.Query(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	require.ErrorIs(t, err, types.ErrReadOnly)
}

func TestEnvBlockInfoQuery(t *testing.T) {
	vm := newTestVM(t, Config{})
	query, err := cbor.Marshal(types.QueryRequest{BlockInfo: &struct{}{}})
	require.NoError(t, err)
	code := uploadContract(t, vm, 1, wasmtest.EnvQueryContract(okResult(t), query))
	env := newCallEnv()

	resp, gasUsed, err := vm.Call(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, uint64(10), gasUsed)
}

func TestConfidentialInsert(t *testing.T) {
	vm := newTestVM(t, Config{})
	key, value := []byte("hello"), []byte("0123456789")
	code := uploadContract(t, vm, 1, wasmtest.ConfidentialInsertContract(okResult(t), key, value))
	env := newCallEnv()
	instance := testInstance(code)

	_, gasUsed, err := vm.Call(context.Background(), env.callContext(), code, instance, nil, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(35), gasUsed)

	// Neither the key nor the value appear in the raw state.
	first := env.snapshot(t)
	require.NotEmpty(t, first)
	for rawKey, rawValue := range first {
		require.NotContains(t, rawKey, string(key))
		require.False(t, bytes.Contains(rawValue, value))
	}

	// Decrypts through a fresh store with the same key manager.
	provider := &storeProvider{keyManager: vm.keyManager, state: env.state, block: env.block}
	store, err := provider.InstanceStore(instance, types.StoreKindConfidential)
	require.NoError(t, err)
	stored, err := store.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, stored)

	// Rewriting the same entry in the same block uses a fresh nonce.
	_, _, err = vm.Call(context.Background(), env.callContext(), code, instance, nil, 1000)
	require.NoError(t, err)
	second := env.snapshot(t)
	changed := false
	for rawKey, rawValue := range second {
		if prev, ok := first[rawKey]; ok && !bytes.Equal(prev, rawValue) {
			changed = true
		}
	}
	require.True(t, changed, "ciphertext must change across acquisitions")
}

func TestConfidentialInsertWithoutKeyManager(t *testing.T) {
	vm, err := NewVM(Config{}, NewDBStore(dbm.NewMemDB()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vm.Close(context.Background()) })

	code := uploadContract(t, vm, 1, wasmtest.ConfidentialInsertContract(okResult(t), []byte("k"), []byte("v")))
	env := newCallEnv()

	_, _, err = vm.Call(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	require.ErrorIs(t, err, types.ErrUnsupported)
}

func TestInstantiatePolicy(t *testing.T) {
	vm := newTestVM(t, Config{})
	env := newCallEnv()

	code, err := vm.UploadCode(1, testUploader, types.ABIContractV1, types.PolicyNobody(),
		wasmtest.SimpleContract(okResult(t)))
	require.NoError(t, err)
	_, _, err = vm.Instantiate(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	require.ErrorIs(t, err, types.ErrForbidden)

	code, err = vm.UploadCode(2, testUploader, types.ABIContractV1, types.PolicyAddress(testUploader),
		wasmtest.SimpleContract(okResult(t)))
	require.NoError(t, err)
	_, _, err = vm.Instantiate(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	require.ErrorIs(t, err, types.ErrForbidden)

	cc := env.callContext()
	cc.Caller = testUploader
	_, _, err = vm.Instantiate(context.Background(), cc, code, testInstance(code), nil, 1000)
	require.NoError(t, err)
}

func TestUpgradePolicyEnforced(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := uploadContract(t, vm, 1, wasmtest.SimpleContract(okResult(t)))
	env := newCallEnv()

	instance := testInstance(code)
	instance.UpgradesPolicy = types.PolicyNobody()

	_, _, err := vm.PreUpgrade(context.Background(), env.callContext(), code, instance, nil, 1000)
	require.ErrorIs(t, err, types.ErrForbidden)
	_, _, err = vm.PostUpgrade(context.Background(), env.callContext(), code, instance, nil, 1000)
	require.ErrorIs(t, err, types.ErrForbidden)

	instance.UpgradesPolicy = types.PolicyAddress(testCaller)
	_, _, err = vm.PreUpgrade(context.Background(), env.callContext(), code, instance, nil, 1000)
	require.NoError(t, err)
}

func TestHandleReply(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := uploadContract(t, vm, 1, wasmtest.SimpleContract(okResult(t)))
	env := newCallEnv()

	payload, err := cbor.Marshal("done")
	require.NoError(t, err)
	reply := types.Reply{Call: &types.CallReply{
		ID:     7,
		Result: types.CallResult{Ok: payload},
	}}
	resp, _, err := vm.HandleReply(context.Background(), env.callContext(), code, testInstance(code), reply, 1000)
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestUploadRejectsOversizedCode(t *testing.T) {
	params := types.DefaultParameters()
	params.MaxCodeSize = 16
	vm := newTestVM(t, Config{Params: &params})

	_, err := vm.UploadCode(1, testUploader, types.ABIContractV1, types.PolicyEveryone(),
		wasmtest.SimpleContract(okResult(t)))
	var tooLarge types.CodeTooLargeError
	require.ErrorAs(t, err, &tooLarge)

	_, err = vm.LoadCode(1)
	require.ErrorIs(t, err, types.ErrCodeNotFound)
}

func TestUploadRejectsMalformedCode(t *testing.T) {
	vm := newTestVM(t, Config{})

	_, err := vm.UploadCode(1, testUploader, types.ABIContractV1, types.PolicyEveryone(),
		[]byte("definitely not wasm"))
	require.ErrorIs(t, err, types.ErrCodeMalformed)

	_, err = vm.LoadCode(1)
	require.ErrorIs(t, err, types.ErrCodeNotFound)
}

func TestValidateAndTransformIdempotent(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := wasmtest.SimpleContract(okResult(t))

	first, sv, err := vm.ValidateAndTransform(code, types.ABIContractV1)
	require.NoError(t, err)
	require.Zero(t, sv)
	require.Equal(t, code, first)

	second, _, err := vm.ValidateAndTransform(first, types.ABIContractV1)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLoadCodeRoundTrip(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := wasmtest.SimpleContract(okResult(t))
	uploaded := uploadContract(t, vm, 1, code)
	require.Equal(t, types.CalcChecksum(code), uploaded.Hash)

	loaded, err := vm.LoadCode(1)
	require.NoError(t, err)
	require.Equal(t, code, loaded)

	// Second load hits the cache.
	loaded, err = vm.LoadCode(1)
	require.NoError(t, err)
	require.Equal(t, code, loaded)
}

func TestSubcallDepthCap(t *testing.T) {
	vm := newTestVM(t, Config{})
	code := uploadContract(t, vm, 1, wasmtest.SimpleContract(okResult(t)))
	env := newCallEnv()

	cc := env.callContext()
	cc.SubcallDepth = types.DefaultParameters().MaxSubcallDepth + 1
	_, _, err := vm.Call(context.Background(), cc, code, testInstance(code), nil, 1000)
	var depthErr types.CallDepthExceededError
	require.ErrorAs(t, err, &depthErr)
}

func TestModuleLoadingFailure(t *testing.T) {
	vm := newTestVM(t, Config{})
	m := &wasmtest.Module{
		Imports:   []wasmtest.Import{{Module: "bogus", Name: "fn"}},
		Funcs:     append(wasmtest.AllocatorFuncs(), wasmtest.EntryFuncs(64, "", nil)...),
		MemoryMin: 2,
		HeapBase:  0x10000,
	}
	code := uploadContract(t, vm, 1, m.Build())
	env := newCallEnv()

	_, gasUsed, err := vm.Call(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	require.ErrorIs(t, err, types.ErrModuleLoadingFailed)
	require.Zero(t, gasUsed)
}

func TestResultTooLarge(t *testing.T) {
	params := types.DefaultParameters()
	params.MaxResultSizeBytes = 4
	vm := newTestVM(t, Config{Params: &params})
	code := uploadContract(t, vm, 1, wasmtest.SimpleContract(okResult(t)))
	env := newCallEnv()

	_, _, err := vm.Call(context.Background(), env.callContext(), code, testInstance(code), nil, 1000)
	var tooLarge types.ResultTooLargeError
	require.ErrorAs(t, err, &tooLarge)
}
