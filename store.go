package wasmhost

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/contractvm/wasmhost/internal/keymanager"
	"github.com/contractvm/wasmhost/internal/storage"
	"github.com/contractvm/wasmhost/types"
)

// confidentialStoreKeyPairIDContext domain-separates the key pair IDs used
// for confidential contract state.
var confidentialStoreKeyPairIDContext = []byte("wasmhost/contracts: state")

// State keyspace prefixes under the module prefix.
var (
	prefixCode          = []byte{0x01}
	prefixInstanceState = []byte{0x02}
)

// ExecutionMode distinguishes how a block's transactions are being run.
// It feeds confidential nonce derivation so check, simulate and execute
// passes never share value nonces.
type ExecutionMode uint8

const (
	ExecutionModeExecute  ExecutionMode = 0
	ExecutionModeCheck    ExecutionMode = 1
	ExecutionModeSimulate ExecutionMode = 2
)

// BlockContext carries the block-scoped inputs of contract execution. The
// confidential instance counter is the only state shared between calls in a
// block; it is incremented atomically on every confidential store
// acquisition and never reset mid-block.
type BlockContext struct {
	// Round is the block round.
	Round uint64
	// Epoch is the consensus epoch of the block.
	Epoch uint64
	// Timestamp is the block timestamp in seconds.
	Timestamp uint64
	// Mode is the execution mode of this pass over the block.
	Mode ExecutionMode

	confidentialInstanceCount atomic.Uint64
}

// Info returns the guest-visible view of the block.
func (bc *BlockContext) Info() types.BlockInfo {
	return types.BlockInfo{
		Round:     bc.Round,
		Epoch:     bc.Epoch,
		Timestamp: bc.Timestamp,
	}
}

// nextConfidentialInstance reserves this block's next confidential store
// instance number.
func (bc *BlockContext) nextConfidentialInstance() uint64 {
	return bc.confidentialInstanceCount.Add(1) - 1
}

// storeProvider builds per-instance stores for one contract call.
type storeProvider struct {
	keyManager   keymanager.KeyManager
	state        types.KVStore
	block        *BlockContext
	subcallDepth uint16
}

// instanceRawStore composes the raw keyspace of an instance: module prefix,
// instance-state prefix, instance ID, store kind.
func (p *storeProvider) instanceRawStore(instance *types.Instance, kind types.StoreKind) (storage.Store, error) {
	kindPrefix, err := kind.Prefix()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	store := storage.NewPrefixStore(storage.NewKVStore(p.state), []byte(types.ModuleName))
	store = storage.NewPrefixStore(store, prefixInstanceState)
	store = storage.NewPrefixStore(store, instance.ID.StorageKey())
	return storage.NewPrefixStore(store, kindPrefix), nil
}

// InstanceStore builds the store for the given instance and kind. Public
// state is key-hashed, confidential state is encrypted under the instance's
// state key from the key manager.
func (p *storeProvider) InstanceStore(instance *types.Instance, kind types.StoreKind) (storage.Store, error) {
	raw, err := p.instanceRawStore(instance, kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case types.StoreKindPublic:
		return storage.NewHashedStore(raw), nil

	case types.StoreKindConfidential:
		if p.keyManager == nil {
			return nil, fmt.Errorf("%w: no key manager available", types.ErrUnsupported)
		}
		kid := keymanager.GetKeyPairID(confidentialStoreKeyPairIDContext, instance.ID.StorageKey())
		kp, err := p.keyManager.GetOrCreateKeys(kid)
		if err != nil {
			return nil, fmt.Errorf("confidential store: %w", err)
		}
		return storage.NewConfidentialStore(raw, [32]byte(kp.StateKey), p.confidentialValueContext())

	default:
		return nil, fmt.Errorf("%w: invalid store kind: %d", types.ErrInvalidArgument, uint32(kind))
	}
}

// confidentialValueContext assembles the per-acquisition nonce derivation
// context. The (round, mode, depth, counter) tuple is unique for every
// acquisition within a block.
func (p *storeProvider) confidentialValueContext() [][]byte {
	var round, count [8]byte
	var depth [2]byte
	binary.LittleEndian.PutUint64(round[:], p.block.Round)
	binary.LittleEndian.PutUint16(depth[:], p.subcallDepth)
	binary.LittleEndian.PutUint64(count[:], p.block.nextConfidentialInstance())
	return [][]byte{round[:], {byte(p.block.Mode)}, depth[:], count[:]}
}
