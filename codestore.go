package wasmhost

import (
	"fmt"

	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/contractvm/wasmhost/internal/storage"
	"github.com/contractvm/wasmhost/types"
)

// DefaultCodeCacheSize is the default number of decompressed code blobs
// kept in memory.
const DefaultCodeCacheSize = 128

// CodeStore persists uploaded code blobs. Blobs are snappy-compressed at
// rest and an LRU cache holds recently used decompressed blobs.
type CodeStore struct {
	store storage.Store
	cache *lru.Cache[types.CodeID, []byte]
}

// NewCodeStore creates a code store over the given storage engine.
func NewCodeStore(kv types.KVStore, cacheSize int) (*CodeStore, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCodeCacheSize
	}
	cache, err := lru.New[types.CodeID, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("code store: %w", err)
	}
	store := storage.NewPrefixStore(storage.NewKVStore(kv), []byte(types.ModuleName))
	return &CodeStore{
		store: storage.NewPrefixStore(store, prefixCode),
		cache: cache,
	}, nil
}

// Put stores a code blob under the given ID.
func (cs *CodeStore) Put(id types.CodeID, code []byte) error {
	if err := cs.store.Insert(id.StorageKey(), snappy.Encode(nil, code)); err != nil {
		return fmt.Errorf("code store: %w", err)
	}
	cs.cache.Add(id, code)
	return nil
}

// Get loads the code blob with the given ID.
func (cs *CodeStore) Get(id types.CodeID) ([]byte, error) {
	if code, ok := cs.cache.Get(id); ok {
		return code, nil
	}

	compressed, err := cs.store.Get(id.StorageKey())
	if err != nil {
		return nil, fmt.Errorf("code store: %w", err)
	}
	if compressed == nil {
		return nil, types.ErrCodeNotFound
	}
	code, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompression failed: %v", types.ErrCodeMalformed, err)
	}

	cs.cache.Add(id, code)
	return code, nil
}
