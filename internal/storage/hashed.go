package storage

import (
	"lukechampine.com/blake3"
)

// HashedStore hashes keys before passing them to the inner store. Public
// contract state uses it so raw guest keys never shape the engine keyspace.
type HashedStore struct {
	inner Store
}

// NewHashedStore creates a new hashed store.
func NewHashedStore(inner Store) *HashedStore {
	return &HashedStore{inner: inner}
}

func (s *HashedStore) key(key []byte) []byte {
	h := blake3.Sum256(key)
	return h[:]
}

func (s *HashedStore) Get(key []byte) ([]byte, error) {
	return s.inner.Get(s.key(key))
}

func (s *HashedStore) Insert(key, value []byte) error {
	return s.inner.Insert(s.key(key), value)
}

func (s *HashedStore) Remove(key []byte) error {
	return s.inner.Remove(s.key(key))
}

// Public marks the store as holding plaintext state.
func (s *HashedStore) Public() {}
