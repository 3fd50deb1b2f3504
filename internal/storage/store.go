// Package storage implements the contract state store and its decorators.
//
// Stores compose: a raw store backed by the storage engine is wrapped in
// prefix stores for keyspace isolation and then either a hashed store
// (public state) or a confidential store (encrypted state).
package storage

import (
	"github.com/contractvm/wasmhost/types"
)

// Store is a key-value view of contract state.
type Store interface {
	// Get fetches the entry with the given key, nil if absent.
	Get(key []byte) ([]byte, error)
	// Insert updates the entry with the given key to the given value.
	Insert(key, value []byte) error
	// Remove removes the entry with the given key.
	Remove(key []byte) error
}

// kvStore adapts the embedder-supplied storage engine to a Store.
type kvStore struct {
	kv types.KVStore
}

// NewKVStore wraps a raw storage engine as a Store.
func NewKVStore(kv types.KVStore) Store {
	return &kvStore{kv: kv}
}

func (s *kvStore) Get(key []byte) ([]byte, error) {
	return s.kv.Get(key), nil
}

func (s *kvStore) Insert(key, value []byte) error {
	s.kv.Set(key, value)
	return nil
}

func (s *kvStore) Remove(key []byte) error {
	s.kv.Delete(key)
	return nil
}
