package wasmhost

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/contractvm/wasmhost/types"
)

// dbStore adapts a cometbft-db backend to the storage engine interface.
// Backend failures are infrastructure faults of the embedding process, not
// contract-visible conditions, so they panic.
type dbStore struct {
	db dbm.DB
}

// NewDBStore wraps a database as a storage engine. Use dbm.NewMemDB for
// tests and local development.
func NewDBStore(db dbm.DB) types.KVStore {
	return &dbStore{db: db}
}

func (s *dbStore) Get(key []byte) []byte {
	value, err := s.db.Get(key)
	if err != nil {
		panic(fmt.Sprintf("storage engine: get: %v", err))
	}
	return value
}

func (s *dbStore) Set(key, value []byte) {
	if err := s.db.Set(key, value); err != nil {
		panic(fmt.Sprintf("storage engine: set: %v", err))
	}
}

func (s *dbStore) Delete(key []byte) {
	if err := s.db.Delete(key); err != nil {
		panic(fmt.Sprintf("storage engine: delete: %v", err))
	}
}
