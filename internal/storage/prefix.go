package storage

// PrefixStore narrows a store to the keyspace under a fixed prefix.
type PrefixStore struct {
	inner  Store
	prefix []byte
}

// NewPrefixStore creates a new prefix store.
func NewPrefixStore(inner Store, prefix []byte) *PrefixStore {
	return &PrefixStore{inner: inner, prefix: prefix}
}

func (s *PrefixStore) key(key []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(key))
	out = append(out, s.prefix...)
	return append(out, key...)
}

func (s *PrefixStore) Get(key []byte) ([]byte, error) {
	return s.inner.Get(s.key(key))
}

func (s *PrefixStore) Insert(key, value []byte) error {
	return s.inner.Insert(s.key(key), value)
}

func (s *PrefixStore) Remove(key []byte) error {
	return s.inner.Remove(s.key(key))
}
