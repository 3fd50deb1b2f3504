package types

// KVStore is the storage engine interface the host operates on. The embedding
// runtime supplies an implementation scoped to the current transaction;
// transactional semantics (commit, rollback) are the embedder's concern.
type KVStore interface {
	// Get returns nil if the key does not exist.
	Get(key []byte) []byte
	// Set stores the value under the key.
	Set(key, value []byte)
	// Delete removes the key.
	Delete(key []byte)
}
