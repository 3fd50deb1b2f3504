// Package keymanager defines the key service contract backing confidential
// contract state.
package keymanager

import (
	"crypto/hmac"
	"crypto/sha512"
	"errors"
)

// StateKeySize is the size of a state encryption key in bytes.
const StateKeySize = 32

// StateKey is a symmetric key for encrypting contract state.
type StateKey [StateKeySize]byte

// KeyPairID identifies a key pair held by the key manager.
type KeyPairID [32]byte

// GetKeyPairID derives a key pair ID by hashing the given context pieces.
func GetKeyPairID(context ...[]byte) KeyPairID {
	h := sha512.New512_256()
	for _, c := range context {
		_, _ = h.Write(c)
	}
	var id KeyPairID
	copy(id[:], h.Sum(nil))
	return id
}

// KeyPair is the key material returned by the key manager.
type KeyPair struct {
	// StateKey encrypts contract state.
	StateKey StateKey
}

// ErrUnavailable is returned when the key manager cannot serve the request.
// Callers must treat it as fatal for the operation; there is no plaintext
// fallback.
var ErrUnavailable = errors.New("key manager unavailable")

// KeyManager provides long-term keys for confidential state. Implementations
// are supplied by the embedding runtime.
type KeyManager interface {
	// GetOrCreateKeys returns the key pair for the given ID, creating it
	// on first use.
	GetOrCreateKeys(id KeyPairID) (*KeyPair, error)
}

// InMemory is a key manager deriving keys from a master secret. Meant for
// tests and local development only.
type InMemory struct {
	master []byte
}

var kdfContext = []byte("wasmhost/keymanager: state key")

// NewInMemory creates an in-memory key manager from a master secret.
func NewInMemory(master []byte) *InMemory {
	m := make([]byte, len(master))
	copy(m, master)
	return &InMemory{master: m}
}

// GetOrCreateKeys derives the key pair for the given ID.
func (km *InMemory) GetOrCreateKeys(id KeyPairID) (*KeyPair, error) {
	kdf := hmac.New(sha512.New512_256, km.master)
	_, _ = kdf.Write(kdfContext)
	_, _ = kdf.Write(id[:])

	var kp KeyPair
	copy(kp.StateKey[:], kdf.Sum(nil))
	return &kp, nil
}
