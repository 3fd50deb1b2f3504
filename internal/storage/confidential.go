package storage

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/oasisprotocol/deoxysii"
)

// nonceKeyKDFContext domain-separates the derivation of the key-nonce key.
var nonceKeyKDFContext = []byte("wasmhost/confidential-store: nonce key")

var (
	// ErrCorruptKey is returned for stored keys too short to unpack.
	ErrCorruptKey = errors.New("confidential store: corrupt key")
	// ErrCorruptValue is returned for stored values too short to unpack.
	ErrCorruptValue = errors.New("confidential store: corrupt value")
)

// ConfidentialStore encrypts all keys and values with Deoxys-II before they
// reach the inner store.
//
// Key nonces are derived deterministically from the plaintext key so lookups
// work: nonce = Trunc(NonceSize, H(nonceKey || plainKey)) with nonceKey
// derived from the state key. Value nonces must be unique instead, so they
// mix an instantiation-unique prefix with a store-local counter:
// nonce = Trunc(NonceSize, H(valuePrefix || counter)). Entries are stored as
// nonce || ciphertext.
type ConfidentialStore struct {
	inner Store
	aead  cipher.AEAD

	nonceKey     []byte
	valuePrefix  []byte
	nonceCounter uint64
}

// NewConfidentialStore creates a confidential store over the inner store.
// valueContext must be unique per store instantiation within a block; the
// caller assembles it from environmental data (round, subcall depth, the
// per-block instance counter).
func NewConfidentialStore(inner Store, stateKey [deoxysii.KeySize]byte, valueContext [][]byte) (*ConfidentialStore, error) {
	aead, err := deoxysii.New(stateKey[:])
	if err != nil {
		return nil, fmt.Errorf("confidential store: %w", err)
	}

	kdf := hmac.New(sha512.New512_256, nonceKeyKDFContext)
	_, _ = kdf.Write(stateKey[:])

	var prefix []byte
	for _, c := range valueContext {
		prefix = append(prefix, c...)
	}

	return &ConfidentialStore{
		inner:       inner,
		aead:        aead,
		nonceKey:    kdf.Sum(nil),
		valuePrefix: prefix,
	}, nil
}

// makeKey derives the deterministic stored key for a plaintext key.
func (s *ConfidentialStore) makeKey(plainKey []byte) []byte {
	h := sha512.New512_256()
	_, _ = h.Write(s.nonceKey)
	_, _ = h.Write(plainKey)
	nonce := h.Sum(nil)[:deoxysii.NonceSize]

	return s.pack(nonce, s.aead.Seal(nil, nonce, plainKey, nil))
}

// makeValue encrypts a value under a fresh counter-derived nonce.
func (s *ConfidentialStore) makeValue(plainValue []byte) []byte {
	s.nonceCounter++
	var counter [8]byte
	binary.LittleEndian.PutUint64(counter[:], s.nonceCounter)

	h := sha512.New512_256()
	_, _ = h.Write(s.valuePrefix)
	_, _ = h.Write(counter[:])
	nonce := h.Sum(nil)[:deoxysii.NonceSize]

	return s.pack(nonce, s.aead.Seal(nil, nonce, plainValue, nil))
}

func (s *ConfidentialStore) pack(nonce, data []byte) []byte {
	out := make([]byte, 0, len(nonce)+len(data))
	out = append(out, nonce...)
	return append(out, data...)
}

func (s *ConfidentialStore) openValue(raw []byte) ([]byte, error) {
	if len(raw) <= deoxysii.NonceSize {
		return nil, ErrCorruptValue
	}
	plain, err := s.aead.Open(nil, raw[:deoxysii.NonceSize], raw[deoxysii.NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("confidential store: decryption failure: %w", err)
	}
	return plain, nil
}

func (s *ConfidentialStore) Get(key []byte) ([]byte, error) {
	raw, err := s.inner.Get(s.makeKey(key))
	if err != nil || raw == nil {
		return nil, err
	}
	return s.openValue(raw)
}

func (s *ConfidentialStore) Insert(key, value []byte) error {
	return s.inner.Insert(s.makeKey(key), s.makeValue(value))
}

func (s *ConfidentialStore) Remove(key []byte) error {
	return s.inner.Remove(s.makeKey(key))
}

// Confidential marks the store as holding encrypted state.
func (s *ConfidentialStore) Confidential() {}
