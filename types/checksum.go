package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ChecksumLen is the length of a checksum in bytes.
const ChecksumLen = 32

// Checksum identifies an uploaded contract code blob.
// It is the SHA-256 hash of the stored (transformed) bytecode.
type Checksum [ChecksumLen]byte

// CalcChecksum computes the checksum of the given code.
func CalcChecksum(code []byte) Checksum {
	return Checksum(sha256.Sum256(code))
}

// NewChecksum creates a new Checksum from a byte slice.
// Returns an error if the slice length is not ChecksumLen.
func NewChecksum(b []byte) (Checksum, error) {
	if len(b) != ChecksumLen {
		return Checksum{}, errors.New("got wrong number of bytes for checksum")
	}
	var cs Checksum
	copy(cs[:], b)
	return cs, nil
}

func (cs Checksum) String() string {
	return hex.EncodeToString(cs[:])
}

// Bytes returns the checksum as a byte slice.
func (cs Checksum) Bytes() []byte {
	return cs[:]
}

// MarshalJSON encodes the checksum as a hex string.
func (cs Checksum) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(cs[:]))
}

// UnmarshalJSON parses a hex-encoded string into a checksum.
func (cs *Checksum) UnmarshalJSON(input []byte) error {
	var hexString string
	if err := json.Unmarshal(input, &hexString); err != nil {
		return err
	}
	data, err := hex.DecodeString(hexString)
	if err != nil {
		return err
	}
	if len(data) != ChecksumLen {
		return fmt.Errorf("got wrong number of bytes for checksum")
	}
	copy(cs[:], data)
	return nil
}
