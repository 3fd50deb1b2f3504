package types

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// ModuleName is the name under which this module registers itself.
const ModuleName = "contracts"

// CodeID uniquely identifies uploaded contract code.
type CodeID uint64

// StorageKey returns the key under which the code record is stored.
func (c CodeID) StorageKey() []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(c))
	return data[:]
}

// InstanceID uniquely identifies an instantiated contract.
type InstanceID uint64

// StorageKey returns the key under which the instance record is stored.
func (i InstanceID) StorageKey() []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(i))
	return data[:]
}

// ABI selects the application binary interface a contract speaks.
type ABI uint8

const (
	// ABIContractV1 is the version 1 contract ABI.
	ABIContractV1 ABI = 1
)

func (a ABI) String() string {
	switch a {
	case ABIContractV1:
		return "contract-v1"
	default:
		return fmt.Sprintf("[unknown ABI %d]", uint8(a))
	}
}

const (
	addressVersionSize = 1
	addressDataSize    = 20
	// AddressSize is the size of an account address in bytes.
	AddressSize = addressVersionSize + addressDataSize

	addressV0Version       = 0
	addressV0ModuleContext = "runtime-sdk/address: module"
)

// Address is an account address.
type Address [AddressSize]byte

// NewAddressFromBytes creates an address from raw bytes.
func NewAddressFromBytes(data []byte) (Address, error) {
	if len(data) != AddressSize {
		return Address{}, errors.New("malformed address")
	}
	var a Address
	copy(a[:], data)
	return a, nil
}

// NewAddressForModule derives the address owned by a module for the given
// raw identifier. The derivation is domain-separated and deterministic.
func NewAddressForModule(module string, raw []byte) Address {
	h := sha512.New512_256()
	_, _ = h.Write([]byte(addressV0ModuleContext))
	_, _ = h.Write([]byte{addressV0Version})
	_, _ = h.Write([]byte(module))
	_, _ = h.Write(raw)

	var a Address
	a[0] = addressV0Version
	copy(a[addressVersionSize:], h.Sum(nil)[:addressDataSize])
	return a
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// MarshalBinary encodes the address.
func (a Address) MarshalBinary() ([]byte, error) {
	return a[:], nil
}

// UnmarshalBinary decodes the address.
func (a *Address) UnmarshalBinary(data []byte) error {
	addr, err := NewAddressFromBytes(data)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// BaseUnits is a token amount in the given denomination.
type BaseUnits struct {
	Amount       uint64 `cbor:"amount"`
	Denomination string `cbor:"denomination"`
}

// CallFormat is the format of contract call arguments and results.
type CallFormat uint8

const (
	// CallFormatPlain is unencrypted call data.
	CallFormatPlain CallFormat = 0
	// CallFormatEncryptedX25519DeoxysII is end-to-end encrypted call data.
	CallFormatEncryptedX25519DeoxysII CallFormat = 1
)

// StoreKind selects which per-instance store a storage operation targets.
type StoreKind uint32

const (
	// StoreKindPublic is plaintext per-instance storage.
	StoreKindPublic StoreKind = 0
	// StoreKindConfidential is encrypted per-instance storage.
	StoreKindConfidential StoreKind = 1
)

// Prefix returns the store-kind key prefix inside the instance keyspace.
func (sk StoreKind) Prefix() ([]byte, error) {
	switch sk {
	case StoreKindPublic:
		return []byte{0x00}, nil
	case StoreKindConfidential:
		return []byte{0x01}, nil
	default:
		return nil, fmt.Errorf("invalid store kind: %d", uint32(sk))
	}
}

// Code is the stored descriptor of uploaded contract code. Code records are
// append-only; the blob itself lives in the code store under the ID.
type Code struct {
	// ID is the unique code identifier.
	ID CodeID `cbor:"id"`
	// Hash is the checksum of the stored code blob.
	Hash Checksum `cbor:"hash"`
	// ABI is the ABI the code declares.
	ABI ABI `cbor:"abi"`
	// ABISubVersion is the detected ABI sub-version, if any.
	ABISubVersion uint32 `cbor:"abi_sv,omitempty"`
	// Uploader is the address that uploaded the code.
	Uploader Address `cbor:"uploader"`
	// InstantiatePolicy controls who may instantiate this code.
	InstantiatePolicy Policy `cbor:"instantiate_policy"`
}

// Instance is the stored descriptor of a deployed contract instance.
type Instance struct {
	// ID is the unique instance identifier.
	ID InstanceID `cbor:"id"`
	// CodeID is the identifier of the code backing this instance.
	CodeID CodeID `cbor:"code_id"`
	// Creator is the address that created the instance.
	Creator Address `cbor:"creator"`
	// UpgradesPolicy controls who may upgrade this instance.
	UpgradesPolicy Policy `cbor:"upgrades_policy"`
}

// Address returns the account address of the instance itself.
func (i *Instance) Address() Address {
	return InstanceAddress(i.ID)
}

// InstanceAddress derives the account address for the given instance ID.
func InstanceAddress(id InstanceID) Address {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(id))
	return NewAddressForModule(ModuleName, raw[:])
}

// Policy says who is allowed to perform a guarded action.
// Exactly one field is set.
type Policy struct {
	Nobody   *struct{} `cbor:"nobody,omitempty"`
	Address  *Address  `cbor:"address,omitempty"`
	Everyone *struct{} `cbor:"everyone,omitempty"`
}

// PolicyNobody forbids the action for everyone.
func PolicyNobody() Policy { return Policy{Nobody: &struct{}{}} }

// PolicyAddress allows the action only for the given address.
func PolicyAddress(addr Address) Policy { return Policy{Address: &addr} }

// PolicyEveryone allows the action for anyone.
func PolicyEveryone() Policy { return Policy{Everyone: &struct{}{}} }

// Enforce checks whether the policy allows the action for the given address.
func (p *Policy) Enforce(authorizer Address) error {
	switch {
	case p.Nobody != nil:
		return ErrForbidden
	case p.Address != nil:
		if *p.Address != authorizer {
			return ErrForbidden
		}
		return nil
	case p.Everyone != nil:
		return nil
	default:
		return ErrForbidden
	}
}
