package abiv1

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	abipkg "github.com/contractvm/wasmhost/internal/abi"
	"github.com/contractvm/wasmhost/types"
)

// Signature kinds accepted by crypto.signature_verify.
const (
	sigKindEd25519   = 0
	sigKindSecp256k1 = 1
	sigKindSr25519   = 2
)

// ecdsaRecoverInputSize is hash (32) || r (32) || s (32) || v (1).
const ecdsaRecoverInputSize = 97

// ecdsaRecoverOutputSize is the uncompressed public key size.
const ecdsaRecoverOutputSize = 65

// linkCrypto registers the "crypto" host module:
//
//	ecdsa_recover(input_offset, input_length, output_offset, output_length)
//	signature_verify(kind, key.., context.., message.., signature..) -> 0 ok / 1 fail
func (a *V1) linkCrypto(ctx context.Context, ec *abipkg.ExecutionContext, rt wazero.Runtime) error {
	builder := rt.NewHostModuleBuilder("crypto")

	builder.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(
		func(callCtx context.Context, mod api.Module, stack []uint64) {
			requireContext(ec)
			chargeGas(ec, ec.Params.GasCosts.WasmCryptoECDSARecover)

			input := readRegionArg(ec, mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			dst := RegionFromArgs(api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
			if dst.Length != ecdsaRecoverOutputSize {
				trap(fmt.Errorf("%w: bad recovery output region", types.ErrExecutionFailed))
			}

			// Recovery failures are reported in-band as all zeroes.
			key, err := ecdsaRecover(input)
			if err != nil {
				key = [ecdsaRecoverOutputSize]byte{}
			}
			if err := dst.Write(mod.Memory(), key[:]); err != nil {
				trap(err)
			}
		},
	), []api.ValueType{i32, i32, i32, i32}, nil).Export("ecdsa_recover")

	builder.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(
		func(callCtx context.Context, mod api.Module, stack []uint64) {
			requireContext(ec)

			kind := api.DecodeU32(stack[0])
			switch kind {
			case sigKindEd25519:
				chargeGas(ec, ec.Params.GasCosts.WasmCryptoSignatureVerifyEd25519)
			case sigKindSecp256k1:
				chargeGas(ec, ec.Params.GasCosts.WasmCryptoSignatureVerifySecp256k1)
			case sigKindSr25519:
				hostAbort(ec, fmt.Errorf("%w: sr25519 signatures", types.ErrUnsupported))
			default:
				hostAbort(ec, fmt.Errorf("%w: unknown signature kind %d", types.ErrInvalidArgument, kind))
			}

			if api.DecodeU32(stack[6]) > ec.Params.MaxCryptoSignatureVerifyMessageSizeBytes {
				hostAbort(ec, fmt.Errorf("%w: message too large (size: %d max: %d)",
					types.ErrInvalidArgument, api.DecodeU32(stack[6]), ec.Params.MaxCryptoSignatureVerifyMessageSizeBytes))
			}

			mem := mod.Memory()
			key := readRegionArg(ec, mem, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			message := readRegionArg(ec, mem, api.DecodeU32(stack[5]), api.DecodeU32(stack[6]))
			signature := readRegionArg(ec, mem, api.DecodeU32(stack[7]), api.DecodeU32(stack[8]))

			var ok bool
			switch kind {
			case sigKindEd25519:
				ok = len(key) == ed25519.PublicKeySize &&
					len(signature) == ed25519.SignatureSize &&
					ed25519.Verify(ed25519.PublicKey(key), message, signature)
			case sigKindSecp256k1:
				ok = secp256k1Verify(key, message, signature)
			}

			if ok {
				stack[0] = 0
			} else {
				stack[0] = 1
			}
		},
	), []api.ValueType{i32, i32, i32, i32, i32, i32, i32, i32, i32}, []api.ValueType{i32}).Export("signature_verify")

	_, err := builder.Instantiate(ctx)
	return err
}

// ecdsaRecover recovers the uncompressed secp256k1 public key that produced
// the given signature. Input layout: hash (32) || r (32) || s (32) || v (1),
// with recovery IDs 0 and 1 only and high-s signatures rejected.
func ecdsaRecover(input []byte) ([ecdsaRecoverOutputSize]byte, error) {
	var out [ecdsaRecoverOutputSize]byte
	if len(input) != ecdsaRecoverInputSize {
		return out, fmt.Errorf("malformed recovery input")
	}
	hash := input[0:32]
	r := input[32:64]
	s := input[64:96]
	v := input[96]
	if v > 1 {
		return out, fmt.Errorf("malformed recovery id")
	}

	var sScalar secp256k1.ModNScalar
	if overflow := sScalar.SetByteSlice(s); overflow {
		return out, fmt.Errorf("malformed signature")
	}
	if sScalar.IsOverHalfOrder() {
		return out, fmt.Errorf("malformed signature")
	}

	sig := make([]byte, 65)
	sig[0] = 27 + v
	copy(sig[1:33], r)
	copy(sig[33:65], s)

	key, _, err := secpecdsa.RecoverCompact(sig, hash)
	if err != nil {
		return out, fmt.Errorf("recovery failed: %w", err)
	}
	copy(out[:], key.SerializeUncompressed())
	return out, nil
}

// secp256k1Verify verifies a DER-encoded ECDSA signature over the SHA-256
// digest of the message. The public key is in SEC1 form.
func secp256k1Verify(key, message, signature []byte) bool {
	pub, err := secp256k1.ParsePubKey(key)
	if err != nil {
		return false
	}
	sig, err := secpecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pub)
}
