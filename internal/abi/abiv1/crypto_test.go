package abiv1

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/stretchr/testify/require"
)

// secp256k1 group order, for constructing high-s signatures.
var secpOrder, _ = new(big.Int).SetString(
	"fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

func recoverInput(t *testing.T, hash, compact []byte) []byte {
	t.Helper()
	require.Len(t, compact, 65)
	v := compact[0] - 27
	require.LessOrEqual(t, v, byte(1))

	input := make([]byte, 0, ecdsaRecoverInputSize)
	input = append(input, hash...)
	input = append(input, compact[1:65]...)
	return append(input, v)
}

func TestECDSARecover(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	hash := sha256.Sum256([]byte("recover me"))

	compact := secpecdsa.SignCompact(priv, hash[:], false)
	input := recoverInput(t, hash[:], compact)

	key, err := ecdsaRecover(input)
	require.NoError(t, err)
	require.Equal(t, priv.PubKey().SerializeUncompressed(), key[:])
}

func TestECDSARecoverMalformed(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	hash := sha256.Sum256([]byte("recover me"))
	compact := secpecdsa.SignCompact(priv, hash[:], false)
	good := recoverInput(t, hash[:], compact)

	t.Run("BadLength", func(t *testing.T) {
		_, err := ecdsaRecover(good[:50])
		require.Error(t, err)
	})

	t.Run("BadRecoveryID", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[96] = 2
		_, err := ecdsaRecover(bad)
		require.Error(t, err)
	})

	t.Run("HighS", func(t *testing.T) {
		s := new(big.Int).SetBytes(good[64:96])
		highS := new(big.Int).Sub(secpOrder, s)
		bad := append([]byte(nil), good...)
		highS.FillBytes(bad[64:96])
		_, err := ecdsaRecover(bad)
		require.Error(t, err)
	})
}

func TestSecp256k1Verify(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	message := []byte("signed message")
	digest := sha256.Sum256(message)
	sig := secpecdsa.Sign(priv, digest[:])

	key := priv.PubKey().SerializeCompressed()
	require.True(t, secp256k1Verify(key, message, sig.Serialize()))
	require.False(t, secp256k1Verify(key, []byte("other message"), sig.Serialize()))
	require.False(t, secp256k1Verify(nil, message, sig.Serialize()))
	require.False(t, secp256k1Verify(key, message, []byte("not a signature")))
}

func TestEd25519Verify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	message := []byte("signed message")
	sig := ed25519.Sign(priv, message)

	require.True(t, ed25519.Verify(pub, message, sig))
	require.False(t, ed25519.Verify(pub, []byte("other message"), sig))
}
