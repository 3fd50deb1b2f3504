package types

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumJSONRoundTrip(t *testing.T) {
	cs := CalcChecksum([]byte("contract code"))
	data, err := cs.MarshalJSON()
	require.NoError(t, err)

	var back Checksum
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, cs, back)

	var bad Checksum
	assert.Error(t, bad.UnmarshalJSON([]byte(`"abcd"`)))
}

func TestInstanceAddress(t *testing.T) {
	a1 := InstanceAddress(1)
	a2 := InstanceAddress(2)

	assert.NotEqual(t, a1, a2)
	assert.Equal(t, a1, InstanceAddress(1), "derivation must be deterministic")
	assert.EqualValues(t, 0, a1[0], "address version byte")

	inst := Instance{ID: 1}
	assert.Equal(t, a1, inst.Address())
}

func TestPolicyEnforce(t *testing.T) {
	alice := NewAddressForModule("test", []byte("alice"))
	bob := NewAddressForModule("test", []byte("bob"))

	nobody := PolicyNobody()
	assert.ErrorIs(t, nobody.Enforce(alice), ErrForbidden)

	everyone := PolicyEveryone()
	assert.NoError(t, everyone.Enforce(alice))
	assert.NoError(t, everyone.Enforce(bob))

	only := PolicyAddress(alice)
	assert.NoError(t, only.Enforce(alice))
	assert.ErrorIs(t, only.Enforce(bob), ErrForbidden)

	var zero Policy
	assert.ErrorIs(t, zero.Enforce(alice), ErrForbidden)
}

func TestExecutionResultWireFormat(t *testing.T) {
	okData, err := cbor.Marshal("hello")
	require.NoError(t, err)

	res := ExecutionResult{Ok: &ExecutionOk{Data: okData}}
	enc, err := cbor.Marshal(res)
	require.NoError(t, err)

	var dec ExecutionResult
	require.NoError(t, cbor.Unmarshal(enc, &dec))
	require.NotNil(t, dec.Ok)
	assert.Nil(t, dec.Failed)
	assert.Equal(t, RawValue(okData), dec.Ok.Data)

	fail := ExecutionResult{Failed: &ExecutionFailed{Module: "mymod", Code: 3, Message: "boom"}}
	enc, err = cbor.Marshal(fail)
	require.NoError(t, err)
	require.NoError(t, cbor.Unmarshal(enc, &dec))
	assert.Nil(t, dec.Ok)
	require.NotNil(t, dec.Failed)
	assert.Equal(t, uint32(3), dec.Failed.Code)
}

func TestContractErrorModuleName(t *testing.T) {
	err := NewContractError(42, "mymod", 7, "boom")
	assert.Equal(t, "contracts.42.mymod", err.ModuleName())
	assert.Equal(t, "boom", err.Error())

	anon := NewContractError(42, "", 1, "x")
	assert.Equal(t, "contracts.42", anon.ModuleName())
}

func TestGasReport(t *testing.T) {
	r := NewGasReport(100, 40)
	assert.EqualValues(t, 60, r.Remaining)

	// used can never exceed the budget in a report
	r = NewGasReport(100, 150)
	assert.EqualValues(t, 100, r.Used)
	assert.EqualValues(t, 0, r.Remaining)
}

func TestStoreKindPrefix(t *testing.T) {
	pub, err := StoreKindPublic.Prefix()
	require.NoError(t, err)
	conf, err := StoreKindConfidential.Prefix()
	require.NoError(t, err)
	assert.NotEqual(t, pub, conf)

	_, err = StoreKind(99).Prefix()
	assert.Error(t, err)
}
