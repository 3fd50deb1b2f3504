package keymanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKeyPairID(t *testing.T) {
	id1 := GetKeyPairID([]byte("context"), []byte("instance-1"))
	id2 := GetKeyPairID([]byte("context"), []byte("instance-2"))

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, id1, GetKeyPairID([]byte("context"), []byte("instance-1")))
}

func TestInMemoryDerivation(t *testing.T) {
	km := NewInMemory([]byte("master secret"))

	id := GetKeyPairID([]byte("ctx"))
	kp1, err := km.GetOrCreateKeys(id)
	require.NoError(t, err)
	kp2, err := km.GetOrCreateKeys(id)
	require.NoError(t, err)
	assert.Equal(t, kp1.StateKey, kp2.StateKey)

	other, err := km.GetOrCreateKeys(GetKeyPairID([]byte("other")))
	require.NoError(t, err)
	assert.NotEqual(t, kp1.StateKey, other.StateKey)

	km2 := NewInMemory([]byte("different master"))
	kp3, err := km2.GetOrCreateKeys(id)
	require.NoError(t, err)
	assert.NotEqual(t, kp1.StateKey, kp3.StateKey)
}
