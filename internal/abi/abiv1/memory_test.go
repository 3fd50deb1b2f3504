package abiv1

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/contractvm/wasmhost/internal/wasmtest"
)

func instantiateTestModule(t *testing.T) api.Module {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = rt.Close(ctx) })

	mod, err := rt.Instantiate(ctx, wasmtest.SimpleContract(okResult(t)))
	require.NoError(t, err)
	return mod
}

func TestAllocateAndCopyRoundTrip(t *testing.T) {
	ctx := context.Background()
	mod := instantiateTestModule(t)

	data := []byte("some host payload")
	region, err := allocateAndCopy(ctx, mod, data)
	require.NoError(t, err)
	require.NotZero(t, region.Offset)
	require.Equal(t, uint32(len(data)), region.Length)

	out, err := region.Read(mod.Memory())
	require.NoError(t, err)
	require.Equal(t, data, out)

	owned, err := IntoOwnedBuffer(ctx, mod, region)
	require.NoError(t, err)
	require.Equal(t, data, owned)
}

func TestAllocationsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	mod := instantiateTestModule(t)

	first, err := allocateAndCopy(ctx, mod, []byte("first"))
	require.NoError(t, err)
	second, err := allocateAndCopy(ctx, mod, []byte("second"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, second.Offset, first.Offset+first.Length)
}

func TestIntoOwnedBufferNullOffset(t *testing.T) {
	mod := instantiateTestModule(t)
	_, err := IntoOwnedBuffer(context.Background(), mod, Region{Offset: 0, Length: 4})
	require.Error(t, err)
}

func TestRegionReadOutOfBounds(t *testing.T) {
	mod := instantiateTestModule(t)
	_, err := Region{Offset: 1 << 30, Length: 8}.Read(mod.Memory())
	require.Error(t, err)
}

func TestRegionWriteSizeMismatch(t *testing.T) {
	mod := instantiateTestModule(t)
	err := Region{Offset: 16, Length: 4}.Write(mod.Memory(), []byte("longer data"))
	require.Error(t, err)
}

func TestReadRegionStruct(t *testing.T) {
	mod := instantiateTestModule(t)
	mem := mod.Memory()

	require.True(t, mem.WriteUint32Le(100, 1234))
	require.True(t, mem.WriteUint32Le(104, 17))
	region, err := readRegionStruct(mem, 100)
	require.NoError(t, err)
	require.Equal(t, Region{Offset: 1234, Length: 17}, region)

	_, err = readRegionStruct(mem, mem.Size()-4)
	require.Error(t, err)
}
