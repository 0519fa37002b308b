package bitfield_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corelane/coreindexer/pkg/bitfield"
	"github.com/corelane/coreindexer/pkg/storage"
	"github.com/corelane/coreindexer/pkg/storage/memory"
)

func TestSetGetRoundTripWithoutFlush(t *testing.T) {
	ctx := context.Background()
	factory := memory.Factory()
	store, err := factory("core-a")
	require.NoError(t, err)

	bf, err := bitfield.Open(ctx, store)
	require.NoError(t, err)

	require.False(t, bf.Get(0))
	bf.Set(0, true)
	require.True(t, bf.Get(0))
}

func TestFlushAndReopenPreservesState(t *testing.T) {
	ctx := context.Background()
	factory := memory.Factory()
	store, err := factory("core-b")
	require.NoError(t, err)

	bf, err := bitfield.Open(ctx, store)
	require.NoError(t, err)

	positions := []uint64{0, 1, 31, 32, 32767, 32768, 65535, 100000}
	for _, i := range positions {
		bf.Set(i, true)
	}
	require.NoError(t, bf.Flush(ctx))
	require.NoError(t, bf.Close())

	reopened, err := bitfield.Open(ctx, store)
	require.NoError(t, err)
	for _, i := range positions {
		require.True(t, reopened.Get(i), "position %d should be set after reopen", i)
	}
	require.False(t, reopened.Get(2))
	require.False(t, reopened.Get(99999))
}

func TestSetFalseOnUntouchedPageDoesNotAllocate(t *testing.T) {
	ctx := context.Background()
	factory := memory.Factory()
	store, err := factory("core-c")
	require.NoError(t, err)

	bf, err := bitfield.Open(ctx, store)
	require.NoError(t, err)

	bf.Set(500000, false)
	require.NoError(t, bf.Flush(ctx))

	_, err = store.Stat(ctx)
	require.ErrorIs(t, err, storage.ErrNotExist)
}

func TestOpenOnEmptyStorageYieldsAllUnset(t *testing.T) {
	ctx := context.Background()
	factory := memory.Factory()
	store, err := factory("core-d")
	require.NoError(t, err)

	bf, err := bitfield.Open(ctx, store)
	require.NoError(t, err)
	require.False(t, bf.Get(0))
	require.False(t, bf.Get(1<<20))
}

func TestUnlinkDeletesBackingState(t *testing.T) {
	ctx := context.Background()
	factory := memory.Factory()
	store, err := factory("core-e")
	require.NoError(t, err)

	bf, err := bitfield.Open(ctx, store)
	require.NoError(t, err)
	bf.Set(5, true)
	require.NoError(t, bf.Flush(ctx))
	require.NoError(t, bf.Unlink(ctx))

	reopened, err := bitfield.Open(ctx, store)
	require.NoError(t, err)
	require.False(t, reopened.Get(5))
}
