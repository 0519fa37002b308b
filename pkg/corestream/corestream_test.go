package corestream_test

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corelane/coreindexer/pkg/coreio"
	"github.com/corelane/coreindexer/pkg/coreio/memcore"
	"github.com/corelane/coreindexer/pkg/corestream"
	"github.com/corelane/coreindexer/pkg/storage/memory"
)

func testKey(seed byte) coreio.Key {
	var k coreio.Key
	sum := sha256.Sum256([]byte{seed})
	copy(k[:], sum[:])
	return k
}

func drainN(t *testing.T, s *corestream.CoreIndexStream, n int, timeout time.Duration) []coreio.Entry {
	t.Helper()
	out := make([]coreio.Entry, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case e := <-s.Out():
			out = append(out, e)
		case <-deadline:
			t.Fatalf("timed out waiting for entries: got %d of %d", len(out), n)
		}
	}
	return out
}

func TestEmitsAllPreAppendedBlocksInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core := memcore.New(testKey(1))
	for i := 0; i < 10; i++ {
		core.Append([]byte{byte(i)})
	}

	s, err := corestream.Open(ctx, core, memory.Factory(), corestream.Options{})
	require.NoError(t, err)

	entries := drainN(t, s, 10, 2*time.Second)
	for i, e := range entries {
		require.Equal(t, uint64(i), e.Index)
		require.Equal(t, []byte{byte(i)}, e.Block)
	}

	require.NoError(t, s.Destroy(ctx))
}

func TestSkipsAlreadyIndexedOnReopen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := testKey(2)
	factory := memory.Factory()

	core := memcore.New(key)
	for i := 0; i < 5; i++ {
		core.Append([]byte{byte(i)})
	}

	s, err := corestream.Open(ctx, core, factory, corestream.Options{})
	require.NoError(t, err)
	entries := drainN(t, s, 5, 2*time.Second)
	for _, e := range entries {
		s.SetIndexed(e.Index)
	}
	require.NoError(t, s.Destroy(ctx))

	s2, err := corestream.Open(ctx, core, factory, corestream.Options{})
	require.NoError(t, err)
	require.Eventually(t, s2.Drained, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, s2.Remaining())
	require.NoError(t, s2.Destroy(ctx))
}

func TestCloseBeforeSetIndexedReemitsOnReopen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := testKey(3)
	factory := memory.Factory()

	core := memcore.New(key)
	core.Append([]byte("a"))
	core.Append([]byte("b"))

	s, err := corestream.Open(ctx, core, factory, corestream.Options{})
	require.NoError(t, err)
	entries := drainN(t, s, 2, 2*time.Second)
	require.NoError(t, s.Destroy(ctx)) // never called SetIndexed

	s2, err := corestream.Open(ctx, core, factory, corestream.Options{})
	require.NoError(t, err)
	reemitted := drainN(t, s2, 2, 2*time.Second)
	require.ElementsMatch(t,
		[]uint64{entries[0].Index, entries[1].Index},
		[]uint64{reemitted[0].Index, reemitted[1].Index},
	)
	require.NoError(t, s2.Destroy(ctx))
}

func TestReindexReemitsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := testKey(4)
	factory := memory.Factory()

	core := memcore.New(key)
	core.Append([]byte("x"))
	core.Append([]byte("y"))

	s, err := corestream.Open(ctx, core, factory, corestream.Options{})
	require.NoError(t, err)
	entries := drainN(t, s, 2, 2*time.Second)
	for _, e := range entries {
		s.SetIndexed(e.Index)
	}
	require.NoError(t, s.Destroy(ctx))

	s2, err := corestream.Open(ctx, core, factory, corestream.Options{Reindex: true})
	require.NoError(t, err)
	reemitted := drainN(t, s2, 2, 2*time.Second)
	require.Len(t, reemitted, 2)
	require.NoError(t, s2.Destroy(ctx))
}

func TestSparseDownloadsEmitOnlyPresentBlocksThenTheRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core := memcore.New(testKey(5))
	for i := 0; i < 20; i++ {
		if i >= 5 && i < 10 {
			core.Append([]byte{byte(i)})
		} else {
			core.AppendAbsent([]byte{byte(i)})
		}
	}

	s, err := corestream.Open(ctx, core, memory.Factory(), corestream.Options{})
	require.NoError(t, err)

	first := drainN(t, s, 5, 2*time.Second)
	seen := map[uint64]bool{}
	for _, e := range first {
		seen[e.Index] = true
	}
	for i := uint64(5); i < 10; i++ {
		require.True(t, seen[i])
	}

	for i := 10; i < 20; i++ {
		core.Download(uint64(i))
	}
	second := drainN(t, s, 10, 2*time.Second)
	require.Len(t, second, 10)

	require.NoError(t, s.Destroy(ctx))
}

func TestDrainedFiresWhenNothingLeftToEmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core := memcore.New(testKey(6))
	core.Append([]byte("only"))

	drainedCh := make(chan struct{}, 1)
	s, err := corestream.Open(ctx, core, memory.Factory(), corestream.Options{})
	require.NoError(t, err)
	s.OnDrained(func() {
		select {
		case drainedCh <- struct{}{}:
		default:
		}
	})

	drainN(t, s, 1, 2*time.Second)

	select {
	case <-drainedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("drained event never fired")
	}
	require.True(t, s.Drained())

	require.NoError(t, s.Destroy(ctx))
}

func TestStoragePathIsStableHexSplit(t *testing.T) {
	key := testKey(7)
	dk := coreio.DeriveDiscoveryKey(key)
	h := dk.Hex()
	require.Len(t, h, 64)
	require.Equal(t, h[0:2]+"/"+h[2:4]+"/"+h, corestream.StoragePath(dk))
}
