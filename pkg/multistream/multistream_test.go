package multistream_test

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corelane/coreindexer/pkg/coreio"
	"github.com/corelane/coreindexer/pkg/coreio/memcore"
	"github.com/corelane/coreindexer/pkg/corestream"
	"github.com/corelane/coreindexer/pkg/multistream"
	"github.com/corelane/coreindexer/pkg/storage/memory"
)

var _ multistream.Stream = (*corestream.CoreIndexStream)(nil)

func key(seed byte) coreio.Key {
	var k coreio.Key
	sum := sha256.Sum256([]byte{seed})
	copy(k[:], sum[:])
	return k
}

func openStream(t *testing.T, ctx context.Context, core *memcore.Core) *corestream.CoreIndexStream {
	t.Helper()
	s, err := corestream.Open(ctx, core, memory.Factory(), corestream.Options{})
	require.NoError(t, err)
	return s
}

func drainFanIn(t *testing.T, m *multistream.MultiCoreIndexStream, n int, timeout time.Duration) []coreio.Entry {
	t.Helper()
	out := make([]coreio.Entry, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case e := <-m.Out():
			out = append(out, e)
		case <-deadline:
			t.Fatalf("timed out: got %d of %d", len(out), n)
		}
	}
	return out
}

func TestFanInUnionsEntriesAcrossCores(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := multistream.New(64)

	const cores, blocksPer = 5, 20
	for c := byte(0); c < cores; c++ {
		core := memcore.New(key(c))
		for i := 0; i < blocksPer; i++ {
			core.Append([]byte{c, byte(i)})
		}
		s := openStream(t, ctx, core)
		m.AddStream(s)
	}

	entries := drainFanIn(t, m, cores*blocksPer, 5*time.Second)
	require.Len(t, entries, cores*blocksPer)

	seen := make(map[string]bool)
	for _, e := range entries {
		key := e.DiscoveryID + "/" + string(e.Block.([]byte))
		require.False(t, seen[key], "duplicate entry %s", key)
		seen[key] = true
	}
}

func TestSetIndexedRoutesByDiscoveryID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := multistream.New(16)
	core := memcore.New(key(10))
	core.Append([]byte("a"))
	s := openStream(t, ctx, core)
	m.AddStream(s)

	entries := drainFanIn(t, m, 1, 2*time.Second)
	m.SetIndexed(entries[0].DiscoveryID, entries[0].Index)

	// unknown discovery id must be a silent no-op
	m.SetIndexed("does-not-exist", 0)

	require.Eventually(t, func() bool { return m.Remaining() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAggregateDrainedRequiresAllInnerStreamsDrained(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := multistream.New(16)

	busyCore := memcore.New(key(20))
	busyCore.Append([]byte("x"))
	busyStream := openStream(t, ctx, busyCore)
	m.AddStream(busyStream)

	emptyCore := memcore.New(key(21))
	emptyStream := openStream(t, ctx, emptyCore)
	m.AddStream(emptyStream)

	drainFanIn(t, m, 1, 2*time.Second)
	require.Eventually(t, m.Drained, 2*time.Second, 10*time.Millisecond)
}

func TestRemoveStreamDropsItFromRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := multistream.New(16)
	core := memcore.New(key(30))
	core.Append([]byte("z"))
	s := openStream(t, ctx, core)
	m.AddStream(s)

	drainFanIn(t, m, 1, 2*time.Second)
	require.NoError(t, m.RemoveStreamAndUnlinkStorage(ctx, s))
	require.Zero(t, m.Remaining())
}
