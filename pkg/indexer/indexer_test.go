package indexer_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corelane/coreindexer/pkg/coreio"
	"github.com/corelane/coreindexer/pkg/coreio/memcore"
	"github.com/corelane/coreindexer/pkg/indexer"
	"github.com/corelane/coreindexer/pkg/storage/memory"
)

func key(seed byte) coreio.Key {
	var k coreio.Key
	sum := sha256.Sum256([]byte{seed})
	copy(k[:], sum[:])
	return k
}

func TestFiveCoresHundredBlocksEachReachIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const cores, blocksPer = 5, 100

	var mu sync.Mutex
	received := make(map[string]bool)

	batch := func(ctx context.Context, entries []coreio.Entry) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range entries {
			received[fmt.Sprintf("%s/%d", e.DiscoveryID, e.Index)] = true
		}
		return nil
	}

	var coreList []coreio.Core
	for c := byte(0); c < cores; c++ {
		mc := memcore.New(key(c))
		for i := 0; i < blocksPer; i++ {
			mc.Append([]byte{c, byte(i)})
		}
		coreList = append(coreList, mc)
	}

	idx, err := indexer.New(ctx, coreList, indexer.Options{
		Batch:          batch,
		StorageFactory: memory.Factory(),
		MaxBatch:       50,
	})
	require.NoError(t, err)

	require.NoError(t, idx.Idle(ctx))

	mu.Lock()
	count := len(received)
	mu.Unlock()
	require.Equal(t, cores*blocksPer, count)

	require.Equal(t, indexer.StateIdle, idx.State().Current)
	require.Zero(t, idx.State().Remaining)

	require.NoError(t, idx.Close(ctx))
}

func TestIdleSemanticsConcurrentAwaiters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mc := memcore.New(key(1))
	for i := 0; i < 20; i++ {
		mc.Append([]byte{byte(i)})
	}

	var batched int
	var mu sync.Mutex
	batch := func(ctx context.Context, entries []coreio.Entry) error {
		mu.Lock()
		batched += len(entries)
		mu.Unlock()
		return nil
	}

	idx, err := indexer.New(ctx, []coreio.Core{mc}, indexer.Options{
		Batch:          batch,
		StorageFactory: memory.Factory(),
		MaxBatch:       5,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = idx.Idle(ctx)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NoError(t, r)
	}
	require.Equal(t, indexer.StateIdle, idx.State().Current)

	require.NoError(t, idx.Idle(ctx)) // calling again afterward resolves immediately

	require.NoError(t, idx.Close(ctx))
}

func TestStatePersistsAcrossRuns(t *testing.T) {
	factory := memory.Factory()
	mc := memcore.New(key(2))
	for i := 0; i < 1000; i++ {
		mc.Append([]byte{byte(i)})
	}

	ctx := context.Background()
	var total int
	var mu sync.Mutex
	batch := func(ctx context.Context, entries []coreio.Entry) error {
		mu.Lock()
		total += len(entries)
		mu.Unlock()
		return nil
	}

	idxA, err := indexer.New(ctx, []coreio.Core{mc}, indexer.Options{
		Batch: batch, StorageFactory: factory, MaxBatch: 100,
	})
	require.NoError(t, err)
	require.NoError(t, idxA.Idle(ctx))
	require.NoError(t, idxA.Close(ctx))

	mu.Lock()
	require.Equal(t, 1000, total)
	total = 0
	mu.Unlock()

	for i := 1000; i < 2000; i++ {
		mc.Append([]byte{byte(i)})
	}

	idxB, err := indexer.New(ctx, []coreio.Core{mc}, indexer.Options{
		Batch: batch, StorageFactory: factory, MaxBatch: 100,
	})
	require.NoError(t, err)
	require.NoError(t, idxB.Idle(ctx))
	require.NoError(t, idxB.Close(ctx))

	mu.Lock()
	require.Equal(t, 1000, total)
	mu.Unlock()
}

func TestBatchFailurePropagatesAndClosesPipeline(t *testing.T) {
	ctx := context.Background()
	mc := memcore.New(key(3))
	mc.Append([]byte("boom"))

	wantErr := errors.New("downstream failure")
	batch := func(ctx context.Context, entries []coreio.Entry) error {
		return wantErr
	}

	idx, err := indexer.New(ctx, []coreio.Core{mc}, indexer.Options{
		Batch: batch, StorageFactory: memory.Factory(), MaxBatch: 10,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return idx.State().Current == indexer.StateClosed
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, idx.Err(), wantErr)
}

func TestAddCoreRejectedAfterClose(t *testing.T) {
	ctx := context.Background()
	idx, err := indexer.New(ctx, nil, indexer.Options{
		Batch: func(ctx context.Context, entries []coreio.Entry) error { return nil },
		StorageFactory: memory.Factory(),
	})
	require.NoError(t, err)
	require.NoError(t, idx.Idle(ctx))
	require.NoError(t, idx.Close(ctx))

	err = idx.AddCore(ctx, memcore.New(key(4)))
	require.ErrorIs(t, err, indexer.ErrClosing)
}

func TestUnlinkFailsUnlessClosed(t *testing.T) {
	ctx := context.Background()
	idx, err := indexer.New(ctx, nil, indexer.Options{
		Batch: func(ctx context.Context, entries []coreio.Entry) error { return nil },
		StorageFactory: memory.Factory(),
	})
	require.NoError(t, err)

	err = idx.Unlink(ctx)
	require.ErrorIs(t, err, indexer.ErrNotClosed)

	require.NoError(t, idx.Close(ctx))
	require.NoError(t, idx.Unlink(ctx))
}
