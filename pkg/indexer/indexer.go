// Package indexer turns a dynamic set of cores into a consumer-friendly
// pipeline: it drains the fan-in into fixed-size batches, calls a
// user-supplied batch function, marks entries indexed, and tracks a
// small state machine callers can observe or wait on.
package indexer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/corelane/coreindexer/internal/logger"
	"github.com/corelane/coreindexer/internal/metrics"
	"github.com/corelane/coreindexer/internal/signal"
	"github.com/corelane/coreindexer/pkg/coreio"
	"github.com/corelane/coreindexer/pkg/corestream"
	"github.com/corelane/coreindexer/pkg/multistream"
	"github.com/corelane/coreindexer/pkg/storage"
	"github.com/corelane/coreindexer/pkg/storage/file"
)

// ErrClosing is returned by AddCore once the driver has entered closing
// or closed.
var ErrClosing = errors.New("indexer: closing or closed")

// ErrAlreadyClosing is returned by Close when the driver is already
// closing or closed.
var ErrAlreadyClosing = errors.New("indexer: already closing or closed")

// ErrNotClosed is returned by Unlink unless the driver is closed.
var ErrNotClosed = errors.New("indexer: unlink requires closed state")

// BatchFunc is the user-supplied consumer, called at most once
// concurrently with up to MaxBatch entries.
type BatchFunc func(ctx context.Context, entries []coreio.Entry) error

// Options configures New.
type Options struct {
	// Batch is the required consumer callback.
	Batch BatchFunc

	// StorageDir, if set, constructs a file-backed storage.Factory
	// rooted at this directory. Mutually exclusive with StorageFactory.
	StorageDir string

	// StorageFactory, if set, is used directly instead of StorageDir.
	StorageFactory storage.Factory

	// MaxBatch is the output buffer high-water mark, in entries.
	// Defaults to 100.
	MaxBatch int

	// Reindex discards prior indexed state for every core added, both
	// at construction and via AddCore.
	Reindex bool

	// Encoding decodes every core's raw blocks before they reach Batch.
	// Zero value is coreio.Binary (pass-through).
	Encoding coreio.Encoding

	// Logger receives lifecycle events. Defaults to a no-op logger.
	Logger *logger.Logger
}

// Indexer is the driver described by pkg/multistream and pkg/corestream,
// wired to one batch consumer.
type Indexer struct {
	mu        sync.Mutex
	state     IndexState
	rate      float64
	hasRate   bool
	rateStart time.Time
	idleSig   *signal.Deferred[struct{}]
	err       error

	multi    *multistream.MultiCoreIndexStream
	factory  storage.Factory
	reindex  bool
	encoding coreio.Encoding
	batch    BatchFunc
	maxBatch int
	log      *logger.Logger

	indexStateLis *stateListeners
	idleLis       *signal.Listeners
	indexingLis   *signal.Listeners

	runCtx       context.Context
	runCancel    context.CancelFunc
	consumerDone chan struct{}
}

func resolveFactory(opts Options) (storage.Factory, error) {
	if opts.StorageFactory != nil {
		return opts.StorageFactory, nil
	}
	if opts.StorageDir != "" {
		return file.Factory(opts.StorageDir), nil
	}
	return nil, errors.New("indexer: one of StorageDir or StorageFactory is required")
}

// New constructs one CoreIndexStream per core, wraps them in a
// MultiCoreIndexStream, and starts the consumer loop. The driver's
// initial state is always "indexing", even with zero cores — it settles
// to "idle" on its first recomputation if there is nothing to do.
func New(ctx context.Context, cores []coreio.Core, opts Options) (*Indexer, error) {
	if opts.Batch == nil {
		return nil, errors.New("indexer: Batch is required")
	}
	factory, err := resolveFactory(opts)
	if err != nil {
		return nil, err
	}
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 100
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithComponent("indexer")

	runCtx, cancel := context.WithCancel(context.Background())
	idx := &Indexer{
		state:         StateIndexing,
		rateStart:     time.Now(),
		idleSig:       signal.NewDeferred[struct{}](),
		multi:         multistream.New(maxBatch),
		factory:       factory,
		reindex:       opts.Reindex,
		encoding:      opts.Encoding,
		batch:         opts.Batch,
		maxBatch:      maxBatch,
		log:           log,
		indexStateLis: &stateListeners{},
		idleLis:       &signal.Listeners{},
		indexingLis:   &signal.Listeners{},
		runCtx:        runCtx,
		runCancel:     cancel,
		consumerDone:  make(chan struct{}),
	}
	idx.multi.OnIndexing(idx.onFanInIndexing)
	idx.multi.OnDrained(idx.recomputeIdle)

	for _, c := range cores {
		if err := idx.AddCore(ctx, c); err != nil {
			cancel()
			return nil, err
		}
	}

	idx.recomputeIdle()
	go idx.consumeLoop()

	return idx, nil
}

// State returns a live snapshot of the driver's observable state.
func (idx *Indexer) State() State {
	return idx.snapshotState()
}

// Err returns the error that forced the driver to close, if any. This
// is the decided resolution for the batch-failure open question: a
// failing batch call is fatal to the whole pipeline, which transitions
// to closing/closed and records the error here rather than leaving
// state undefined.
func (idx *Indexer) Err() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.err
}

// AddCore constructs a CoreIndexStream for core and adds it to the
// fan-in. Rejected once the driver is closing or closed. If the core
// fails readiness, it is still added to the pipeline (so addCore never
// hard-fails on a single bad core) but is never registered for
// setIndexed routing and will never produce entries.
func (idx *Indexer) AddCore(ctx context.Context, core coreio.Core) error {
	idx.mu.Lock()
	st := idx.state
	idx.mu.Unlock()
	if st == StateClosing || st == StateClosed {
		return ErrClosing
	}

	s, err := corestream.Open(ctx, core, idx.factory, corestream.Options{
		Reindex:    idx.reindex,
		BufferSize: idx.maxBatch,
		Encoding:   idx.encoding,
	})
	if err != nil {
		idx.log.Warnw("core failed readiness, adding dead stream", "error", err)
		metrics.CoreReadinessFailures.Inc()
		idx.multi.AddStream(newDeadStream())
		return nil
	}
	idx.multi.AddStream(s)
	idx.recomputeIdle()
	metrics.CoresAdded.Inc()
	return nil
}

// Idle resolves immediately if the current state is idle, otherwise on
// the next transition into idle. Safe to call concurrently: all
// concurrent awaiters share one signal and resolve together.
func (idx *Indexer) Idle(ctx context.Context) error {
	idx.mu.Lock()
	if idx.state == StateIdle || idx.state == StateClosed {
		idx.mu.Unlock()
		return nil
	}
	sig := idx.idleSig
	idx.mu.Unlock()
	_, err := sig.Await(ctx)
	return err
}

// Close fails if already closing or closed. Otherwise it transitions to
// closing, stops the consumer loop, destroys the fan-in (which destroys
// every inner stream and awaits their close), resolves any pending Idle
// awaiters, and transitions to closed.
func (idx *Indexer) Close(ctx context.Context) error {
	idx.mu.Lock()
	if idx.state == StateClosing || idx.state == StateClosed {
		idx.mu.Unlock()
		return ErrAlreadyClosing
	}
	idx.state = StateClosing
	idleSig := idx.idleSig
	idx.mu.Unlock()

	metrics.StateTransitionInc(string(StateClosing))
	idx.log.Infow("closing")
	idx.fireIndexState()
	idleSig.Resolve(struct{}{})

	idx.runCancel()
	<-idx.consumerDone

	destroyErr := idx.multi.Destroy(ctx)

	idx.mu.Lock()
	idx.state = StateClosed
	if destroyErr != nil && idx.err == nil {
		idx.err = destroyErr
	}
	finalErr := idx.err
	idx.mu.Unlock()

	metrics.StateTransitionInc(string(StateClosed))
	if finalErr != nil {
		idx.log.Errorw("closed with error", "error", finalErr)
	} else {
		idx.log.Infow("closed")
	}
	idx.fireIndexState()
	return finalErr
}

// Unlink delegates to the fan-in's Unlink. Fails unless the driver is
// closed.
func (idx *Indexer) Unlink(ctx context.Context) error {
	idx.mu.Lock()
	st := idx.state
	idx.mu.Unlock()
	if st != StateClosed {
		return ErrNotClosed
	}
	return idx.multi.Unlink(ctx)
}

// OnIndexState registers fn to be called on every change of
// (current, remaining).
func (idx *Indexer) OnIndexState(fn func(State)) (unsubscribe func()) {
	return idx.indexStateLis.add(fn)
}

// OnIdle registers fn to be called on the edge into idle.
func (idx *Indexer) OnIdle(fn func()) (unsubscribe func()) { return idx.idleLis.Add(fn) }

// OnIndexing registers fn to be called on the edge into indexing.
func (idx *Indexer) OnIndexing(fn func()) (unsubscribe func()) { return idx.indexingLis.Add(fn) }

func (idx *Indexer) snapshotState() State {
	idx.mu.Lock()
	current := idx.state
	rate := idx.rate
	idx.mu.Unlock()
	return State{Current: current, Remaining: idx.multi.Remaining(), EntriesPerSecond: rate}
}

func (idx *Indexer) fireIndexState() {
	s := idx.snapshotState()
	metrics.Remaining.Set(float64(s.Remaining))
	metrics.EntriesPerSecond.Set(s.EntriesPerSecond)
	idx.indexStateLis.fire(s)
}

func (idx *Indexer) onFanInIndexing() {
	idx.mu.Lock()
	if idx.state == StateClosing || idx.state == StateClosed {
		idx.mu.Unlock()
		return
	}
	if idx.state == StateIndexing {
		idx.mu.Unlock()
		return
	}
	idx.state = StateIndexing
	idx.idleSig = signal.NewDeferred[struct{}]()
	idx.mu.Unlock()

	metrics.StateTransitionInc(string(StateIndexing))
	idx.log.Debugw("transitioned to indexing")
	idx.indexingLis.Fire()
	idx.fireIndexState()
}

func (idx *Indexer) recomputeIdle() {
	idx.mu.Lock()
	if idx.state == StateClosing || idx.state == StateClosed {
		idx.mu.Unlock()
		return
	}
	remaining := idx.multi.Remaining()
	drained := idx.multi.Drained()
	if remaining != 0 || !drained || idx.state == StateIdle {
		idx.mu.Unlock()
		return
	}
	idx.state = StateIdle
	sig := idx.idleSig
	idx.mu.Unlock()

	metrics.StateTransitionInc(string(StateIdle))
	idx.log.Debugw("transitioned to idle")
	sig.Resolve(struct{}{})
	idx.idleLis.Fire()
	idx.fireIndexState()
}

// consumeLoop pulls batches off the fan-in and drives handleEntries
// until the driver's internal context is cancelled by Close.
func (idx *Indexer) consumeLoop() {
	defer close(idx.consumerDone)
	for {
		select {
		case <-idx.runCtx.Done():
			return
		default:
		}
		batch, ok := idx.collectBatch()
		if !ok {
			return
		}
		idx.handleEntries(idx.runCtx, batch)
	}
}

// collectBatch blocks for at least one entry, then drains whatever else
// is immediately available up to maxBatch without blocking further —
// the channel-native equivalent of "writev" draining an output buffer.
func (idx *Indexer) collectBatch() ([]coreio.Entry, bool) {
	select {
	case e, ok := <-idx.multi.Out():
		if !ok {
			return nil, false
		}
		batch := make([]coreio.Entry, 0, idx.maxBatch)
		batch = append(batch, e)
		for len(batch) < idx.maxBatch {
			select {
			case e2, ok := <-idx.multi.Out():
				if !ok {
					return batch, true
				}
				batch = append(batch, e2)
			default:
				return batch, true
			}
		}
		return batch, true
	case <-idx.runCtx.Done():
		return nil, false
	}
}

// handleEntries implements the five-step batch sequence: emit state,
// run the user's batch function, mark entries indexed on success, roll
// the EMA rate estimate, emit state again. remaining must NOT drop
// until step 3 — it is computed live from the fan-in, which only
// decrements Remaining after SetIndexed, so a batch observing
// State().Remaining from inside Batch sees its own entries still
// counted.
func (idx *Indexer) handleEntries(ctx context.Context, entries []coreio.Entry) {
	idx.fireIndexState()

	start := time.Now()
	err := idx.batch(ctx, entries)
	metrics.BatchDurationObserve(time.Since(start))
	if err != nil {
		idx.log.Errorw("batch callback failed, closing", "error", err, "entries", len(entries))
		metrics.BatchErrors.Inc()
		idx.mu.Lock()
		idx.err = err
		idx.mu.Unlock()
		go idx.Close(context.Background())
		return
	}

	byDiscovery := make(map[string]int, len(entries))
	for _, e := range entries {
		idx.multi.SetIndexed(e.DiscoveryID, e.Index)
		byDiscovery[e.DiscoveryID]++
	}
	for id, n := range byDiscovery {
		metrics.EntriesIndexedInc(id, n)
	}

	idx.updateRate(len(entries))
	idx.fireIndexState()
	idx.recomputeIdle()
}

func (idx *Indexer) updateRate(n int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(idx.rateStart).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-6
	}
	r := float64(n) / elapsed
	if !idx.hasRate {
		idx.rate = r
		idx.hasRate = true
	} else {
		idx.rate = r + (idx.rate-r)/5
	}
	idx.rateStart = now
}
