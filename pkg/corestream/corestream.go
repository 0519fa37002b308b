// Package corestream is the single-core pull source: it drains one
// coreio.Core in increasing index order, skipping positions already
// indexed or already in flight, and persists progress to one Bitfield.
package corestream

import (
	"context"
	"sort"
	"sync"

	"github.com/corelane/coreindexer/internal/signal"
	"github.com/corelane/coreindexer/pkg/bitfield"
	"github.com/corelane/coreindexer/pkg/coreio"
	"github.com/corelane/coreindexer/pkg/storage"
	"github.com/corelane/coreindexer/pkg/storage/memory"
)

// defaultBufferSize is the output buffer high-water mark used when
// Options.BufferSize is zero.
const defaultBufferSize = 64

// Options configures Open.
type Options struct {
	// Reindex, if true, discards any prior indexed state for this core
	// before opening — every locally present block re-emits.
	Reindex bool

	// BufferSize bounds the number of pushed-but-not-yet-pulled entries.
	// Zero uses defaultBufferSize.
	BufferSize int

	// Encoding decodes raw block bytes before they reach Out. Zero value
	// is coreio.Binary (pass-through).
	Encoding coreio.Encoding
}

// CoreIndexStream is a pull source over one coreio.Core. Entries are
// delivered on the buffered channel returned by Out; multistream's pump
// goroutine receives from it and forwards into the aggregate channel.
type CoreIndexStream struct {
	core        coreio.Core
	discoveryID string
	storagePath string

	out      chan coreio.Entry
	encoding coreio.Encoding

	mu         sync.Mutex
	nextScan   uint64
	indexed    *bitfield.Bitfield
	inProgress *bitfield.Bitfield
	inFlight   uint64
	downloaded map[uint64]struct{}
	drained    bool
	destroying bool
	destroyCh  chan struct{}
	pending    *signal.Deferred[struct{}]

	unsubAppend   func()
	unsubDownload func()

	readableLis *signal.Listeners
	indexingLis *signal.Listeners
	drainedLis  *signal.Listeners
	closeLis    *signal.Listeners

	loopDone chan struct{}
	runErr   error
}

// StoragePath derives the storage subdirectory for a core's discovery
// key: "h[0:2]/h[2:4]/h", h being the lowercase 64-char hex discovery
// key. This is a compatibility contract — implementations must produce
// the same path from the same key across versions.
func StoragePath(dk coreio.DiscoveryKey) string {
	h := dk.Hex()
	return h[0:2] + "/" + h[2:4] + "/" + h
}

// Open waits for core readiness, refreshes its length, derives the
// storage path from its discovery key, and opens the indexed Bitfield
// (unlinking first if opts.Reindex). It then starts the read loop.
func Open(ctx context.Context, core coreio.Core, factory storage.Factory, opts Options) (*CoreIndexStream, error) {
	if err := core.Ready(ctx); err != nil {
		return nil, err
	}
	if err := core.Update(ctx, true); err != nil {
		return nil, err
	}

	dk := core.DiscoveryKey()
	path := StoragePath(dk)

	if opts.Reindex {
		st, err := factory(path)
		if err != nil {
			return nil, err
		}
		if err := st.Unlink(ctx); err != nil {
			return nil, err
		}
		if err := st.Close(); err != nil {
			return nil, err
		}
	}

	st, err := factory(path)
	if err != nil {
		return nil, err
	}
	indexed, err := bitfield.Open(ctx, st)
	if err != nil {
		return nil, err
	}

	inProgressStore, err := memory.Factory()("in-progress")
	if err != nil {
		return nil, err
	}
	inProgress, err := bitfield.Open(ctx, inProgressStore)
	if err != nil {
		return nil, err
	}

	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	s := &CoreIndexStream{
		core:        core,
		discoveryID: dk.Hex(),
		storagePath: path,
		out:         make(chan coreio.Entry, bufferSize),
		encoding:    opts.Encoding,
		indexed:     indexed,
		inProgress:  inProgress,
		downloaded:  make(map[uint64]struct{}),
		destroyCh:   make(chan struct{}),
		pending:     signal.NewDeferred[struct{}](),
		readableLis: &signal.Listeners{},
		indexingLis: &signal.Listeners{},
		drainedLis:  &signal.Listeners{},
		closeLis:    &signal.Listeners{},
		loopDone:    make(chan struct{}),
	}
	s.unsubAppend = core.OnAppend(s.handleAppend)
	s.unsubDownload = core.OnDownload(s.handleDownload)

	go s.run(ctx)
	return s, nil
}

// DiscoveryID identifies this stream's core for setIndexed routing.
func (s *CoreIndexStream) DiscoveryID() string { return s.discoveryID }

// StoragePath is this stream's on-disk storage subdirectory.
func (s *CoreIndexStream) StoragePath() string { return s.storagePath }

// Out is the channel entries are pushed to. Leaving it unread applies
// backpressure to the read loop once its buffer is full.
func (s *CoreIndexStream) Out() <-chan coreio.Entry { return s.out }

// Remaining is core.Length - nextScan + |downloadedSet| + inFlight.
func (s *CoreIndexStream) Remaining() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	length := s.core.Length()
	if length < s.nextScan {
		length = s.nextScan
	}
	return (length - s.nextScan) + uint64(len(s.downloaded)) + s.inFlight
}

// Drained reports whether this stream has nothing left to emit until the
// next append or download.
func (s *CoreIndexStream) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

// SetIndexed marks block i permanently indexed and decrements in-flight.
// Persisted only on the next Flush, which happens at the end of every
// read pass.
func (s *CoreIndexStream) SetIndexed(i uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.indexed.Set(i, true)
	s.inProgress.Set(i, false)
}

// OnReadable registers fn to be called whenever an entry is pushed onto
// Out. multistream does not subscribe to it; its pump goroutine reads Out
// directly.
func (s *CoreIndexStream) OnReadable(fn func()) (unsubscribe func()) { return s.readableLis.Add(fn) }

// OnIndexing registers fn to be called at the start of every read pass
// that has work to do, whether or not the stream was drained before it.
func (s *CoreIndexStream) OnIndexing(fn func()) (unsubscribe func()) { return s.indexingLis.Add(fn) }

// OnDrained registers fn to be called when this stream has nothing left
// to emit until the next append or download.
func (s *CoreIndexStream) OnDrained(fn func()) (unsubscribe func()) { return s.drainedLis.Add(fn) }

// OnClose registers fn to be called once the read loop has exited and
// the bitfield has been flushed and closed.
func (s *CoreIndexStream) OnClose(fn func()) (unsubscribe func()) { return s.closeLis.Add(fn) }

// Destroy detaches core listeners, stops the read loop, flushes the
// indexed Bitfield, and closes its storage handle.
func (s *CoreIndexStream) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroying {
		s.mu.Unlock()
		<-s.loopDone
		return s.runErr
	}
	s.destroying = true
	if s.unsubAppend != nil {
		s.unsubAppend()
		s.unsubAppend = nil
	}
	if s.unsubDownload != nil {
		s.unsubDownload()
		s.unsubDownload = nil
	}
	pending := s.pending
	close(s.destroyCh)
	s.mu.Unlock()

	pending.Resolve(struct{}{})
	<-s.loopDone

	s.mu.Lock()
	flushErr := s.indexed.Flush(ctx)
	s.mu.Unlock()

	closeErr := s.indexed.Close()

	s.closeLis.Fire()

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// UnlinkStorage unlinks this stream's backing storage. Unlike the
// package-level Unlink, it reuses the Storage handle this stream already
// opened — callers use it after Destroy, when the stream is being
// removed for good.
func (s *CoreIndexStream) UnlinkStorage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexed.Unlink(ctx)
}

// Unlink unlinks this stream's backing storage. Callable without ever
// opening the stream's read loop, provided the core is ready.
func Unlink(ctx context.Context, core coreio.Core, factory storage.Factory) error {
	if err := core.Ready(ctx); err != nil {
		return err
	}
	path := StoragePath(core.DiscoveryKey())
	st, err := factory(path)
	if err != nil {
		return err
	}
	if err := st.Unlink(ctx); err != nil {
		return err
	}
	return st.Close()
}

func (s *CoreIndexStream) handleAppend() {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	pending.Resolve(struct{}{})
}

func (s *CoreIndexStream) handleDownload(i uint64) {
	s.mu.Lock()
	s.downloaded[i] = struct{}{}
	pending := s.pending
	s.mu.Unlock()
	pending.Resolve(struct{}{})
}

type pushOutcome int

const (
	outcomeSkipped pushOutcome = iota
	outcomePushed
)

func (s *CoreIndexStream) run(ctx context.Context) {
	defer close(s.loopDone)
	for {
		s.mu.Lock()
		if s.destroying {
			s.mu.Unlock()
			return
		}
		noWork := s.nextScan >= s.core.Length() && len(s.downloaded) == 0
		s.mu.Unlock()

		if noWork {
			s.setDrained(true)
			s.mu.Lock()
			pending := s.pending
			s.mu.Unlock()
			if _, err := pending.Await(ctx); err != nil {
				s.runErr = err
				return
			}
			s.mu.Lock()
			if s.destroying {
				s.mu.Unlock()
				return
			}
			s.pending = signal.NewDeferred[struct{}]()
			s.mu.Unlock()
			continue
		}

		s.setDrained(false)
		s.indexingLis.Fire()

		pushedAny, err := s.runPass(ctx)
		if err != nil {
			s.runErr = err
			return
		}

		s.mu.Lock()
		flushErr := s.indexed.Flush(ctx)
		destroying := s.destroying
		s.mu.Unlock()
		if flushErr != nil {
			s.runErr = flushErr
			return
		}
		if destroying {
			return
		}
		if !pushedAny {
			if ctx.Err() != nil {
				s.runErr = ctx.Err()
				return
			}
			continue
		}
	}
}

// runPass performs one linear scan plus one downloaded-set sweep,
// pushing every eligible entry it finds room for.
func (s *CoreIndexStream) runPass(ctx context.Context) (pushedAny bool, err error) {
	for {
		s.mu.Lock()
		if s.destroying {
			s.mu.Unlock()
			return pushedAny, nil
		}
		if s.nextScan >= s.core.Length() {
			s.mu.Unlock()
			break
		}
		i := s.nextScan
		s.mu.Unlock()

		outcome, err := s.pushEntry(ctx, i)
		if err != nil {
			return pushedAny, err
		}
		if outcome == outcomePushed {
			pushedAny = true
		}

		s.mu.Lock()
		s.nextScan++
		s.mu.Unlock()
	}

	s.mu.Lock()
	snap := make([]uint64, 0, len(s.downloaded))
	for i := range s.downloaded {
		snap = append(snap, i)
	}
	s.mu.Unlock()
	sort.Slice(snap, func(a, b int) bool { return snap[a] < snap[b] })

	for _, i := range snap {
		s.mu.Lock()
		if s.destroying {
			s.mu.Unlock()
			return pushedAny, nil
		}
		delete(s.downloaded, i)
		s.mu.Unlock()

		outcome, err := s.pushEntry(ctx, i)
		if err != nil {
			return pushedAny, err
		}
		if outcome == outcomePushed {
			pushedAny = true
		}
	}
	return pushedAny, nil
}

// pushEntry skips if already indexed or in flight, skips if not locally
// present, otherwise decodes and delivers the entry on Out (blocking,
// applying backpressure, if full).
func (s *CoreIndexStream) pushEntry(ctx context.Context, i uint64) (pushOutcome, error) {
	s.mu.Lock()
	if s.indexed.Get(i) || s.inProgress.Get(i) {
		s.mu.Unlock()
		return outcomeSkipped, nil
	}
	s.mu.Unlock()

	block, present, err := s.core.Get(ctx, i, coreio.GetOptions{Wait: false})
	if err != nil {
		return outcomeSkipped, err
	}
	if !present {
		return outcomeSkipped, nil
	}

	decoded, err := coreio.Decode(s.encoding, block)
	if err != nil {
		return outcomeSkipped, err
	}

	s.mu.Lock()
	s.inProgress.Set(i, true)
	s.inFlight++
	s.mu.Unlock()

	entry := coreio.Entry{Index: i, DiscoveryID: s.discoveryID, Block: decoded}
	select {
	case s.out <- entry:
	case <-ctx.Done():
		return outcomeSkipped, ctx.Err()
	case <-s.destroyCh:
		return outcomeSkipped, nil
	}
	s.readableLis.Fire()
	return outcomePushed, nil
}

func (s *CoreIndexStream) setDrained(v bool) {
	s.mu.Lock()
	changed := s.drained != v
	s.drained = v
	s.mu.Unlock()
	if changed && v {
		s.drainedLis.Fire()
	}
}
