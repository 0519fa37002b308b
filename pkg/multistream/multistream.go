// Package multistream fans a dynamic set of per-core pull sources into
// one aggregate stream, routing setIndexed calls back to the right core
// by discovery id.
package multistream

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/corelane/coreindexer/internal/signal"
	"github.com/corelane/coreindexer/pkg/coreio"
)

// Stream is the subset of corestream.CoreIndexStream's contract
// MultiCoreIndexStream needs, so fan-in can be exercised against fakes
// in tests without depending on a live core.
type Stream interface {
	DiscoveryID() string
	Out() <-chan coreio.Entry
	Remaining() uint64
	Drained() bool
	SetIndexed(i uint64)
	OnIndexing(fn func()) (unsubscribe func())
	OnDrained(fn func()) (unsubscribe func())
	OnClose(fn func()) (unsubscribe func())
	Destroy(ctx context.Context) error
	UnlinkStorage(ctx context.Context) error
}

type handle struct {
	stream  Stream
	cancel  context.CancelFunc
	unsubI  func()
	unsubD  func()
	unsubC  func()
	drained bool
	pumped  chan struct{}
}

// MultiCoreIndexStream fans in entries from every registered Stream,
// forwarding them onto one buffered Out channel. The channel's own
// backpressure keeps any one stream from being read ahead of what the
// consumer can absorb: each inner stream's pump goroutine blocks on
// send whenever the aggregate buffer is full.
type MultiCoreIndexStream struct {
	mu      sync.Mutex
	byID    map[string]*handle
	out     chan coreio.Entry
	drained bool

	indexingLis *signal.Listeners
	drainedLis  *signal.Listeners
	closeLis    *signal.Listeners
}

// New returns an empty fan-in with the given output high-water mark.
func New(bufferSize int) *MultiCoreIndexStream {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &MultiCoreIndexStream{
		byID:        make(map[string]*handle),
		out:         make(chan coreio.Entry, bufferSize),
		drained:     true,
		indexingLis: &signal.Listeners{},
		drainedLis:  &signal.Listeners{},
		closeLis:    &signal.Listeners{},
	}
}

// Out is the aggregate entry channel.
func (m *MultiCoreIndexStream) Out() <-chan coreio.Entry { return m.out }

// AddStream registers s, idempotent on repeat calls for the same
// discovery id, and starts forwarding its entries into Out.
func (m *MultiCoreIndexStream) AddStream(s Stream) {
	id := s.DiscoveryID()

	m.mu.Lock()
	if _, exists := m.byID[id]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{stream: s, cancel: cancel, drained: s.Drained(), pumped: make(chan struct{})}
	m.byID[id] = h
	m.mu.Unlock()

	h.unsubI = s.OnIndexing(func() { m.onInnerIndexing(h) })
	h.unsubD = s.OnDrained(func() { m.onInnerDrained(h) })
	h.unsubC = s.OnClose(func() {})

	m.recomputeDrained()

	go m.pump(ctx, s, h.pumped)
}

func (m *MultiCoreIndexStream) pump(ctx context.Context, s Stream, done chan struct{}) {
	defer close(done)
	for {
		select {
		case e, ok := <-s.Out():
			if !ok {
				return
			}
			select {
			case m.out <- e:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// RemoveStreamAndUnlinkStorage detaches s, stops its pump and waits for
// it to exit, destroys s, then unlinks its backing storage. Emits an aggregate
// drained transition if removal left every remaining stream drained.
func (m *MultiCoreIndexStream) RemoveStreamAndUnlinkStorage(ctx context.Context, s Stream) error {
	id := s.DiscoveryID()

	m.mu.Lock()
	h, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.byID, id)
	m.mu.Unlock()

	if h.unsubI != nil {
		h.unsubI()
	}
	if h.unsubD != nil {
		h.unsubD()
	}
	if h.unsubC != nil {
		h.unsubC()
	}
	h.cancel()
	<-h.pumped

	if err := s.Destroy(ctx); err != nil {
		return err
	}
	if err := s.UnlinkStorage(ctx); err != nil {
		return err
	}

	m.recomputeDrained()
	return nil
}

// SetIndexed routes to the stream registered under discoveryID; a
// silent no-op if unknown, treated as a benign race with removal.
func (m *MultiCoreIndexStream) SetIndexed(discoveryID string, index uint64) {
	m.mu.Lock()
	h, ok := m.byID[discoveryID]
	m.mu.Unlock()
	if !ok {
		return
	}
	h.stream.SetIndexed(index)
}

// Remaining sums Remaining across every registered stream.
func (m *MultiCoreIndexStream) Remaining() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, h := range m.byID {
		total += h.stream.Remaining()
	}
	return total
}

// Drained reports the cached aggregate drained state. It is recomputed
// on stream addition, inner drained transitions and stream removals, and
// cleared by any inner indexing event.
func (m *MultiCoreIndexStream) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drained
}

// OnIndexing, OnDrained, and OnClose mirror corestream's event surface
// at the aggregate level.
func (m *MultiCoreIndexStream) OnIndexing(fn func()) (unsubscribe func()) { return m.indexingLis.Add(fn) }
func (m *MultiCoreIndexStream) OnDrained(fn func()) (unsubscribe func())  { return m.drainedLis.Add(fn) }
func (m *MultiCoreIndexStream) OnClose(fn func()) (unsubscribe func())   { return m.closeLis.Add(fn) }

// Destroy unsubscribes from every inner stream's events, destroys them
// concurrently, and awaits their close before firing its own close.
func (m *MultiCoreIndexStream) Destroy(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.byID))
	for _, h := range m.byID {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		if h.unsubI != nil {
			h.unsubI()
		}
		if h.unsubD != nil {
			h.unsubD()
		}
		if h.unsubC != nil {
			h.unsubC()
		}
		h.cancel()
	}
	for _, h := range handles {
		<-h.pumped
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error { return h.stream.Destroy(gctx) })
	}
	err := g.Wait()

	m.closeLis.Fire()
	return err
}

// Unlink unlinks every remaining stream's storage. Must only be called
// after Destroy.
func (m *MultiCoreIndexStream) Unlink(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.byID))
	for _, h := range m.byID {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error { return h.stream.UnlinkStorage(gctx) })
	}
	return g.Wait()
}

func (m *MultiCoreIndexStream) onInnerIndexing(h *handle) {
	m.mu.Lock()
	h.drained = false
	wasDrained := m.drained
	m.drained = false
	m.mu.Unlock()
	if wasDrained {
		m.indexingLis.Fire()
	}
}

func (m *MultiCoreIndexStream) onInnerDrained(h *handle) {
	m.mu.Lock()
	h.drained = true
	m.mu.Unlock()
	m.recomputeDrained()
}

func (m *MultiCoreIndexStream) recomputeDrained() {
	m.mu.Lock()
	all := true
	for _, h := range m.byID {
		if !h.drained {
			all = false
			break
		}
	}
	wasDrained := m.drained
	m.drained = all
	m.mu.Unlock()

	if all && !wasDrained {
		m.drainedLis.Fire()
	}
}
