// Package memcore is a RAM-backed reference implementation of
// coreio.Core, used by the stream/fan-in/indexer tests and by callers
// wiring the engine against a fake log before plugging in a real one.
// It is test/reference infrastructure, not a replacement for "the log
// implementation" the engine treats as an external collaborator.
package memcore

import (
	"context"
	"sync"

	"github.com/corelane/coreindexer/pkg/coreio"
)

// Core is an in-memory coreio.Core. Blocks are appended with Append and
// revealed to readers either immediately (the default) or on demand via
// Download, to simulate a partially-downloaded log.
type Core struct {
	mu sync.Mutex

	key coreio.Key
	dk  coreio.DiscoveryKey

	blocks    [][]byte
	present   map[uint64]bool
	appendLis []func()
	downLis   []func(uint64)
	closeLis  []func()
	closed    bool
}

// New creates an empty Core with the given key. Blocks added with Append
// are immediately present; blocks added with AppendAbsent simulate a
// remote core and must be revealed with Download.
func New(key coreio.Key) *Core {
	return &Core{
		key:     key,
		dk:      coreio.DeriveDiscoveryKey(key),
		present: make(map[uint64]bool),
	}
}

// Append adds a block to the log, making it present by default, and
// fires the append listeners.
func (c *Core) Append(block []byte) uint64 {
	return c.appendInternal(block, true)
}

// AppendAbsent adds a block to the log without marking it as locally
// present. Use Download to reveal it later.
func (c *Core) AppendAbsent(block []byte) uint64 {
	return c.appendInternal(block, false)
}

func (c *Core) appendInternal(block []byte, presentNow bool) uint64 {
	c.mu.Lock()
	i := uint64(len(c.blocks))
	c.blocks = append(c.blocks, block)
	if presentNow {
		c.present[i] = true
	}
	lis := append([]func(){}, c.appendLis...)
	c.mu.Unlock()

	for _, fn := range lis {
		if fn != nil {
			fn()
		}
	}
	return i
}

// Download reveals a previously-absent position and fires the download
// listeners. It is a no-op if the position is already present or does
// not exist.
func (c *Core) Download(i uint64) {
	c.mu.Lock()
	if i >= uint64(len(c.blocks)) || c.present[i] {
		c.mu.Unlock()
		return
	}
	c.present[i] = true
	lis := append([]func(uint64){}, c.downLis...)
	c.mu.Unlock()

	for _, fn := range lis {
		if fn != nil {
			fn(i)
		}
	}
}

func (c *Core) Ready(ctx context.Context) error {
	return nil
}

func (c *Core) Update(ctx context.Context, wait bool) error {
	return nil
}

func (c *Core) Length() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.blocks))
}

func (c *Core) Key() coreio.Key {
	return c.key
}

func (c *Core) DiscoveryKey() coreio.DiscoveryKey {
	return c.dk
}

func (c *Core) Get(ctx context.Context, i uint64, opts coreio.GetOptions) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= uint64(len(c.blocks)) || !c.present[i] {
		return nil, false, nil
	}
	return c.blocks[i], true, nil
}

func (c *Core) OnAppend(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	c.appendLis = append(c.appendLis, fn)
	idx := len(c.appendLis) - 1
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.appendLis) {
			c.appendLis[idx] = nil
		}
	}
}

func (c *Core) OnDownload(fn func(i uint64)) (unsubscribe func()) {
	c.mu.Lock()
	c.downLis = append(c.downLis, fn)
	idx := len(c.downLis) - 1
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.downLis) {
			c.downLis[idx] = nil
		}
	}
}

func (c *Core) OnClose(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	c.closeLis = append(c.closeLis, fn)
	idx := len(c.closeLis) - 1
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.closeLis) {
			c.closeLis[idx] = nil
		}
	}
}

// Close marks the core closed and fires close listeners. memcore never
// calls this itself — the engine never closes cores it borrows.
func (c *Core) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	lis := append([]func(){}, c.closeLis...)
	c.mu.Unlock()

	for _, fn := range lis {
		if fn != nil {
			fn()
		}
	}
}
