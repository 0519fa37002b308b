// Package signal provides the small set of concurrency and exhaustiveness
// primitives shared by the coreio, stream, and indexer packages.
package signal

import (
	"context"
	"sync"
)

// Deferred is a one-shot signal that can be awaited by any number of
// goroutines and resolved (or rejected) exactly once per "generation".
// After a generation resolves, a fresh call to Reset starts a new one —
// mirroring the JS "replace the slot with a fresh signal before awaiting
// again" idiom from the source design.
//
// The broadcast mechanism is the same channel-barrier trick klevdb's
// notify.Offset uses: resolving closes the current channel (which wakes
// every current waiter at once, satisfying Go's "close broadcasts to all
// receivers" guarantee), and Reset installs a new one for the next
// generation.
type Deferred[T any] struct {
	mu      sync.Mutex
	ch      chan struct{}
	value   T
	err     error
	settled bool
}

// NewDeferred returns an unresolved signal.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{ch: make(chan struct{})}
}

// Await blocks until the signal is resolved, rejected, or ctx is done.
// Resolving with no awaiters is not lost: Await observes an already-settled
// signal immediately on the fast path.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	d.mu.Lock()
	if d.settled {
		v, err := d.value, d.err
		d.mu.Unlock()
		return v, err
	}
	ch := d.ch
	d.mu.Unlock()

	select {
	case <-ch:
		d.mu.Lock()
		v, err := d.value, d.err
		d.mu.Unlock()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Resolve settles the signal with v, waking every current and future
// Await call for this generation. Resolving an already-settled signal is
// a no-op.
func (d *Deferred[T]) Resolve(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return
	}
	d.value = v
	d.settled = true
	close(d.ch)
}

// Reject settles the signal with an error. Rejecting an already-settled
// signal is a no-op.
func (d *Deferred[T]) Reject(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return
	}
	d.err = err
	d.settled = true
	close(d.ch)
}

// Reset discards the current generation and starts a fresh, unresolved
// one. Callers typically call Reset right after Await returns, before
// waiting again — matching the "replace with a fresh signal" pattern.
func (d *Deferred[T]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch = make(chan struct{})
	var zero T
	d.value = zero
	d.err = nil
	d.settled = false
}

// Settled reports whether the current generation has already resolved or
// rejected.
func (d *Deferred[T]) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}
