package signal

import "sync"

// Listeners is a subscribe/fire set of zero-argument callbacks, the same
// nil-out-on-unsubscribe idiom memcore.Core uses for its OnAppend/
// OnDownload/OnClose slots, generalized for reuse by the stream and
// indexer event surfaces.
type Listeners struct {
	mu  sync.Mutex
	fns []func()
}

// Add registers fn and returns an unsubscribe function. Firing snapshots
// the slice before calling out, so unsubscribing from within a callback
// is safe.
func (l *Listeners) Add(fn func()) (unsubscribe func()) {
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	idx := len(l.fns) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.fns) {
			l.fns[idx] = nil
		}
	}
}

// Fire calls every still-subscribed listener.
func (l *Listeners) Fire() {
	l.mu.Lock()
	snap := append([]func(){}, l.fns...)
	l.mu.Unlock()
	for _, fn := range snap {
		if fn != nil {
			fn()
		}
	}
}
