package indexer

import "sync"

// IndexState is one of the driver's four lifecycle states.
type IndexState string

const (
	StateIdle     IndexState = "idle"
	StateIndexing IndexState = "indexing"
	StateClosing  IndexState = "closing"
	StateClosed   IndexState = "closed"
)

// State is a point-in-time observation of the driver, recomputed live on
// every State() call and on every index-state event.
type State struct {
	Current          IndexState
	Remaining        uint64
	EntriesPerSecond float64
}

// stateListeners is the "index-state(state)" event surface: like
// signal.Listeners but callbacks take the emitted State.
type stateListeners struct {
	mu  sync.Mutex
	fns []func(State)
}

func (l *stateListeners) add(fn func(State)) (unsubscribe func()) {
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

func (l *stateListeners) fire(s State) {
	l.mu.Lock()
	snap := append([]func(State){}, l.fns...)
	l.mu.Unlock()
	for _, fn := range snap {
		if fn != nil {
			fn(s)
		}
	}
}
