package session

import (
	"sync"
	"time"
)

// AutoCloser holds one cancellable timer per session id.
type AutoCloser struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewAutoCloser creates an empty timer set.
func NewAutoCloser() *AutoCloser {
	return &AutoCloser{timers: make(map[string]*time.Timer)}
}

// Schedule runs fn at the given time, replacing any timer already held for id.
// A time in the past fires immediately.
func (a *AutoCloser) Schedule(id string, at time.Time, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if t, ok := a.timers[id]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(time.Until(at), func() {
		a.mu.Lock()
		if a.timers[id] != t {
			a.mu.Unlock()
			return
		}
		delete(a.timers, id)
		a.mu.Unlock()
		fn()
	})
	a.timers[id] = t
}

// Cancel stops the timer for id. It reports whether a pending timer was stopped.
func (a *AutoCloser) Cancel(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.timers[id]
	if !ok {
		return false
	}
	delete(a.timers, id)
	return t.Stop()
}

// Pending returns the number of armed timers.
func (a *AutoCloser) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

// Stop cancels every timer and rejects further scheduling.
func (a *AutoCloser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}
