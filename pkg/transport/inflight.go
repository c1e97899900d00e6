package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks the turn running on each session. It maps
// session IDs to the running turn's cancel function.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inflight
}

type inflight struct {
	cancel context.CancelFunc
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]*inflight),
	}
}

// Begin records a turn on sessionID. It returns false, leaving the
// registry unchanged, when a turn is already running on that session.
// Otherwise the returned done func must be called when the turn ends.
func (r *InFlightRegistry) Begin(sessionID string, cancel context.CancelFunc) (done func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.entries[sessionID]; busy {
		return nil, false
	}
	e := &inflight{cancel: cancel}
	r.entries[sessionID] = e
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// A cancelled turn may already have been replaced by a new one.
		if r.entries[sessionID] == e {
			delete(r.entries, sessionID)
		}
	}, true
}

// Cancel cancels the turn running on sessionID. Returns true if one was
// running.
func (r *InFlightRegistry) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return false
	}
	e.cancel()
	delete(r.entries, sessionID)
	return true
}

// Len returns the number of running turns.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CancelAll cancels every running turn and returns how many there were.
func (r *InFlightRegistry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for id, e := range r.entries {
		e.cancel()
		delete(r.entries, id)
	}
	return n
}
