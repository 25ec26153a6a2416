// Package tracker implements the per-request start-time tracker
// (component C): a mutex-guarded map from request id to method and start
// time, used to compute response durations and to recover the method
// name for an orphan response.
package tracker

import (
	"sync"
	"time"
)

type entry struct {
	method    string
	startedAt time.Time
}

// Tracker maps a request key to its method and start time. Keys are
// composed by callers as (serverName, sessionID, id) so that the same
// JSON-RPC id reused across servers or sessions does not collide.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]entry
	now     func() time.Time
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{pending: make(map[string]entry), now: time.Now}
}

// Key composes the tracker key for a given server, session, and raw
// JSON-RPC id (its string form).
func Key(serverName, sessionID, id string) string {
	return serverName + "\x00" + sessionID + "\x00" + id
}

// TrackRequest records the start time and method for key. Overwrites any
// existing entry for the same key.
func (t *Tracker) TrackRequest(key, method string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[key] = entry{method: method, startedAt: t.now()}
}

// CalculateDuration returns the elapsed milliseconds since TrackRequest
// was called for key, and removes the entry (single-shot). Returns
// (0, false) if key is unknown.
func (t *Tracker) CalculateDuration(key string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[key]
	if !ok {
		return 0, false
	}
	delete(t.pending, key)
	return t.now().Sub(e.startedAt).Milliseconds(), true
}

// GetMethod returns the method recorded for key without consuming it.
func (t *Tracker) GetMethod(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[key]
	return e.method, ok
}

// HasRequest reports whether key is currently tracked.
func (t *Tracker) HasRequest(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}
