package alerts

import (
	"sync"
	"time"
)

// PersistenceTracker maps condition keys to the time the condition was first
// observed met. One non-met observation drops the key, so duration only
// accumulates across continuous runs.
type PersistenceTracker struct {
	mu       sync.Mutex
	firstMet map[string]time.Time
}

// NewPersistenceTracker creates an empty tracker.
func NewPersistenceTracker() *PersistenceTracker {
	return &PersistenceTracker{firstMet: make(map[string]time.Time)}
}

// Track records the observation. Re-entry while already tracking keeps the
// original first-met time.
func (t *PersistenceTracker) Track(key string, isMet bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isMet {
		delete(t.firstMet, key)
		return
	}
	if _, ok := t.firstMet[key]; !ok {
		t.firstMet[key] = now
	}
}

// Duration returns the elapsed time since first-met, or false when the key is
// not tracking.
func (t *PersistenceTracker) Duration(key string, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	first, ok := t.firstMet[key]
	if !ok {
		return 0, false
	}
	return now.Sub(first), true
}

// IsMet reports whether the key has been continuously met for at least
// required seconds.
func (t *PersistenceTracker) IsMet(key string, requiredSeconds int, now time.Time) bool {
	d, ok := t.Duration(key, now)
	return ok && d >= time.Duration(requiredSeconds)*time.Second
}

// Clear drops one key.
func (t *PersistenceTracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.firstMet, key)
}

// ClearAll drops every key.
func (t *PersistenceTracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.firstMet = make(map[string]time.Time)
}
