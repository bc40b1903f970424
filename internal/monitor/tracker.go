package monitor

import "sync"

// Tracker holds the last observed status per URL. It is created once in app
// wiring and handed to every component that reads availability, so state
// never hides in a package global. Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]Status)}
}

// Record overwrites the status for url and returns the status it replaced,
// StatusUnknown for a URL never seen before.
func (t *Tracker) Record(url string, up bool) Status {
	next := StatusDown
	if up {
		next = StatusUp
	}

	t.mu.Lock()
	prev := t.statuses[url]
	t.statuses[url] = next
	t.mu.Unlock()
	return prev
}

// StatusOf returns the last recorded status, StatusUnknown if none.
func (t *Tracker) StatusOf(url string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statuses[url]
}

// Snapshot returns a copy of the current state for rendering.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Status, len(t.statuses))
	for url, st := range t.statuses {
		out[url] = st
	}
	return out
}
