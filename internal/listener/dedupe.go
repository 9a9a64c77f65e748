package listener

import (
	"sync"
	"time"
)

// deduper absorbs at-least-once redelivery by remembering message ids
// inside a sliding window.
type deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func newDeduper(window time.Duration) *deduper {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &deduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Seen records the id and reports whether it was already observed within
// the window. Expired entries are pruned on the way in.
func (d *deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.window)
	for k, t := range d.seen {
		if t.Before(cutoff) {
			delete(d.seen, k)
		}
	}

	if t, ok := d.seen[id]; ok && !t.Before(cutoff) {
		return true
	}
	d.seen[id] = now
	return false
}

// Forget releases an id so a redelivered copy can be retried after a
// handling failure.
func (d *deduper) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}
