package watch

import (
	"sync"
	"time"
)

// DefaultDebounce is the per-path quiet period.
const DefaultDebounce = 500 * time.Millisecond

// pruneFactor bounds how long a path is remembered, in debounce windows.
const pruneFactor = 4

// Debouncer suppresses repeated notifications for the same path.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

// NewDebouncer creates a debouncer. A non-positive window uses DefaultDebounce.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Allow reports whether a notification for path at the given instant
// passes. A passing notification records its time; a suppressed one
// leaves the previous time in place.
func (d *Debouncer) Allow(path string, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[path]; ok && at.Sub(last) < d.window {
		return false
	}
	d.seen[path] = at
	return true
}

// Release forgets path so the next notification passes immediately.
func (d *Debouncer) Release(path string) {
	d.mu.Lock()
	delete(d.seen, path)
	d.mu.Unlock()
}

// Prune drops paths last seen more than four windows before now and
// returns how many were removed.
func (d *Debouncer) Prune(now time.Time) int {
	cutoff := now.Add(-pruneFactor * d.window)

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for path, last := range d.seen {
		if last.Before(cutoff) {
			delete(d.seen, path)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered paths.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
