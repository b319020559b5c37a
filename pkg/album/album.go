// Package album suppresses repeated replies to the parts of a grouped post.
package album

import (
	"sync"
	"time"
)

// DefaultGrace is how long an album stays claimed after its first part.
const DefaultGrace = 5 * time.Second

// Deduplicator remembers album ids that were recently claimed. Entries expire
// after the grace window even if their release timer never fires.
type Deduplicator struct {
	mu      sync.Mutex
	grace   time.Duration
	entries map[int64]time.Time
	now     func() time.Time
}

func New(grace time.Duration) *Deduplicator {
	if grace <= 0 {
		grace = DefaultGrace
	}

	return &Deduplicator{
		grace:   grace,
		entries: make(map[int64]time.Time),
		now:     time.Now,
	}
}

// Grace returns the configured hold window.
func (d *Deduplicator) Grace() time.Duration {
	return d.grace
}

// Seen reports whether id is already claimed and claims it otherwise.
func (d *Deduplicator) Seen(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.sweepLocked(now)

	if _, ok := d.entries[id]; ok {
		return true
	}
	d.entries[id] = now.Add(d.grace)

	return false
}

// Release forgets id so that a later part is treated as new.
func (d *Deduplicator) Release(id int64) {
	d.mu.Lock()
	delete(d.entries, id)
	d.mu.Unlock()
}

// ReleaseAfter schedules Release(id) once wait has elapsed.
func (d *Deduplicator) ReleaseAfter(id int64, wait time.Duration) *time.Timer {
	return time.AfterFunc(wait, func() { d.Release(id) })
}

// Len returns the number of claimed albums.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.entries)
}

func (d *Deduplicator) sweepLocked(now time.Time) {
	for id, expiry := range d.entries {
		if !now.Before(expiry) {
			delete(d.entries, id)
		}
	}
}
