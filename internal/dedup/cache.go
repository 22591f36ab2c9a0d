// Package dedup tracks already-processed notification identifiers so that
// at-least-once delivery from the platforms does not double-apply side
// effects. The check happens before the entitlement transaction; the marker
// is recorded only after a successful commit, so a rollback never swallows a
// legitimate redelivery.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Cache is the dedup store. Seen reports whether the identifier was already
// processed; Record marks it processed.
type Cache interface {
	Seen(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, id string) error
}

// DefaultMaxEntries bounds the in-memory cache.
const DefaultMaxEntries = 500

// MemoryCache is a process-local bounded dedup set. It only dedupes within
// one running instance; use the Redis backend when scaling out.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	maxEntries int
	window     time.Duration
	now        func() time.Time
}

// NewMemoryCache creates a bounded in-memory dedup cache. Entries older than
// twice the window are evicted opportunistically once the cap is reached.
func NewMemoryCache(maxEntries int, window time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryCache{
		entries:    make(map[string]time.Time),
		maxEntries: maxEntries,
		window:     window,
		now:        time.Now,
	}
}

// Seen reports whether the identifier has been recorded.
func (c *MemoryCache) Seen(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok, nil
}

// Record marks the identifier as processed.
func (c *MemoryCache) Record(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[id] = c.now()
	return nil
}

// evictLocked drops entries older than twice the freshness window. If nothing
// is old enough the oldest entry goes, keeping the cache bounded.
func (c *MemoryCache) evictLocked() {
	cutoff := c.now().Add(-2 * c.window)
	var oldestID string
	var oldestAt time.Time
	for id, seenAt := range c.entries {
		if seenAt.Before(cutoff) {
			delete(c.entries, id)
			continue
		}
		if oldestID == "" || seenAt.Before(oldestAt) {
			oldestID, oldestAt = id, seenAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestID != "" {
		delete(c.entries, oldestID)
	}
}
