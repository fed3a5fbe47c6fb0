// Package ticker runs the refresh pipeline: it periodically pulls raw events
// from a source, filters and formats them, atomically replaces the cached
// snapshot, and hands the new snapshot to the broadcaster.
package ticker

import (
	"sync"

	"github.com/petal-labs/calticker/event"
)

// Cache holds the current event snapshot. Reads never observe a partially
// built snapshot: Replace swaps the whole value under the write lock.
type Cache struct {
	mu       sync.RWMutex
	snapshot event.Snapshot
}

// NewCache creates a cache seeded with the empty pre-refresh snapshot.
func NewCache() *Cache {
	return &Cache{snapshot: event.EmptySnapshot()}
}

// Snapshot returns the current snapshot.
func (c *Cache) Snapshot() event.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Replace swaps in a new snapshot.
func (c *Cache) Replace(s event.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = s
}
