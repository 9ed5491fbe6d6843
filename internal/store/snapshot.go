package store

import "sync"

// Cache guards the snapshot published to the HTTP facade. The orchestrator
// replaces the whole value at the end of each cycle, so readers always see
// the last completed cycle and never block on an in-flight one.
type Cache struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewCache constructs an empty cache; Ready() is false until the first publish.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the last published snapshot. Contained maps are read-only.
func (c *Cache) Get() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Set publishes a new snapshot.
func (c *Cache) Set(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
}
