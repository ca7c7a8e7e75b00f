// Package cache provides a short-lived in-memory key/value cache used to
// deduplicate REST requests for quotes, charts and derived data.
//
// Freshness is decided by the caller at read time, so the same physical entry
// can serve call sites with different staleness tolerances. There is no size
// bound and no background sweeper: entries leave via a stale read or an
// explicit clear, which is adequate for single-session scale.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	data      interface{}
	timestamp time.Time
}

// Cache is a time-boxed key/value cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Set stores a value under a key with a fresh timestamp, overwriting any
// previous entry unconditionally.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{data: value, timestamp: time.Now()}
}

// Get returns the cached value if it is no older than ttl. A stale entry is
// evicted at read time and reported as absent.
func (c *Cache) Get(key string, ttl time.Duration) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.timestamp) > ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.data, true
}

// Clear removes a single key.
func (c *Cache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// ClearAll empties the cache.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of entries currently held, including stale ones that
// have not been read since expiring.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetAs is a typed read. It behaves like Get and additionally reports absence
// when the stored value is not a T.
func GetAs[T any](c *Cache, key string, ttl time.Duration) (T, bool) {
	var zero T
	v, ok := c.Get(key, ttl)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
