package cache

import (
	"sync"
	"time"
)

// CacheEntry holds a cached value with expiration
type CacheEntry[V any] struct {
	Value      V
	Expiration time.Time
}

// SimpleCache is a thread-safe in-memory cache with TTL. Entries are
// dropped lazily, at most once per TTL, while the cache is in use.
type SimpleCache[V any] struct {
	mu        sync.Mutex
	items     map[string]CacheEntry[V]
	ttl       time.Duration
	lastPurge time.Time
	now       func() time.Time
}

// NewSimpleCache creates a new cache whose entries live for ttl after their
// last access.
func NewSimpleCache[V any](ttl time.Duration) *SimpleCache[V] {
	return &SimpleCache[V]{
		items:     make(map[string]CacheEntry[V]),
		ttl:       ttl,
		lastPurge: time.Now(),
		now:       time.Now,
	}
}

// Get retrieves a value from cache if it exists and hasn't expired
func (c *SimpleCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists || c.now().After(entry.Expiration) {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// GetOrCreate returns the live value for key, creating it when missing or
// expired. Either way the entry's expiry is pushed out by the TTL.
func (c *SimpleCache[V]) GetOrCreate(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastPurge) >= c.ttl {
		c.purgeLocked(now)
	}

	entry, exists := c.items[key]
	if !exists || now.After(entry.Expiration) {
		entry.Value = create()
	}
	entry.Expiration = now.Add(c.ttl)
	c.items[key] = entry
	return entry.Value
}

// Delete removes a key from cache
func (c *SimpleCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Len returns the number of entries, expired ones included until purged.
func (c *SimpleCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

func (c *SimpleCache[V]) purgeLocked(now time.Time) {
	for key, entry := range c.items {
		if now.After(entry.Expiration) {
			delete(c.items, key)
		}
	}
	c.lastPurge = now
}
