// Package cache provides a small injectable TTL cache for read-path
// aggregates. It is constructed at process start and passed in explicitly;
// there is no package-level state.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a bounded map with per-entry expiry.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	ttl     time.Duration
	max     int

	now func() time.Time
}

// NewTTL creates a cache holding at most max entries for ttl each.
func NewTTL[K comparable, V any](ttl time.Duration, max int) *TTL[K, V] {
	if max <= 0 {
		max = 128
	}
	return &TTL[K, V]{
		entries: make(map[K]entry[V]),
		ttl:     ttl,
		max:     max,
		now:     time.Now,
	}
}

// Get returns the cached value and whether it is present and fresh.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores the value. When the cache is full, expired entries are evicted
// first; if none are expired the oldest-expiring entry goes.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops a key.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TTL[K, V]) evictLocked() {
	now := c.now()
	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if !found || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.expiresAt, true
		}
	}
	if len(c.entries) >= c.max && found {
		delete(c.entries, oldestKey)
	}
}
