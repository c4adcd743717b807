// Package ttlcache is a TTL-based in-memory cache with stale-while-revalidate.
package ttlcache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache uses sync.Map for lock-free reads on the hot path.
type Cache[K comparable, V any] struct {
	store sync.Map // map[K]*entry[V]
	ttl   time.Duration
}

type entry[V any] struct {
	value      V
	expiresAt  time.Time
	refreshing atomic.Bool
}

// Result holds the result of a cache lookup.
type Result[V any] struct {
	Value        V
	Hit          bool // true if a value was found (fresh or stale)
	NeedsRefresh bool // true if expired: caller should refresh in background
}

// New creates a cache with the given TTL.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{ttl: ttl}
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *Cache[K, V]) Get(key K) Result[V] {
	val, ok := c.store.Load(key)
	if !ok {
		return Result[V]{}
	}

	e := val.(*entry[V])
	if time.Now().Before(e.expiresAt) {
		return Result[V]{Value: e.value, Hit: true}
	}

	// Stale hit: only one goroutine wins the CAS
	needsRefresh := e.refreshing.CompareAndSwap(false, true)
	return Result[V]{
		Value:        e.value,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a value with a fresh TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.store.Store(key, &entry[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Release clears a stale entry's refresh claim after a failed refresh so a
// later Get can retry.
func (c *Cache[K, V]) Release(key K) {
	if val, ok := c.store.Load(key); ok {
		val.(*entry[V]).refreshing.Store(false)
	}
}

// Delete removes an entry from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.store.Delete(key)
}
