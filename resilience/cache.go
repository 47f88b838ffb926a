// Package resilience provides the building blocks that keep upstream
// registry calls safe: a TTL/stale-TTL LRU cache, a sliding-window rate
// limiter, bounded exponential-backoff retries, and a circuit breaker.
package resilience

import (
	"container/list"
	"sync"
	"time"
)

// DefaultStaleTTL is the ceiling on how old an entry may get before
// degraded reads stop returning it.
const DefaultStaleTTL = 48 * time.Hour

// CacheStats is a point-in-time snapshot of cache activity.
type CacheStats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	StaleHits uint64 `json:"stale_hits"`
	Evictions uint64 `json:"evictions"`
}

type cacheEntry[T any] struct {
	key      string
	value    T
	cachedAt time.Time
}

// Cache is a bounded cache with LRU eviction, a fresh TTL, and a stale
// ceiling. Entries older than freshTTL are invisible to Get but stay
// available to GetWithStale until they pass staleTTL, which supports
// serving known-stale data during upstream outages. Safe for concurrent
// use.
type Cache[T any] struct {
	mu       sync.Mutex
	capacity int
	freshTTL time.Duration
	staleTTL time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	hits      uint64
	misses    uint64
	staleHits uint64
	evictions uint64

	now func() time.Time
}

// NewCache creates a cache holding at most capacity entries. A staleTTL
// of zero or below falls back to DefaultStaleTTL; a staleTTL below
// freshTTL is raised to freshTTL.
func NewCache[T any](capacity int, freshTTL, staleTTL time.Duration) *Cache[T] {
	if capacity < 1 {
		capacity = 1
	}
	if staleTTL <= 0 {
		staleTTL = DefaultStaleTTL
	}
	if staleTTL < freshTTL {
		staleTTL = freshTTL
	}

	return &Cache[T]{
		capacity: capacity,
		freshTTL: freshTTL,
		staleTTL: staleTTL,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the value for key only while the entry is fresh.
func (c *Cache[T]) Get(key string) (T, bool) {
	value, _, ok := c.GetWithStale(key, false)
	return value, ok
}

// GetWithStale returns the value for key. With allowStale set, entries
// past freshTTL but within staleTTL are returned with isStale=true.
// Entries past staleTTL are purged and reported absent.
func (c *Cache[T]) GetWithStale(key string, allowStale bool) (value T, isStale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T

	elem, exists := c.entries[key]
	if !exists {
		c.misses++
		return zero, false, false
	}

	entry := elem.Value.(*cacheEntry[T])
	age := c.now().Sub(entry.cachedAt)

	switch {
	case age <= c.freshTTL:
		c.order.MoveToFront(elem)
		c.hits++
		return entry.value, false, true

	case age <= c.staleTTL:
		if allowStale {
			c.staleHits++
			return entry.value, true, true
		}
		c.misses++
		return zero, false, false

	default:
		c.removeElement(elem)
		c.misses++
		return zero, false, false
	}
}

// Set stores value under key, refreshing its timestamp and recency.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		entry := elem.Value.(*cacheEntry[T])
		entry.value = value
		entry.cachedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry[T]{
		key:      key,
		value:    value,
		cachedAt: c.now(),
	})
	c.entries[key] = elem

	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
}

// Delete removes key from the cache if present.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		c.removeElement(elem)
	}
}

// Len returns the number of entries currently held, stale ones included.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// PurgeExpired removes every entry older than staleTTL and returns how
// many were dropped. Called periodically by the scheduler so abandoned
// keys do not sit in memory until the next lookup touches them.
func (c *Cache[T]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.staleTTL)
	purged := 0

	elem := c.order.Back()
	for elem != nil {
		prev := elem.Prev()
		entry := elem.Value.(*cacheEntry[T])
		if entry.cachedAt.Before(cutoff) {
			c.removeElement(elem)
			purged++
		}
		elem = prev
	}

	return purged
}

// Stats returns a snapshot of cache counters.
func (c *Cache[T]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:      len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		StaleHits: c.staleHits,
		Evictions: c.evictions,
	}
}

// removeElement drops an entry (caller must hold the lock).
func (c *Cache[T]) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry[T])
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
