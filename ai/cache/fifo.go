// Package cache provides the bounded memoization cache used by the embedding
// layer.
package cache

import (
	"container/list"
	"sync"
)

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// FIFOCache is a bounded map with oldest-inserted-first eviction and generics.
// Unlike an LRU, reads do not reorder entries: the eviction order is purely
// insertion order, so a hot entry inserted long ago still ages out. That is
// the right trade-off for embedding memoization, where the value of an entry
// decays with the conversation moving on, not with access frequency.
type FIFOCache[K comparable, V any] struct {
	mu       sync.Mutex
	cache    map[K]*entry[K, V]
	order    *list.List // front = newest, back = oldest
	capacity int

	hits   int64
	misses int64
}

type entry[K comparable, V any] struct {
	element *list.Element
	key     K
	value   V
}

// NewFIFOCache creates a new FIFO cache.
func NewFIFOCache[K comparable, V any](capacity int) *FIFOCache[K, V] {
	if capacity <= 0 {
		capacity = 1000
	}
	return &FIFOCache[K, V]{
		capacity: capacity,
		cache:    make(map[K]*entry[K, V]),
		order:    list.New(),
	}
}

// Get retrieves a value from the cache and records a hit or miss.
func (c *FIFOCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores a value. Updating an existing key replaces the value without
// refreshing its insertion position.
func (c *FIFOCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		e.value = value
		return
	}

	for len(c.cache) >= c.capacity {
		c.evictOldestLocked()
	}

	e := &entry[K, V]{key: key, value: value}
	e.element = c.order.PushFront(e)
	c.cache[key] = e
}

// Contains checks key presence without touching the hit/miss counters.
func (c *FIFOCache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[key]
	return ok
}

// Size returns the number of entries in the cache.
func (c *FIFOCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Capacity returns the maximum capacity of the cache.
func (c *FIFOCache[K, V]) Capacity() int {
	return c.capacity
}

// Stats returns a snapshot of the hit/miss counters.
func (c *FIFOCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.cache)}
}

// Clear removes all entries. Counters are preserved.
func (c *FIFOCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[K]*entry[K, V])
	c.order.Init()
}

// evictOldestLocked removes the oldest-inserted entry. Caller holds c.mu.
func (c *FIFOCache[K, V]) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	e, ok := oldest.Value.(*entry[K, V])
	if !ok {
		return
	}
	c.order.Remove(e.element)
	delete(c.cache, e.key)
}
