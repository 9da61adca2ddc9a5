// Package cache provides a small LRU cache with per-entry TTL. It is
// strictly a read-through front for the durable store, never the source
// of truth.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config configures a Cache.
type Config struct {
	MaxItems   int
	DefaultTTL time.Duration
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	element   *list.Element
}

// Cache is an LRU cache with TTL support.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]*entry[K, V]
	order      *list.List
	maxItems   int
	defaultTTL time.Duration

	hits   int64
	misses int64
}

// New creates a cache. Non-positive limits fall back to defaults.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	return &Cache[K, V]{
		items:      make(map[K]*entry[K, V]),
		order:      list.New(),
		maxItems:   cfg.MaxItems,
		defaultTTL: cfg.DefaultTTL,
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.remove(e)
		c.misses++
		var zero V
		return zero, false
	}
	c.order.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Set stores a value under key. A non-positive ttl uses the default.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.items) >= c.maxItems {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*entry[K, V]))
	}

	e := &entry[K, V]{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	e.element = c.order.PushFront(e)
	c.items[key] = e
}

// Remove evicts key from the cache.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.remove(e)
	}
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit and miss counts since creation.
func (c *Cache[K, V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// remove must be called with the lock held.
func (c *Cache[K, V]) remove(e *entry[K, V]) {
	c.order.Remove(e.element)
	delete(c.items, e.key)
}
