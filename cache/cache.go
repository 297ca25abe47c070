package cache

import (
	"sync"
	"time"
)

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

func (item cacheItem[V]) expired(now time.Time) bool {
	return !item.expiresAt.IsZero() && now.After(item.expiresAt)
}

// Cache is a small thread-safe map with per-entry expiry. Expired entries are
// dropped lazily on access.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]cacheItem[V]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewCache returns a cache whose entries expire after ttl. A ttl of 0 never expires.
func NewCache[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		items:      make(map[K]cacheItem[V]),
		defaultTTL: ttl,
		now:        time.Now,
	}
}

func (c *Cache[K, V]) Set(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := cacheItem[V]{value: v}
	if c.defaultTTL > 0 {
		item.expiresAt = c.now().Add(c.defaultTTL)
	}
	c.items[k] = item
}

func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[k]
	if !ok {
		var zero V
		return zero, false
	}
	if item.expired(c.now()) {
		delete(c.items, k)
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *Cache[K, V]) Delete(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, k)
}

// Clean removes every entry.
func (c *Cache[K, V]) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]cacheItem[V])
}

// Len counts live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, item := range c.items {
		if item.expired(now) {
			delete(c.items, k)
			continue
		}
		n++
	}
	return n
}
