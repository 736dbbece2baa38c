// Package cache provides a size-bounded read-through cache whose entries
// expire after a fixed TTL.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultSize = 1024

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// New creates a cache holding at most size entries, each living for ttl.
// A non-positive ttl disables expiry.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		size = defaultSize
	}

	if ttl < 0 {
		ttl = 0
	}

	return &Cache[K, V]{
		lru: expirable.NewLRU[K, V](size, nil, ttl),
	}
}

// Get returns the cached value for key and whether it was present and
// unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key, replacing any previous entry and resetting
// its TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Delete evicts key.
func (c *Cache[K, V]) Delete(key K) {
	c.lru.Remove(key)
}

// Len reports the number of live entries.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// Purge evicts every entry.
func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}
