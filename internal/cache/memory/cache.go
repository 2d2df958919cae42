// Package memory keeps the processed-locator cache in process using go-cache.
package memory

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache implements crawler.Cache.
type Cache struct {
	store *cache.Cache
}

// New builds a cache whose entries expire after ttl (0 keeps them forever).
func New(ttl time.Duration) *Cache {
	expiration := ttl
	if ttl <= 0 {
		expiration = cache.NoExpiration
	}
	cleanup := ttl
	if cleanup <= 0 {
		cleanup = time.Hour
	}
	return &Cache{store: cache.New(expiration, cleanup)}
}

// Has reports whether key was remembered and has not expired.
func (c *Cache) Has(key string) bool {
	_, ok := c.store.Get(key)
	return ok
}

// Remember records key with the default expiration.
func (c *Cache) Remember(key string) {
	c.store.Set(key, struct{}{}, cache.DefaultExpiration)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}
