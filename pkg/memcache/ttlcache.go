package memcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TTLCache is a small general-purpose read-through cache for components
// that need an arbitrary-value TTL map but don't fit the more specific
// resolve/cookie shapes above (e.g. pkg/metadata's canonical-title
// lookups). Grounded on the same teacher creationCache pattern as
// ResolveCache.
type TTLCache struct {
	c *gocache.Cache
}

// NewTTLCache builds a cache with the given default expiration; entries
// may still override it per-Set call.
func NewTTLCache(defaultExpiration, cleanupInterval time.Duration) *TTLCache {
	return &TTLCache{c: gocache.New(defaultExpiration, cleanupInterval)}
}

func (c *TTLCache) Get(key string) (interface{}, bool) {
	return c.c.Get(key)
}

func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	c.c.Set(key, value, ttl)
}

func (c *TTLCache) Delete(key string) {
	c.c.Delete(key)
}

func (c *TTLCache) ItemCount() int {
	return c.c.ItemCount()
}
