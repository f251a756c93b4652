package memcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// ResolveCache holds short-lived resolve outcomes keyed by ResolveKey, so
// two callers resolving the same content within the TTL window don't
// repeat the provider state machine. Grounded on the teacher's
// creationCache (cmd/deflix-stremio/cache.go), split into a success map
// and a shorter-TTL failure map.
type ResolveCache struct {
	success *gocache.Cache
	failure *gocache.Cache
}

// NewResolveCache builds the two maps. successTTL/failureTTL are the
// RESOLVE_SUCCESS_TTL / RESOLVE_FAIL_TTL values; each map's cleanup
// interval is twice its TTL.
func NewResolveCache(successTTL, failureTTL time.Duration) *ResolveCache {
	return &ResolveCache{
		success: gocache.New(successTTL, successTTL*2),
		failure: gocache.New(failureTTL, failureTTL*2),
	}
}

func (c *ResolveCache) PutSuccess(key types.ResolveKey, url string) {
	c.success.SetDefault(key.String(), url)
}

func (c *ResolveCache) Success(key types.ResolveKey) (string, bool) {
	v, ok := c.success.Get(key.String())
	if !ok {
		return "", false
	}
	url, ok := v.(string)
	return url, ok
}

func (c *ResolveCache) PutFailure(key types.ResolveKey) {
	c.failure.SetDefault(key.String(), time.Now())
}

func (c *ResolveCache) Failed(key types.ResolveKey) bool {
	_, ok := c.failure.Get(key.String())
	return ok
}

// ClearFailure drops a cached failure, used when the caller wants to
// force an immediate retry.
func (c *ResolveCache) ClearFailure(key types.ResolveKey) {
	c.failure.Delete(key.String())
}

// ItemCounts reports current entry counts, for the same periodic
// "cache stats" logging the teacher does for its go-cache instances.
func (c *ResolveCache) ItemCounts() (success, failure int) {
	return c.success.ItemCount(), c.failure.ItemCount()
}
