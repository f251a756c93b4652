package cachecoord

import (
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/bytestore"
)

// EvictHash drops a single info hash from the stored search-cache row at
// (providerName, cacheKey), used by pkg/resolver when a confirmed-cached
// hash turns out to still be downloading (spec.md scenario 3): the stale
// hash must not keep being offered to future searches as "cached" until
// the provider re-confirms it. The row itself is rewritten without that
// hash rather than deleted outright, since other hashes in the same
// search result must survive.
func EvictHash(store *bytestore.Store, logger *zap.Logger, providerName, cacheKey, hash string) {
	rec, ok := store.Get(providerName, cacheKey)
	if !ok {
		return
	}
	p, err := decodePayload(rec.Data)
	if err != nil {
		logger.Error("couldn't decode cache row for eviction", zap.Error(err), zap.String("provider", providerName), zap.String("cacheKey", cacheKey))
		return
	}
	p = withoutHash(p, hash)
	if p.empty() {
		store.Delete(providerName, cacheKey)
		return
	}
	data, err := encodePayload(p)
	if err != nil {
		logger.Error("couldn't re-encode cache row after eviction", zap.Error(err), zap.String("provider", providerName), zap.String("cacheKey", cacheKey))
		return
	}
	rec.Data = data
	store.Upsert(rec, 0)
}
