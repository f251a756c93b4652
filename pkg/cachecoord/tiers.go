package cachecoord

import (
	"github.com/deflix-tv/streamlink-aggregator/pkg/bytestore"
)

// TierRequirement is one acceptable resolution-bucket combination for
// tier-aware sufficiency: satisfied when every listed resolution's
// minimum count is met.
type TierRequirement map[string]int

// DefaultTiers is the spec's own tier-aware sufficiency example
// (spec.md §4.8): "cache is sufficient if it meets minimums per
// resolution bucket (e.g. ≥2×2160p or ≥2×1080p with ≥1×720p)."
var DefaultTiers = []TierRequirement{
	{"2160p": 2},
	{"1080p": 2, "720p": 1},
}

// tierSufficient reports whether counts satisfies any one of tiers for
// category.
func tierSufficient(counts bytestore.ReleaseCounts, category string, tiers []TierRequirement) bool {
	for _, tier := range tiers {
		met := true
		for res, min := range tier {
			if counts.ByCategoryResolution[category+"|"+res] < min {
				met = false
				break
			}
		}
		if met {
			return true
		}
	}
	return false
}

// TierSufficient is the exported form used directly by a caller that
// wants the tier-aware sufficiency check on a provider not registered
// as tier-aware in Options (e.g. a one-off diagnostic).
func (c *Coordinator) TierSufficient(providerName string, releaseKey, category string, tiers []TierRequirement) bool {
	if tiers == nil {
		tiers = DefaultTiers
	}
	counts := c.store.CountsByRelease(providerName, releaseKey)
	return tierSufficient(counts, category, tiers)
}
