package cachecoord

import (
	"sort"
	"strings"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// CacheKey normalizes (provider, contentType, contentRef, languages,
// cacheVersion) into a single collision-safe cache row hash. Series keys
// must stay collision-safe across episodes of the same show, so the
// colon-separated release key is flattened with a safe separator rather
// than used verbatim.
func CacheKey(providerName string, ref types.ContentRef, languages []string, cacheVersion string) string {
	norm := make([]string, len(languages))
	copy(norm, languages)
	for i, l := range norm {
		norm[i] = strings.ToLower(strings.TrimSpace(l))
	}
	sort.Strings(norm)

	safeRelease := strings.ReplaceAll(ref.ReleaseKey(), ":", "_")
	parts := []string{
		strings.ToLower(providerName),
		string(ref.Kind),
		safeRelease,
		strings.Join(norm, "+"),
		"v" + cacheVersion,
	}
	return strings.Join(parts, "|")
}
