package ranker

import (
	"sort"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// SortStreams orders results isPersonal desc, resolution rank desc, size
// desc, per the compound sort key.
func SortStreams(streams []types.Stream) {
	sort.SliceStable(streams, func(i, j int) bool {
		a, b := streams[i], streams[j]
		if a.IsPersonal != b.IsPersonal {
			return a.IsPersonal
		}
		ra, rb := rankOf(a.Resolution), rankOf(b.Resolution)
		if ra != rb {
			return ra > rb
		}
		return a.SizeBytes > b.SizeBytes
	})
}

// ShadowPersonal drops non-personal streams sharing a hash with any
// personal stream in the set, since personal files always preempt
// externally-sourced duplicates.
func ShadowPersonal(streams []types.Stream) []types.Stream {
	shadowed := map[string]bool{}
	for _, s := range streams {
		if s.IsPersonal && s.Hash != "" {
			shadowed[s.Hash] = true
		}
	}
	out := make([]types.Stream, 0, len(streams))
	for _, s := range streams {
		if !s.IsPersonal && s.Hash != "" && shadowed[s.Hash] {
			continue
		}
		out = append(out, s)
	}
	return out
}
