package ranker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

func TestSortStreams_PersonalThenResolutionThenSize(t *testing.T) {
	streams := []types.Stream{
		{Name: "a", Resolution: "2160p", SizeBytes: 40 << 30},
		{Name: "b", Resolution: "1080p", SizeBytes: 8 << 30},
		{Name: "c", Resolution: "1080p", SizeBytes: 4 << 30},
		{Name: "personal", Resolution: "720p", SizeBytes: 1 << 30, IsPersonal: true},
	}

	SortStreams(streams)

	var order []string
	for _, s := range streams {
		order = append(order, s.Name)
	}
	require.Equal(t, []string{"personal", "a", "b", "c"}, order)
}

func TestShadowPersonal_DropsExternalDuplicateByHash(t *testing.T) {
	streams := []types.Stream{
		{Name: "external", Hash: "abc", IsPersonal: false},
		{Name: "personal", Hash: "abc", IsPersonal: true},
		{Name: "unrelated", Hash: "def", IsPersonal: false},
	}

	out := ShadowPersonal(streams)

	var names []string
	for _, s := range out {
		names = append(names, s.Name)
	}
	require.ElementsMatch(t, []string{"personal", "unrelated"}, names)
}
