package ranker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

func TestFilterTorrents_YearToleranceAndTitleMatch(t *testing.T) {
	ref := types.ContentRef{Kind: types.KindMovie, CanonicalTitle: "The Shawshank Redemption", ReleaseYear: 1994}
	torrents := []types.Torrent{
		{InfoHash: "1", Title: "The.Shawshank.Redemption.1994.1080p"},
		{InfoHash: "2", Title: "The.Shawshank.Redemption.1995.1080p"}, // within tolerance
		{InfoHash: "3", Title: "The.Shawshank.Redemption.2001.1080p"}, // outside tolerance
		{InfoHash: "4", Title: "Unrelated.Movie.1994.1080p"},
	}

	out := FilterTorrents(Request{Ref: ref}, torrents)

	var hashes []string
	for _, o := range out {
		hashes = append(hashes, o.InfoHash)
	}
	require.ElementsMatch(t, []string{"1", "2"}, hashes)
}

func TestFilterTorrents_EpisodeMustMatchExactly(t *testing.T) {
	ref := types.ContentRef{Kind: types.KindEpisode, Season: 1, Episode: 5}
	torrents := []types.Torrent{
		{InfoHash: "right", Title: "Show.S01E05.1080p"},
		{InfoHash: "wrong-episode", Title: "Show.S01E06.1080p"},
		{InfoHash: "unpinned", Title: "Show.Season.Pack.1080p"},
		{InfoHash: "parsed-fields", Season: 1, Episode: 5},
	}

	out := FilterTorrents(Request{Ref: ref}, torrents)

	var hashes []string
	for _, o := range out {
		hashes = append(hashes, o.InfoHash)
	}
	require.ElementsMatch(t, []string{"right", "parsed-fields"}, hashes)
}

func TestFilterTorrents_ResolutionAndSizeBounds(t *testing.T) {
	torrents := []types.Torrent{
		{InfoHash: "1", Resolution: "1080p", SizeBytes: 4 << 30},
		{InfoHash: "2", Resolution: "720p", SizeBytes: 1 << 30},
		{InfoHash: "3", Resolution: "1080p", SizeBytes: 40 << 30},
	}
	out := FilterTorrents(Request{
		Resolutions: []string{"1080p"},
		MinBytes:    2 << 30,
		MaxBytes:    10 << 30,
	}, torrents)

	require.Len(t, out, 1)
	require.Equal(t, "1", out[0].InfoHash)
}
