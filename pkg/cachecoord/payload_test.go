package cachecoord

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

var byHash = cmpopts.SortSlices(func(a, b types.Torrent) bool { return a.InfoHash < b.InfoHash })

func TestEncodeDecodePayload_Roundtrip(t *testing.T) {
	p := payload{
		Torrents: []types.Torrent{
			{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Title: "Movie 1080p", SizeBytes: 4 << 30, Resolution: "1080p"},
		},
		HttpStreams: []types.HttpStream{
			{ProviderLabel: "hoster", DisplayTitle: "Movie", OpaqueURL: "https://example.com/a"},
		},
	}

	encoded, err := encodePayload(p)
	require.NoError(t, err)

	decoded, err := decodePayload(encoded)
	require.NoError(t, err)

	if diff := cmp.Diff(p, decoded); diff != "" {
		t.Fatalf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestMergePreferFirst_PreferredWinsOnHashCollision(t *testing.T) {
	fallback := payload{Torrents: []types.Torrent{
		{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 1, Resolution: "720p"},
		{InfoHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Seeders: 5, Resolution: "1080p"},
	}}
	preferred := payload{Torrents: []types.Torrent{
		{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 99, Resolution: "2160p"},
	}}

	merged := mergePreferFirst(preferred, fallback)

	want := []types.Torrent{
		{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 99, Resolution: "2160p"},
		{InfoHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Seeders: 5, Resolution: "1080p"},
	}
	if diff := cmp.Diff(want, merged.Torrents, byHash); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestWithoutHash_RemovesMatchingTorrentOnly(t *testing.T) {
	p := payload{Torrents: []types.Torrent{
		{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		{InfoHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
	}}
	out := withoutHash(p, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.Len(t, out.Torrents, 1)
	require.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", out.Torrents[0].InfoHash)
}
