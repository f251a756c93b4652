package resolver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/bytestore"
	"github.com/deflix-tv/streamlink-aggregator/pkg/provider/debrid"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

func init() { bytestore.RegisterTypes() }

func newTestStore(t *testing.T) *bytestore.Store {
	t.Helper()
	store, err := bytestore.Open(bytestore.Options{Path: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

const testMagnet = "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa&dn=Movie"

// fakeDebrid is a scripted DebridBackend for exercising the resolve state
// machine without a network.
type fakeDebrid struct {
	addCalls    int32
	deleteCalls int32
	callIdx     int32
	statuses    []string // consumed one per TorrentInfo call, last value repeats
	links       []string
	allFiles    []debrid.TorrentFile
	unrestrict  string
	unrestrictErr error
}

func (f *fakeDebrid) AddMagnet(context.Context, string, string) (string, error) {
	atomic.AddInt32(&f.addCalls, 1)
	return "tid-1", nil
}

func (f *fakeDebrid) SelectFiles(context.Context, string, string) error { return nil }

func (f *fakeDebrid) TorrentInfo(_ context.Context, _ string, _ string) (debrid.TorrentInfo, error) {
	idx := int(atomic.AddInt32(&f.callIdx, 1)) - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	status := f.statuses[idx]
	info := debrid.TorrentInfo{Status: status, AllFiles: f.allFiles}
	if status == "downloaded" || status == "finished" {
		info.Links = f.links
	}
	return info, nil
}

func (f *fakeDebrid) Unrestrict(context.Context, string, string) (string, error) {
	return f.unrestrict, f.unrestrictErr
}

func (f *fakeDebrid) DeleteTorrent(context.Context, string, string) error {
	atomic.AddInt32(&f.deleteCalls, 1)
	return nil
}

var _ DebridBackend = (*fakeDebrid)(nil)

func TestResolveMagnetDebrid_HappyPath(t *testing.T) {
	store := newTestStore(t)
	backend := &fakeDebrid{
		statuses: []string{"downloaded"},
		links:    []string{"https://backend/link0"},
		allFiles: []debrid.TorrentFile{{ID: 1, Path: "Movie.mkv", Bytes: 1 << 30, Selected: true}},
		unrestrict: "https://final/url",
	}
	r := New(store, Options{}, zap.NewNop())
	r.RegisterDebrid("realdebrid", backend)

	url, err := r.Resolve(context.Background(), Request{
		Flow: FlowMagnetDebrid, Provider: "realdebrid", APIKey: "key", APIKeyTail: "key", OpaqueRef: testMagnet,
	})
	require.NoError(t, err)
	require.Equal(t, "https://final/url", url)
	require.Equal(t, int32(0), atomic.LoadInt32(&backend.deleteCalls))
}

func TestResolveMagnetDebrid_StaleClaimedCachedEvicts(t *testing.T) {
	store := newTestStore(t)
	store.Upsert(types.CacheRecord{Service: "realdebrid", Hash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}, time.Hour)
	backend := &fakeDebrid{statuses: []string{"downloading"}}
	r := New(store, Options{}, zap.NewNop())
	r.RegisterDebrid("realdebrid", backend)

	_, err := r.Resolve(context.Background(), Request{
		Flow: FlowMagnetDebrid, Provider: "realdebrid", APIKey: "key", APIKeyTail: "key", OpaqueRef: testMagnet,
		CacheHint: &CacheHint{ClaimedCached: true, SearchCacheKey: "k1", Hash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&backend.deleteCalls))

	_, ok := store.Get("realdebrid", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.False(t, ok)
}

func TestResolve_FailureCacheShortCircuitsRetry(t *testing.T) {
	store := newTestStore(t)
	backend := &fakeDebrid{statuses: []string{"error"}}
	r := New(store, Options{}, zap.NewNop())
	r.RegisterDebrid("realdebrid", backend)

	req := Request{Flow: FlowMagnetDebrid, Provider: "realdebrid", APIKey: "key", APIKeyTail: "key", OpaqueRef: testMagnet}
	_, err := r.Resolve(context.Background(), req)
	require.Error(t, err)

	_, err = r.Resolve(context.Background(), req)
	require.ErrorIs(t, err, ErrRecentFailure)
	require.Equal(t, int32(1), atomic.LoadInt32(&backend.addCalls))
}
