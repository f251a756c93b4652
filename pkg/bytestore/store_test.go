package bytestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// newTestStore opens a Store with a single write-queue worker so drain
// can establish a happens-before relationship between the writes under
// test and the read that follows, without sleeping.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{Path: t.TempDir(), WriteConcurrency: 1, WriteBacklog: 64}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// drain blocks until every write enqueued so far has been applied, by
// enqueueing a barrier job behind them. Safe only because newTestStore
// uses a single worker, so jobs run in enqueue order.
func drain(t *testing.T, store *Store) {
	t.Helper()
	done := make(chan struct{})
	store.queue.enqueue(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for write queue to drain")
	}
}

func TestStore_UpsertGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	store.Upsert(types.CacheRecord{
		Service:  "yts",
		Hash:     "abc123",
		Data:     []byte("payload"),
		Category: "movie",
	}, time.Hour)
	drain(t, store)

	got, ok := store.Get("yts", "abc123")
	require.True(t, ok)
	require.Equal(t, []byte("payload"), got.Data)
	require.Equal(t, "movie", got.Category)
	require.False(t, got.CreatedAt.IsZero())
}

func TestStore_Get_MissingKeyNotFound(t *testing.T) {
	store := newTestStore(t)
	_, ok := store.Get("yts", "nope")
	require.False(t, ok)
}

func TestStore_TTLExpiry(t *testing.T) {
	store := newTestStore(t)

	store.Upsert(types.CacheRecord{Service: "yts", Hash: "ttl1", Data: []byte("x")}, 20*time.Millisecond)
	drain(t, store)

	_, ok := store.Get("yts", "ttl1")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, ok = store.Get("yts", "ttl1")
	require.False(t, ok, "row past ExpiresAt must read as absent")
}

func TestStore_Delete_RemovesRow(t *testing.T) {
	store := newTestStore(t)
	store.Upsert(types.CacheRecord{Service: "yts", Hash: "del1", Data: []byte("x")}, time.Hour)
	drain(t, store)

	_, ok := store.Get("yts", "del1")
	require.True(t, ok)

	store.Delete("yts", "del1")
	_, ok = store.Get("yts", "del1")
	require.False(t, ok)
}

// TestStore_UpsertBulk_DedupesDuplicateServiceHashPairs exercises the
// documented bulk-upsert invariant: records sharing a (service, hash)
// key collapse to a single row, the last one submitted winning.
func TestStore_UpsertBulk_DedupesDuplicateServiceHashPairs(t *testing.T) {
	store := newTestStore(t)

	records := []types.CacheRecord{
		{Service: "yts", Hash: "h1", ReleaseKey: "movie:tt1", Category: "movie", Resolution: "1080p"},
		{Service: "yts", Hash: "h2", ReleaseKey: "movie:tt1", Category: "movie", Resolution: "720p"},
		{Service: "yts", Hash: "h1", ReleaseKey: "movie:tt1", Category: "movie", Resolution: "2160p"}, // duplicate key
		{Service: "yts", Hash: "h3", ReleaseKey: "movie:tt1", Category: "movie", Resolution: "720p"},
	}
	store.UpsertBulk(records, time.Hour)
	drain(t, store)

	// 4 submitted records, one duplicate (service, hash) pair (h1 twice)
	// persist exactly 3 rows.
	counts := store.CountsByRelease("yts", "movie:tt1")
	require.Equal(t, 3, counts.Total)
	require.Equal(t, 3, counts.ByCategory["movie"])

	// Last write for a duplicated key wins.
	got, ok := store.Get("yts", "h1")
	require.True(t, ok)
	require.Equal(t, "2160p", got.Resolution)
}

func TestStore_CountsByRelease_BucketsByResolution(t *testing.T) {
	store := newTestStore(t)

	store.UpsertBulk([]types.CacheRecord{
		{Service: "yts", Hash: "a", ReleaseKey: "movie:tt9", Category: "movie", Resolution: "2160p"},
		{Service: "yts", Hash: "b", ReleaseKey: "movie:tt9", Category: "movie", Resolution: "2160p"},
		{Service: "yts", Hash: "c", ReleaseKey: "movie:tt9", Category: "movie", Resolution: "1080p"},
	}, time.Hour)
	drain(t, store)

	counts := store.CountsByRelease("yts", "movie:tt9")
	require.Equal(t, 3, counts.Total)
	require.Equal(t, 2, counts.ByCategoryResolution["movie|2160p"])
	require.Equal(t, 1, counts.ByCategoryResolution["movie|1080p"])
}
