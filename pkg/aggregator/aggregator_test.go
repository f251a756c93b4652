package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/provider"
	"github.com/deflix-tv/streamlink-aggregator/pkg/ranker"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

func torrentTask(name string, delay time.Duration, t types.Torrent) Task {
	return Task{
		ProviderName: name,
		Run: func(ctx context.Context) provider.SearchResult {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return provider.SearchResult{}
			}
			return provider.SearchResult{Torrents: []types.Torrent{t}}
		},
	}
}

func TestRun_EarlyReturnReleasesBeforeSlowProvider(t *testing.T) {
	a := New(Options{
		EarlyReturnEnabled:    true,
		EarlyReturnTimeout:    80 * time.Millisecond,
		EarlyReturnMinStreams: 1,
		GlobalDeadline:        2 * time.Second,
	}, zap.NewNop())

	fast := torrentTask("fast", 10*time.Millisecond, types.Torrent{InfoHash: "1111111111111111111111111111111111111111", Resolution: "1080p", SizeBytes: 4 << 30})
	slow := torrentTask("slow", 500*time.Millisecond, types.Torrent{InfoHash: "2222222222222222222222222222222222222222", Resolution: "2160p", SizeBytes: 40 << 30})

	var mu sync.Mutex
	var warmed []string
	start := time.Now()
	streams := a.Run(context.Background(), []Task{fast, slow}, ranker.Request{Ref: types.ContentRef{Kind: types.KindMovie}}, func(name string, _ provider.SearchResult) {
		mu.Lock()
		warmed = append(warmed, name)
		mu.Unlock()
	})
	elapsed := time.Since(start)

	require.Len(t, streams, 1)
	require.Equal(t, "1111111111111111111111111111111111111111", streams[0].Hash)
	require.Less(t, elapsed, 500*time.Millisecond, "should release before the slow provider finishes")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(warmed) == 2
	}, time.Second, 10*time.Millisecond, "slow provider's result should still land via the warm callback")
}

func TestRun_BlockingProviderDelaysGate(t *testing.T) {
	a := New(Options{
		EarlyReturnEnabled:    true,
		EarlyReturnTimeout:    20 * time.Millisecond,
		EarlyReturnMinStreams: 1,
		GlobalDeadline:        2 * time.Second,
	}, zap.NewNop())

	fast := torrentTask("fast", 5*time.Millisecond, types.Torrent{InfoHash: "1111111111111111111111111111111111111111", Resolution: "720p", SizeBytes: 1 << 30})
	blocking := Task{
		ProviderName:        "blocking",
		EarlyReturnBlocking: true,
		Run: func(ctx context.Context) provider.SearchResult {
			time.Sleep(120 * time.Millisecond)
			return provider.SearchResult{Torrents: []types.Torrent{{InfoHash: "3333333333333333333333333333333333333333", Resolution: "1080p", SizeBytes: 2 << 30}}}
		},
	}

	start := time.Now()
	streams := a.Run(context.Background(), []Task{fast, blocking}, ranker.Request{Ref: types.ContentRef{Kind: types.KindMovie}}, nil)
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "gate must not fire while a blocking provider is pending")
	require.Len(t, streams, 2)
}

func TestRun_PerTaskTimeoutYieldsEmptyContribution(t *testing.T) {
	a := New(Options{EarlyReturnEnabled: false, GlobalDeadline: time.Second}, zap.NewNop())
	never := Task{
		ProviderName: "never",
		Timeout:      10 * time.Millisecond,
		Run: func(ctx context.Context) provider.SearchResult {
			<-ctx.Done()
			return provider.SearchResult{}
		},
	}
	streams := a.Run(context.Background(), []Task{never}, ranker.Request{Ref: types.ContentRef{Kind: types.KindMovie}}, nil)
	require.Empty(t, streams)
}

func TestRun_PersonalFileShadowsDuplicateHash(t *testing.T) {
	a := New(Options{EarlyReturnEnabled: false, GlobalDeadline: time.Second}, zap.NewNop())
	hash := "4444444444444444444444444444444444444444"
	external := Task{ProviderName: "tpb", Run: func(context.Context) provider.SearchResult {
		return provider.SearchResult{Torrents: []types.Torrent{{InfoHash: hash, Title: "Movie.1080p.mkv", Resolution: "1080p", SizeBytes: 3 << 30}}}
	}}
	personal := Task{ProviderName: "realdebrid", Run: func(context.Context) provider.SearchResult {
		return provider.SearchResult{PersonalFiles: []types.PersonalFile{{Provider: "realdebrid", Hash: hash, FileName: "Movie.1080p.mkv", SizeBytes: 3 << 30}}}
	}}

	streams := a.Run(context.Background(), []Task{external, personal}, ranker.Request{Ref: types.ContentRef{Kind: types.KindMovie}}, nil)
	require.Len(t, streams, 1)
	require.True(t, streams[0].IsPersonal)
}
