package challenge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/bytestore"
	"github.com/deflix-tv/streamlink-aggregator/pkg/memcache"
)

func TestIsChallenge_RecognizesKnownMarkers(t *testing.T) {
	require.True(t, IsChallenge("<html>Just a moment...</html>"))
	require.True(t, IsChallenge("<div class=\"cf-browser-verification\">"))
	require.False(t, IsChallenge("<html><body>ordinary page</body></html>"))
}

type stubStrategy struct {
	name   string
	result Result
	err    error
}

func (s stubStrategy) Name() string { return s.name }
func (s stubStrategy) Solve(ctx context.Context, targetURL, challengeHTML string) (Result, error) {
	return s.result, s.err
}

func TestSolver_PersistsCookieUnderDocumentedHashFormat(t *testing.T) {
	logger := zap.NewNop()
	store, err := bytestore.Open(bytestore.Options{Path: t.TempDir()}, logger)
	require.NoError(t, err)
	defer store.Close()

	cookies := memcache.NewCookieCache(1<<20, nil, logger)
	solver := NewSolver(cookies, store, []Strategy{
		stubStrategy{name: "emulator", result: Result{CookieHeader: "cf_clearance=abc", UserAgent: "ua-1"}},
	}, logger)

	res, ok := solver.Solve(context.Background(), "https://example.com/page", "Just a moment...")
	require.True(t, ok)
	require.Equal(t, "cf_clearance=abc", res.CookieHeader)

	// spec.md's documented cache-key format: hash is "{domain}_cf_cookie".
	rec, found := store.Get(cookieService, "example.com_cf_cookie")
	require.True(t, found)
	require.NotEmpty(t, rec.Data)

	_, wrongFormatFound := store.Get(cookieService, "example.com")
	require.False(t, wrongFormatFound)

	// the solved cookie is also held in the in-memory cookie cache, which
	// Solve consults before running any strategy.
	cookie, ok := cookies.Get("example.com")
	require.True(t, ok)
	require.Equal(t, "ua-1", cookie.UserAgent)

	solver.Clear("example.com")
	_, found = store.Get(cookieService, "example.com_cf_cookie")
	require.False(t, found)
	_, ok = cookies.Get("example.com")
	require.False(t, ok)
}

func TestSolver_NoStrategySucceeds(t *testing.T) {
	logger := zap.NewNop()
	store, err := bytestore.Open(bytestore.Options{Path: t.TempDir()}, logger)
	require.NoError(t, err)
	defer store.Close()

	cookies := memcache.NewCookieCache(1<<20, nil, logger)
	solver := NewSolver(cookies, store, []Strategy{
		stubStrategy{name: "emulator", err: context.DeadlineExceeded},
	}, logger)

	_, ok := solver.Solve(context.Background(), "https://example.com/page", "Just a moment...")
	require.False(t, ok)
}
