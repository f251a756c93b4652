package rategovernor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowClientIP_BlocksAfterMaxRequestsWithinWindow(t *testing.T) {
	g := New(time.Hour)
	defer g.Close()

	limit := IPLimit{MaxRequests: 2, Window: time.Minute}

	allowed, retryAfter := g.AllowClientIP("realdebrid", "1.2.3.4", limit)
	require.True(t, allowed)
	require.Zero(t, retryAfter)

	allowed, retryAfter = g.AllowClientIP("realdebrid", "1.2.3.4", limit)
	require.True(t, allowed)
	require.Zero(t, retryAfter)

	allowed, retryAfter = g.AllowClientIP("realdebrid", "1.2.3.4", limit)
	require.False(t, allowed, "third request within the window must be rejected")
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestAllowClientIP_WindowResetsAfterItElapses(t *testing.T) {
	g := New(time.Hour)
	defer g.Close()

	limit := IPLimit{MaxRequests: 1, Window: 20 * time.Millisecond}

	allowed, _ := g.AllowClientIP("realdebrid", "1.2.3.4", limit)
	require.True(t, allowed)

	allowed, _ = g.AllowClientIP("realdebrid", "1.2.3.4", limit)
	require.False(t, allowed)

	time.Sleep(30 * time.Millisecond)

	allowed, _ = g.AllowClientIP("realdebrid", "1.2.3.4", limit)
	require.True(t, allowed, "a fresh window must allow the request again")
}

func TestAllowClientIP_TracksEachClientIPIndependently(t *testing.T) {
	g := New(time.Hour)
	defer g.Close()

	limit := IPLimit{MaxRequests: 1, Window: time.Minute}

	allowed, _ := g.AllowClientIP("realdebrid", "1.1.1.1", limit)
	require.True(t, allowed)
	allowed, _ = g.AllowClientIP("realdebrid", "1.1.1.1", limit)
	require.False(t, allowed)

	allowed, _ = g.AllowClientIP("realdebrid", "2.2.2.2", limit)
	require.True(t, allowed, "a different client IP must have its own counter")
}

func TestAllowClientIP_ZeroLimitAlwaysAllows(t *testing.T) {
	g := New(time.Hour)
	defer g.Close()

	allowed, retryAfter := g.AllowClientIP("realdebrid", "1.2.3.4", IPLimit{})
	require.True(t, allowed)
	require.Zero(t, retryAfter)
}

func TestAllowProvider_UnconfiguredProviderAlwaysAllowed(t *testing.T) {
	g := New(time.Hour)
	defer g.Close()

	require.True(t, g.AllowProvider("unconfigured"))
}

func TestAllowProvider_TokenBucketExhaustsThenRefills(t *testing.T) {
	g := New(time.Hour)
	defer g.Close()

	g.ConfigureProvider("yts", ProviderLimit{RPS: 1000, Burst: 1})

	require.True(t, g.AllowProvider("yts"), "first call must consume the single burst token")
	require.False(t, g.AllowProvider("yts"), "bucket must be empty immediately after")

	time.Sleep(5 * time.Millisecond)
	require.True(t, g.AllowProvider("yts"), "a high RPS must refill the bucket almost immediately")
}
