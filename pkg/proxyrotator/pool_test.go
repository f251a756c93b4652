package proxyrotator

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRotator(proxies ...string) *Rotator {
	r := &Rotator{
		proxies:     map[string]*proxyState{},
		maxFailures: 2,
		knownGoodN:  10,
		logger:      zap.NewNop(),
	}
	for _, addr := range proxies {
		r.proxies[addr] = &proxyState{addr: addr}
	}
	return r
}

func TestCandidates_ExcludesBlacklistedProxies(t *testing.T) {
	r := newTestRotator("p1", "p2", "p3")
	r.proxies["p2"].blacklisted = true

	out := r.candidates(10)
	require.ElementsMatch(t, []string{"p1", "p3"}, out)
}

func TestCandidates_PrefersKnownGoodOverUntried(t *testing.T) {
	r := newTestRotator("p1", "p2")
	r.recordSuccess("p1")

	out := r.candidates(1)
	require.Equal(t, []string{"p1"}, out)
}

// TestCandidates_ResetsFailureCountsOnceWhenEveryProxyIsBlacklisted covers
// spec.md §8's boundary case: once every proxy has failed MAX_FAILURES
// times, failure counts reset exactly once and the rotator retries the
// whole pool; after that single reset, a fresh full exhaustion is
// terminal.
func TestCandidates_ResetsFailureCountsOnceWhenEveryProxyIsBlacklisted(t *testing.T) {
	r := newTestRotator("p1", "p2", "p3")
	for _, p := range r.proxies {
		p.blacklisted = true
		p.failures = 5
	}

	out := r.candidates(3)
	require.ElementsMatch(t, []string{"p1", "p2", "p3"}, out, "first full exhaustion must trigger a one-time reset")
	require.True(t, r.exhaustionResetDone)
	for _, p := range r.proxies {
		require.False(t, p.blacklisted)
		require.Equal(t, 0, p.failures)
	}

	for _, p := range r.proxies {
		p.blacklisted = true
	}
	out = r.candidates(3)
	require.Empty(t, out, "exhaustion after the one-time reset must be terminal")
}

func TestRecordFailure_BlacklistsOnceOverMaxFailures(t *testing.T) {
	r := newTestRotator("p1")
	r.recordFailure("p1")
	r.recordFailure("p1")
	require.False(t, r.proxies["p1"].blacklisted, "maxFailures=2, exactly 2 failures must not yet blacklist")

	r.recordFailure("p1")
	require.True(t, r.proxies["p1"].blacklisted)
}

func TestRecordSuccess_ResetsFailureCount(t *testing.T) {
	r := newTestRotator("p1")
	r.recordFailure("p1")
	r.recordFailure("p1")
	r.recordSuccess("p1")
	require.Equal(t, 0, r.proxies["p1"].failures)
	require.False(t, r.proxies["p1"].lastSuccess.IsZero())
}
