package bytestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newCircuitBreaker(3, time.Hour)
	require.True(t, cb.allow())

	cb.recordFailure()
	cb.recordFailure()
	require.True(t, cb.allow(), "breaker must stay closed below maxFailures")
	require.False(t, cb.isOpen())

	cb.recordFailure()
	require.False(t, cb.allow(), "breaker must open once failures reach maxFailures")
	require.True(t, cb.isOpen())
}

func TestCircuitBreaker_HalfOpensAfterCooldown(t *testing.T) {
	cb := newCircuitBreaker(1, 20*time.Millisecond)

	cb.recordFailure()
	require.False(t, cb.allow())
	require.True(t, cb.isOpen())

	time.Sleep(30 * time.Millisecond)

	require.True(t, cb.allow(), "cooldown elapsed, breaker must half-open and let the next write through")
	require.False(t, cb.isOpen())
}

func TestCircuitBreaker_SuccessAfterHalfOpenCloses(t *testing.T) {
	cb := newCircuitBreaker(1, 20*time.Millisecond)

	cb.recordFailure()
	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.allow())

	cb.recordSuccess()
	require.True(t, cb.allow())
	require.False(t, cb.isOpen())
}

func TestCircuitBreaker_FailureAfterHalfOpenReopens(t *testing.T) {
	cb := newCircuitBreaker(1, 20*time.Millisecond)

	cb.recordFailure()
	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.allow())

	cb.recordFailure()
	require.False(t, cb.allow(), "a failure during the half-open trial must reopen the breaker")
	require.True(t, cb.isOpen())
}
