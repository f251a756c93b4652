package bytestore

import (
	"sync"
	"time"
)

// circuitBreaker opens after a run of consecutive write failures and
// rejects further writes until a cooldown elapses, per the teacher's
// "keep the aggregator responsive when the store is degraded" guarantee.
// Reads are never gated by the breaker.
type circuitBreaker struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	cooldown    time.Duration
	openUntil   time.Time
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{maxFailures: maxFailures, cooldown: cooldown}
}

// allow reports whether a write should be attempted. Once the cooldown has
// elapsed the breaker half-opens: the next write is let through and its
// outcome decides whether the breaker closes (success) or re-opens
// (failure, via recordFailure).
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	return !time.Now().Before(b.openUntil)
}

func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.maxFailures {
		b.openUntil = time.Now().Add(b.cooldown)
	}
}

func (b *circuitBreaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && time.Now().Before(b.openUntil)
}
