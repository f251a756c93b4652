package cachecoord

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxRefreshFailures = 6

type refreshState struct {
	inFlight      bool
	failures      int
	nextAllowedAt time.Time
}

// BackgroundRefresher schedules non-blocking, single-flight-per-key
// refreshes with exponential backoff, per cacheKey.
type BackgroundRefresher struct {
	mu         sync.Mutex
	states     map[string]*refreshState
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

func NewBackgroundRefresher(baseDelay, maxDelay time.Duration, logger *zap.Logger) *BackgroundRefresher {
	if baseDelay <= 0 {
		baseDelay = 30 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Minute
	}
	return &BackgroundRefresher{states: map[string]*refreshState{}, baseDelay: baseDelay, maxDelay: maxDelay, logger: logger}
}

// Trigger schedules fn to run for cacheKey after a backoff-computed
// delay, unless a refresh for that key is already in flight or the key
// is still within its cooldown from a previous attempt.
func (r *BackgroundRefresher) Trigger(cacheKey string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	st, ok := r.states[cacheKey]
	if !ok {
		st = &refreshState{}
		r.states[cacheKey] = st
	}
	if st.inFlight || time.Now().Before(st.nextAllowedAt) {
		r.mu.Unlock()
		return
	}
	st.inFlight = true
	failures := st.failures
	r.mu.Unlock()

	delay := r.backoff(failures)
	go func() {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := fn(ctx)
		r.settle(cacheKey, err)
	}()
}

// NotifyMiss resets a key's failure count after a foreground live search
// already refreshed it, so the next background trigger starts from a
// clean backoff state.
func (r *BackgroundRefresher) NotifyMiss(cacheKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[cacheKey]
	if !ok {
		st = &refreshState{}
		r.states[cacheKey] = st
	}
	st.failures = 0
	st.nextAllowedAt = time.Now()
}

func (r *BackgroundRefresher) settle(cacheKey string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[cacheKey]
	if !ok {
		return
	}
	st.inFlight = false
	if err != nil {
		if st.failures < maxRefreshFailures {
			st.failures++
		}
		r.logger.Debug("background refresh failed", zap.String("cacheKey", cacheKey), zap.Int("failures", st.failures), zap.Error(err))
	} else {
		st.failures = 0
	}
	st.nextAllowedAt = time.Now().Add(r.backoff(st.failures))
}

func (r *BackgroundRefresher) backoff(failures int) time.Duration {
	delay := time.Duration(float64(r.baseDelay) * math.Pow(2, float64(failures)))
	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(r.baseDelay) + 1))
	return delay + jitter
}
