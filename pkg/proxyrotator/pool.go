package proxyrotator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SourceFunc fetches the current list of candidate SOCKS5 "host:port"
// addresses from wherever the operator configures (a static list, a
// provider's proxy-list endpoint, …).
type SourceFunc func(ctx context.Context) ([]string, error)

type proxyState struct {
	addr        string
	failures    int
	lastUsed    time.Time
	lastSuccess time.Time
	blacklisted bool
}

// Rotator owns the proxy pool: periodic refresh of the candidate list,
// per-proxy failure tracking, and promotion of a "known-good" shortlist.
type Rotator struct {
	mu      sync.Mutex
	proxies map[string]*proxyState

	source      SourceFunc
	maxFailures int
	knownGoodN  int
	timeout     time.Duration

	// exhaustionResetDone guards the one-time blacklist reset described
	// in spec.md §8: when every proxy in the pool has been blacklisted,
	// failure counts are reset once and the rotator retries the whole
	// pool, rather than blacklisting being unconditionally permanent for
	// the process lifetime. Once that single reset has fired, exhaustion
	// is terminal again and callers see the last failed attempt's error
	// (the errors of earlier attempts are not combined into it).
	exhaustionResetDone bool

	refreshGroup singleflight.Group
	logger       *zap.Logger
}

// Options configures a Rotator. Zero values fall back to the component
// design's defaults.
type Options struct {
	RefreshInterval time.Duration // default 10m
	MaxFailures     int           // default 2
	KnownGoodSize   int           // default 10
	RequestTimeout  time.Duration // default 10s
}

func (o Options) withDefaults() Options {
	if o.RefreshInterval == 0 {
		o.RefreshInterval = 10 * time.Minute
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 2
	}
	if o.KnownGoodSize == 0 {
		o.KnownGoodSize = 10
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 10 * time.Second
	}
	return o
}

// New builds a Rotator and performs an initial synchronous refresh using
// source, then refreshes again every opts.RefreshInterval in the
// background until ctx is done.
func New(ctx context.Context, source SourceFunc, opts Options, logger *zap.Logger) *Rotator {
	opts = opts.withDefaults()
	r := &Rotator{
		proxies:     map[string]*proxyState{},
		source:      source,
		maxFailures: opts.MaxFailures,
		knownGoodN:  opts.KnownGoodSize,
		timeout:     opts.RequestTimeout,
		logger:      logger,
	}
	r.refresh(ctx)
	go r.refreshLoop(ctx, opts.RefreshInterval)
	return r
}

func (r *Rotator) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh fetches the candidate list, with only one fetch in flight at a
// time regardless of how many callers trigger it concurrently.
func (r *Rotator) refresh(ctx context.Context) {
	_, _, _ = r.refreshGroup.Do("refresh", func() (interface{}, error) {
		addrs, err := r.source(ctx)
		if err != nil {
			r.logger.Warn("proxy source refresh failed", zap.Error(err))
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, addr := range addrs {
			if _, ok := r.proxies[addr]; !ok {
				r.proxies[addr] = &proxyState{addr: addr}
			}
		}
		r.logger.Info("refreshed proxy pool", zap.Int("candidates", len(addrs)), zap.Int("known", len(r.proxies)))
		return nil, nil
	})
}

// candidates returns up to n proxy addresses to try next: the known-good
// shortlist first (most-recently-successful), then the remainder of the
// non-blacklisted pool, deduplicated. If every proxy in a non-empty pool
// is blacklisted, it performs the one-time failure-count reset described
// in spec.md §8 and retries against the freshly-unblacklisted pool.
func (r *Rotator) candidates(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.allBlacklistedLocked() {
		r.resetExhaustionLocked()
	}

	var good, rest []*proxyState
	for _, p := range r.proxies {
		if p.blacklisted {
			continue
		}
		if !p.lastSuccess.IsZero() {
			good = append(good, p)
		} else {
			rest = append(rest, p)
		}
	}
	sort.Slice(good, func(i, j int) bool { return good[i].lastSuccess.After(good[j].lastSuccess) })
	if len(good) > r.knownGoodN {
		good = good[:r.knownGoodN]
	}

	out := make([]string, 0, n)
	seen := map[string]bool{}
	for _, p := range good {
		if len(out) >= n {
			break
		}
		out = append(out, p.addr)
		seen[p.addr] = true
	}
	for _, p := range rest {
		if len(out) >= n {
			break
		}
		if !seen[p.addr] {
			out = append(out, p.addr)
		}
	}
	return out
}

// allBlacklistedLocked reports whether the pool is non-empty and every
// proxy in it is blacklisted. Caller must hold r.mu.
func (r *Rotator) allBlacklistedLocked() bool {
	if len(r.proxies) == 0 {
		return false
	}
	for _, p := range r.proxies {
		if !p.blacklisted {
			return false
		}
	}
	return true
}

// resetExhaustionLocked clears every proxy's blacklist flag and failure
// count exactly once per process lifetime, the spec's documented escape
// hatch for "every proxy failed MAX_FAILURES times": after this fires,
// exhaustion is terminal again (RequestWithRotation returns the last
// failed attempt's error once the freshly-reset pool fails too). Caller must
// hold r.mu.
func (r *Rotator) resetExhaustionLocked() {
	if r.exhaustionResetDone {
		return
	}
	r.exhaustionResetDone = true
	for _, p := range r.proxies {
		p.blacklisted = false
		p.failures = 0
	}
	r.logger.Warn("every proxy blacklisted, resetting failure counts once", zap.Int("pool", len(r.proxies)))
}

func (r *Rotator) recordSuccess(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[addr]
	if !ok {
		return
	}
	p.failures = 0
	p.lastUsed = time.Now()
	p.lastSuccess = time.Now()
}

func (r *Rotator) recordFailure(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[addr]
	if !ok {
		return
	}
	p.failures++
	p.lastUsed = time.Now()
	if p.failures > r.maxFailures {
		p.blacklisted = true
	}
}

// PoolSize reports the number of non-blacklisted proxies, for
// diagnostics.
func (r *Rotator) PoolSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.proxies {
		if !p.blacklisted {
			n++
		}
	}
	return n
}
