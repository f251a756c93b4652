// Package challenge solves bot-protection cookie challenges (the kind
// HTML-scraper providers hit behind Cloudflare-class fronting) and caches
// the solved cookie per domain, bound to the user-agent used to obtain
// it. The package has no direct teacher analogue — the teacher's
// providers assume unprotected upstreams — so its HTTP client shape
// follows the teacher's http.Client conventions
// (pkg/imdb2torrent/proxy.go) while the oracle strategy follows
// FlareSolverr's real wire protocol, the same one the pack's torznab
// provider administers
// (_examples/starsinc1708-TorrX/.../torznab/flaresolverr.go).
package challenge

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/bytestore"
	"github.com/deflix-tv/streamlink-aggregator/pkg/memcache"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// Result is a solved challenge: the page body obtained after solving, the
// cookie header to replay on subsequent requests, and the user-agent it
// is bound to.
type Result struct {
	BodyHTML     string
	CookieHeader string
	UserAgent    string
}

// Strategy attempts to solve a single challenge page.
type Strategy interface {
	Name() string
	Solve(ctx context.Context, targetURL, challengeHTML string) (Result, error)
}

// markers recognized in challenge pages, per well-known bot-protection
// interstitials.
var markers = []string{
	"Just a moment",
	"cf-browser-verification",
	"cf_chl_opt",
	"Checking your browser before accessing",
}

// IsChallenge reports whether html looks like a bot-protection
// interstitial rather than the real page.
func IsChallenge(html string) bool {
	for _, m := range markers {
		if strings.Contains(html, m) {
			return true
		}
	}
	return false
}

const cookieService = "cf_cookie"

// cookieHash returns the ByteStore hash for domain's solved cookie,
// matching spec.md's documented cache-key format ("{domain}_cf_cookie").
func cookieHash(domain string) string {
	return domain + "_cf_cookie"
}

// Solver tries each configured Strategy in order until one succeeds,
// caching the outcome both in-process and in the durable store.
type Solver struct {
	cookies    *memcache.CookieCache
	store      *bytestore.Store
	strategies []Strategy
	logger     *zap.Logger
}

func NewSolver(cookies *memcache.CookieCache, store *bytestore.Store, strategies []Strategy, logger *zap.Logger) *Solver {
	return &Solver{cookies: cookies, store: store, strategies: strategies, logger: logger}
}

// Solve returns a cached cookie for domain(targetURL) if one is on file;
// otherwise it runs each strategy until one succeeds, caches the result,
// and returns it. Returns false if no strategy could solve the
// challenge.
func (s *Solver) Solve(ctx context.Context, targetURL, challengeHTML string) (Result, bool) {
	domain := hostOf(targetURL)
	if cookie, ok := s.cookies.Get(domain); ok {
		return Result{CookieHeader: cookie.CookieHeader, UserAgent: cookie.UserAgent}, true
	}

	for _, strat := range s.strategies {
		res, err := strat.Solve(ctx, targetURL, challengeHTML)
		if err != nil {
			s.logger.Debug("challenge strategy failed", zap.String("strategy", strat.Name()), zap.String("domain", domain), zap.Error(err))
			continue
		}
		s.persist(domain, res)
		return res, true
	}
	s.logger.Warn("no challenge strategy solved domain", zap.String("domain", domain))
	return Result{}, false
}

// Clear drops a stale cookie for domain, called when the caller observes
// a 403/challenge page on a cookie it believed was fresh.
func (s *Solver) Clear(domain string) {
	s.cookies.Clear(domain)
	s.store.Delete(cookieService, cookieHash(domain))
}

func (s *Solver) persist(domain string, res Result) {
	now := time.Now()
	s.cookies.Set(domain, memcache.ChallengeCookie{
		CookieHeader: res.CookieHeader,
		UserAgent:    res.UserAgent,
		SolvedAt:     now,
	})
	data, err := bytestoreEncode(res)
	if err != nil {
		s.logger.Error("couldn't encode solved challenge cookie", zap.Error(err), zap.String("domain", domain))
		return
	}
	s.store.Upsert(types.CacheRecord{
		Service:   cookieService,
		Hash:      cookieHash(domain),
		Data:      data,
		CreatedAt: now,
	}, 24*time.Hour)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
