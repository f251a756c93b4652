package memcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ChallengeCookie is a solved bot-protection cookie. It is bound to the
// user-agent used to obtain it and must be replayed with that same UA.
type ChallengeCookie struct {
	CookieHeader string
	UserAgent    string
	SolvedAt     time.Time
}

// CookieCache stores one ChallengeCookie per domain, grounded on the
// teacher's fastcache-backed resultCache (cmd/deflix-stremio/cache.go).
//
// When rdb is non-nil, writes are additionally replicated to Redis so a
// fleet of aggregator processes shares solved cookies; reads still
// prefer the local copy, falling back to Redis only on a local miss, to
// avoid a network round trip on the common path.
type CookieCache struct {
	local  *fastcache.Cache
	rdb    *redis.Client
	logger *zap.Logger
}

// NewCookieCache builds a cache with an in-memory budget of maxBytes. rdb
// may be nil, in which case replication is skipped entirely.
func NewCookieCache(maxBytes int, rdb *redis.Client, logger *zap.Logger) *CookieCache {
	return &CookieCache{local: fastcache.New(maxBytes), rdb: rdb, logger: logger}
}

func (c *CookieCache) Set(domain string, cookie ChallengeCookie) {
	b, err := encodeCookie(cookie)
	if err != nil {
		c.logger.Error("couldn't encode challenge cookie", zap.Error(err), zap.String("domain", domain))
		return
	}
	c.local.Set([]byte(domain), b)
	if c.rdb != nil {
		if err := c.rdb.Set(context.Background(), "cf_cookie:"+domain, b, 0).Err(); err != nil {
			c.logger.Error("couldn't replicate challenge cookie to redis", zap.Error(err), zap.String("domain", domain))
		}
	}
}

func (c *CookieCache) Get(domain string) (ChallengeCookie, bool) {
	if b, found := c.local.HasGet(nil, []byte(domain)); found {
		var cookie ChallengeCookie
		if err := decodeCookie(b, &cookie); err == nil {
			return cookie, true
		}
	}
	if c.rdb == nil {
		return ChallengeCookie{}, false
	}
	b, err := c.rdb.Get(context.Background(), "cf_cookie:"+domain).Bytes()
	if err != nil {
		return ChallengeCookie{}, false
	}
	var cookie ChallengeCookie
	if err := decodeCookie(b, &cookie); err != nil {
		return ChallengeCookie{}, false
	}
	c.local.Set([]byte(domain), b)
	return cookie, true
}

// Clear drops a domain's cookie, used when a caller observes a 403/
// challenge page on a cookie believed fresh.
func (c *CookieCache) Clear(domain string) {
	c.local.Del([]byte(domain))
	if c.rdb != nil {
		c.rdb.Del(context.Background(), "cf_cookie:"+domain)
	}
}

func encodeCookie(v ChallengeCookie) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCookie(b []byte, v *ChallengeCookie) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
