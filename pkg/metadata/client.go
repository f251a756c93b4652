// Package metadata resolves an IMDb id to canonical title/year/
// alternative titles, used by the Aggregator and Ranker to fill in
// ContentRef metadata when a request arrives with only an id. Grounded
// on the teacher's two metadata collaborators: pkg/cinemata/client.go
// (a direct Cinemeta HTTP client with a fastcache read-through cache)
// for the HTTP shape, and pkg/metafetcher/client.go for the
// "try-a-primary-then-fall-back" multi-source pattern, generalized from
// imdb2meta-gRPC-then-Cinemeta into Cinemeta-only (the gRPC source is an
// external, non-vendored service outside this pack's reach; see
// DESIGN.md).
package metadata

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/memcache"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

const defaultBaseURL = "https://v3-cinemeta.strem.io"

// Info is the canonical metadata the Aggregator/Ranker enrich a
// ContentRef with when the caller didn't supply it.
type Info struct {
	Title       string
	AltTitles   []string
	ReleaseYear int
}

// Client is a read-through cache in front of a Cinemeta-shaped metadata
// API. On a miss or any upstream failure it returns ok=false; callers
// degrade gracefully (the title filter is skipped, not failed) per
// spec.md's metadata-enrichment rule.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *memcache.TTLCache
	logger     *zap.Logger
}

func New(baseURL string, httpClient *http.Client, cache *memcache.TTLCache, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, cache: cache, logger: logger}
}

// Enrich fills in CanonicalTitle/AltTitles/ReleaseYear on ref when
// absent. It never fails the caller: on any error the ref is returned
// unchanged.
func (c *Client) Enrich(ctx context.Context, ref types.ContentRef) types.ContentRef {
	if ref.CanonicalTitle != "" {
		return ref
	}
	info, ok := c.Get(ctx, ref.ImdbID, ref.Kind)
	if !ok {
		return ref
	}
	ref.CanonicalTitle = info.Title
	ref.AltTitles = info.AltTitles
	if ref.ReleaseYear == 0 {
		ref.ReleaseYear = info.ReleaseYear
	}
	return ref
}

// Get returns cached or freshly-fetched metadata for imdbID.
func (c *Client) Get(ctx context.Context, imdbID string, kind types.ContentKind) (Info, bool) {
	cacheKey := string(kind) + ":" + imdbID
	if v, ok := c.cache.Get(cacheKey); ok {
		if info, ok := v.(Info); ok {
			return info, true
		}
	}

	path := "/meta/movie/" + imdbID + ".json"
	if kind == types.KindEpisode {
		path = "/meta/series/" + imdbID + ".json"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.logger.Error("couldn't build metadata request", zap.Error(err), zap.String("imdbID", imdbID))
		return Info{}, false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("metadata request failed", zap.Error(err), zap.String("imdbID", imdbID))
		return Info{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("bad metadata response status", zap.Int("status", resp.StatusCode), zap.String("imdbID", imdbID))
		return Info{}, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Error("couldn't read metadata response", zap.Error(err))
		return Info{}, false
	}

	meta := gjson.GetBytes(body, "meta")
	name := meta.Get("name").String()
	if name == "" {
		return Info{}, false
	}
	info := Info{Title: name, ReleaseYear: int(meta.Get("year").Int())}
	for _, v := range meta.Get("slug").Array() {
		info.AltTitles = append(info.AltTitles, v.String())
	}

	c.cache.Set(cacheKey, info, 30*24*time.Hour)
	return info, true
}
