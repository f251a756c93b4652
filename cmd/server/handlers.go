package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/aggregator"
	"github.com/deflix-tv/streamlink-aggregator/pkg/dedupe"
	"github.com/deflix-tv/streamlink-aggregator/pkg/provider"
	"github.com/deflix-tv/streamlink-aggregator/pkg/ranker"
	"github.com/deflix-tv/streamlink-aggregator/pkg/resolver"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// userConfig is the caller-selected, base64url-JSON-encoded route
// segment: which providers to query and each one's credentials.
type userConfig struct {
	Providers map[string]provider.UserConfig `json:"providers"`
}

func decodeUserConfig(encoded string) (userConfig, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return userConfig{}, err
	}
	var uc userConfig
	if err := json.Unmarshal(raw, &uc); err != nil {
		return userConfig{}, err
	}
	return uc, nil
}

// streamHandler implements streams(contentType, id, userCfg) → Stream[],
// generalized from the teacher's createStreamHandler
// (cmd/deflix-stremio/handlers.go) onto the Aggregator/CacheCoordinator
// pipeline instead of a direct per-request provider call.
func (a *app) streamHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	contentType := vars["type"]
	id := vars["id"]

	uc, err := decodeUserConfig(vars["userCfg"])
	if err != nil {
		http.Error(w, "invalid userCfg", http.StatusBadRequest)
		return
	}

	ref, err := parseContentRef(contentType, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ref = a.metaClient.Enrich(r.Context(), ref)

	if len(uc.Providers) == 0 {
		http.Error(w, "no provider configured", http.StatusBadRequest)
		return
	}

	if allowed, _ := a.governor.AllowClientIP("streams", clientIP(r), a.ipLimit); !allowed {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	tasks := make([]aggregator.Task, 0, len(uc.Providers))
	for name, pcfg := range uc.Providers {
		adapter, ok := a.adapters[name]
		if !ok {
			a.logger.Warn("unknown provider in userCfg", zap.String("provider", name))
			continue
		}
		providerName, cfg := name, pcfg
		tasks = append(tasks, aggregator.Task{
			ProviderName: providerName,
			Run: func(ctx context.Context) provider.SearchResult {
				return a.searchOne(ctx, providerName, adapter, ref, cfg)
			},
		})
	}

	filterReq := ranker.Request{
		Ref:         ref,
		Languages:   uc.languagesFor(""),
		Resolutions: uc.resolutionsFor(""),
		MinBytes:    uc.minBytesFor(""),
		MaxBytes:    uc.maxBytesFor(""),
	}
	streams := a.aggregator.Run(r.Context(), tasks, filterReq, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Streams []types.Stream `json:"streams"`
	}{streams})
}

// searchOne runs one provider's contribution through the request
// deduper and the cache coordinator, so concurrent identical requests
// for the same (provider, content, languages, identity) join a single
// live search, per spec.md §4.7/§4.8.
func (a *app) searchOne(ctx context.Context, providerName string, ad provider.Adapter, ref types.ContentRef, cfg provider.UserConfig) provider.SearchResult {
	identity := dedupe.IdentityHash(cfg.APIKey)
	key := dedupe.RequestKey(providerName, ref, cfg.Languages, identity)

	v, err, _ := a.deduper.Do(key, func() (interface{}, error) {
		res := a.coordinator.GetOrFetch(ctx, providerName, ref, cfg,
			func(ctx context.Context) provider.SearchResult { return ad.Search(ctx, ref, cfg) },
			nil,
		)
		return res, nil
	})
	if err != nil {
		a.logger.Error("search failed", zap.Error(err), zap.String("provider", providerName))
		return provider.SearchResult{}
	}
	return v.(provider.SearchResult)
}

// resolveHandler implements resolve(provider, apiKeyOrCreds, opaqueRef,
// clientIp) → finalUrl|error, redirecting to the resolved URL the way
// the teacher's createRedirectHandler does.
func (a *app) resolveHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	providerName := vars["provider"]

	raw, err := base64.RawURLEncoding.DecodeString(vars["ref"])
	if err != nil {
		http.Error(w, "invalid ref", http.StatusBadRequest)
		return
	}
	var req resolveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, "invalid ref", http.StatusBadRequest)
		return
	}

	if allowed, _ := a.governor.AllowClientIP(providerName, clientIP(r), a.ipLimit); !allowed {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	finalURL, err := a.resolver.Resolve(r.Context(), resolver.Request{
		Flow:       req.Flow,
		Provider:   providerName,
		APIKey:     req.APIKey,
		APIKeyTail: dedupe.IdentityHash(req.APIKey),
		OpaqueRef:  req.OpaqueRef,
		Hint:       req.Hint,
		CacheHint:  req.CacheHint,
	})
	if err != nil {
		a.logger.Info("resolve failed", zap.Error(err), zap.String("provider", providerName))
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	http.Redirect(w, r, finalURL, http.StatusFound)
}

// resolveRequest is the JSON shape carried in the resolve route's
// base64url "ref" segment, since a magnet URI or NZB descriptor can't
// safely live in a single unescaped path element.
type resolveRequest struct {
	Flow      resolver.Flow         `json:"flow"`
	APIKey    string                `json:"apiKey"`
	OpaqueRef string                `json:"opaqueRef"`
	Hint      *resolver.EpisodeHint `json:"hint,omitempty"`
	CacheHint *resolver.CacheHint   `json:"cacheHint,omitempty"`
}

// statusHandler is the operator diagnostic endpoint supplemented from
// original_source's dropped scope (SPEC_FULL.md §6), mirroring
// cmd/deflix-stremio/handlers.go's createStatusHandler: a canary search
// against every configured provider, reporting latency and cache stats.
func (a *app) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	canary := types.ContentRef{Kind: types.KindMovie, ImdbID: "tt0111161"}

	type providerStatus struct {
		Name      string `json:"name"`
		LatencyMs int64  `json:"latencyMs"`
		Results   int    `json:"results"`
		Error     string `json:"error,omitempty"`
	}

	statuses := make([]providerStatus, 0, len(a.adapters))
	for name, ad := range a.adapters {
		start := time.Now()
		res := ad.Search(ctx, canary, provider.UserConfig{})
		statuses = append(statuses, providerStatus{
			Name:      name,
			LatencyMs: time.Since(start).Milliseconds(),
			Results:   len(res.Torrents) + len(res.HttpStreams) + len(res.PersonalFiles),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Providers     []providerStatus `json:"providers"`
		DroppedWrites uint64           `json:"droppedWrites"`
	}{statuses, a.store.DroppedWrites()})
}

var (
	errBadID          = errBadRequest("malformed series id, expected imdbId:season:episode")
	errBadContentType = errBadRequest("contentType must be \"movie\" or \"series\"")
)

type errBadRequest string

func (e errBadRequest) Error() string { return string(e) }

func parseContentRef(contentType, id string) (types.ContentRef, error) {
	switch contentType {
	case "movie":
		return types.ContentRef{Kind: types.KindMovie, ImdbID: id}, nil
	case "series":
		parts := strings.Split(id, ":")
		if len(parts) != 3 {
			return types.ContentRef{}, errBadID
		}
		season, err := strconv.Atoi(parts[1])
		if err != nil {
			return types.ContentRef{}, errBadID
		}
		episode, err := strconv.Atoi(parts[2])
		if err != nil {
			return types.ContentRef{}, errBadID
		}
		return types.ContentRef{Kind: types.KindEpisode, ImdbID: parts[0], Season: season, Episode: episode}, nil
	default:
		return types.ContentRef{}, errBadContentType
	}
}

func (uc userConfig) languagesFor(providerName string) []string {
	if cfg, ok := uc.Providers[providerName]; ok {
		return cfg.Languages
	}
	for _, cfg := range uc.Providers {
		if len(cfg.Languages) > 0 {
			return cfg.Languages
		}
	}
	return nil
}

// resolutionsFor/minBytesFor/maxBytesFor mirror languagesFor: the
// resolution whitelist and size bounds are caller-wide filter settings
// (spec.md §4.12/§6), so any provider's cfg that carries them is
// authoritative; they're repeated per-provider in userCfg only because
// the whole per-provider config block is one flat JSON object.
func (uc userConfig) resolutionsFor(providerName string) []string {
	if cfg, ok := uc.Providers[providerName]; ok && len(cfg.Resolutions) > 0 {
		return cfg.Resolutions
	}
	for _, cfg := range uc.Providers {
		if len(cfg.Resolutions) > 0 {
			return cfg.Resolutions
		}
	}
	return nil
}

func (uc userConfig) minBytesFor(providerName string) int64 {
	if cfg, ok := uc.Providers[providerName]; ok && cfg.MinBytes > 0 {
		return cfg.MinBytes
	}
	for _, cfg := range uc.Providers {
		if cfg.MinBytes > 0 {
			return cfg.MinBytes
		}
	}
	return 0
}

func (uc userConfig) maxBytesFor(providerName string) int64 {
	if cfg, ok := uc.Providers[providerName]; ok && cfg.MaxBytes > 0 {
		return cfg.MaxBytes
	}
	for _, cfg := range uc.Providers {
		if cfg.MaxBytes > 0 {
			return cfg.MaxBytes
		}
	}
	return 0
}
