// Command server wires the pkg/* components into the HTTP surface
// described in spec.md §6: streams(contentType, id, userCfg) and
// resolve(provider, apiKeyOrCreds, opaqueRef, clientIp), plus a /status
// diagnostic endpoint. pkg/challenge, pkg/proxyrotator and memcache's
// CookieCache are not constructed here. Grounded on the teacher's cmd/deflix-stremio/
// main.go init{Stores,Caches,Clients} split and its root main.go's
// gorilla/mux + gorilla/handlers wiring (the teacher's go-stremio addon
// framework is the SDK layer this binary replaces; see DESIGN.md).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/aggregator"
	"github.com/deflix-tv/streamlink-aggregator/pkg/bytestore"
	"github.com/deflix-tv/streamlink-aggregator/pkg/cachecoord"
	"github.com/deflix-tv/streamlink-aggregator/pkg/config"
	"github.com/deflix-tv/streamlink-aggregator/pkg/dedupe"
	"github.com/deflix-tv/streamlink-aggregator/pkg/memcache"
	"github.com/deflix-tv/streamlink-aggregator/pkg/metadata"
	"github.com/deflix-tv/streamlink-aggregator/pkg/provider"
	"github.com/deflix-tv/streamlink-aggregator/pkg/provider/debrid"
	"github.com/deflix-tv/streamlink-aggregator/pkg/provider/personalcloud"
	"github.com/deflix-tv/streamlink-aggregator/pkg/provider/torrentindex"
	"github.com/deflix-tv/streamlink-aggregator/pkg/rategovernor"
	"github.com/deflix-tv/streamlink-aggregator/pkg/resolver"
)

func init() {
	bytestore.RegisterTypes()
}

// app bundles every long-lived collaborator handlers need, built once at
// boot and closed over by the route handlers.
type app struct {
	cfg         config.Config
	store       *bytestore.Store
	coordinator *cachecoord.Coordinator
	refresher   *cachecoord.BackgroundRefresher
	aggregator  *aggregator.Aggregator
	resolver    *resolver.Resolver
	governor    *rategovernor.Governor
	ipLimit     rategovernor.IPLimit
	deduper     *dedupe.Deduper
	metaClient  *metadata.Client

	adapters map[string]provider.Adapter

	logger *zap.Logger
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load(logger)
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		logger = logger.WithOptions(zap.IncreaseLevel(lvl))
	}
	logger.Info("starting server", zap.Int("port", cfg.Port), zap.String("cachePath", cfg.CachePath))

	store, err := bytestore.Open(bytestore.Options{
		Path:             cfg.CachePath,
		GCInterval:       cfg.BadgerGCInterval,
		WriteConcurrency: cfg.UpsertConcurrency,
		WriteBacklog:     cfg.UpsertQueueMax,
		MaxFailures:      cfg.MaxConsecutiveFailures,
	}, logger)
	if err != nil {
		logger.Fatal("couldn't open byte store", zap.Error(err))
	}

	a := build(cfg, store, logger)

	r := mux.NewRouter()
	a.routes(r)

	srv := &http.Server{
		Addr:         cfg.BindAddr + ":" + strconv.Itoa(cfg.Port),
		Handler:      withMiddleware(r, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during HTTP shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped unexpectedly", zap.Error(err))
	}

	a.governor.Close()
	if err := multierr.Combine(store.Close(), logger.Sync()); err != nil {
		logger.Error("error during shutdown cleanup", zap.Error(err))
	}
}

// build constructs every collaborator. The provider set below is
// intentionally small and illustrative of the three adapter families
// (torrent index, debrid, personal cloud); operators add more indexers
// the same way.
func build(cfg config.Config, store *bytestore.Store, logger *zap.Logger) *app {
	httpClient := &http.Client{Timeout: 15 * time.Second}

	metaCache := memcache.NewTTLCache(30*24*time.Hour, time.Hour)
	metaClient := metadata.New(cfg.MetadataBaseURL, httpClient, metaCache, logger)

	refresher := cachecoord.NewBackgroundRefresher(
		time.Duration(cfg.BackgroundRefreshBaseDelayMs)*time.Millisecond,
		time.Duration(cfg.BackgroundRefreshMaxDelayMs)*time.Millisecond,
		logger,
	)

	coordinator := cachecoord.New(store, refresher, cachecoord.Options{
		CacheVersion:         cfg.CacheVersion,
		MinResultsPerService: cfg.MinResultsPerService,
		DefaultTTL:           cfg.DefaultCacheTTL,
		URLCacheWhitelist:    map[string]bool{"realdebrid": true, "alldebrid": true, "premiumize": true},
		// yts is a 4K-prioritizing indexer: a plain "at least one
		// cached result" check would happily serve two stale 480p rows
		// instead of doing a live search for better quality, so it gets
		// the resolution-bucket sufficiency check instead (spec.md
		// §4.8).
		TierAwareProviders: map[string]bool{"yts": true},
	}, nil, logger)

	agg := aggregator.New(aggregator.Options{
		EarlyReturnEnabled:    cfg.EarlyReturnEnabled,
		EarlyReturnTimeout:    time.Duration(cfg.EarlyReturnTimeoutMs) * time.Millisecond,
		EarlyReturnMinStreams: cfg.EarlyReturnMinStreams,
		GlobalDeadline:        60 * time.Second,
	}, logger)

	res := resolver.New(store, resolver.Options{
		SuccessTTL:       time.Duration(cfg.ResolveSuccessTTLMs) * time.Millisecond,
		FailureTTL:       time.Duration(cfg.ResolveFailTTLMs) * time.Millisecond,
		SkipSuccessCache: map[string]bool{"realdebrid": true, "alldebrid": true},
	}, logger)

	governor := rategovernor.New(time.Duration(cfg.RateLimitCleanupMs) * time.Millisecond)

	adapters := map[string]provider.Adapter{}

	ytsClient := torrentindex.New("yts", "https://yts.mx", httpClient, nil, logger)
	adapters[ytsClient.Name()] = ytsClient
	leetxClient := torrentindex.NewHTMLClient("1337x", "https://1337x.to", httpClient, logger)
	adapters[leetxClient.Name()] = leetxClient

	rdClient := debrid.New("realdebrid", "https://api.real-debrid.com", httpClient, logger)
	adapters[rdClient.Name()] = rdClient
	res.RegisterDebrid(rdClient.Name(), rdClient)

	adClient := debrid.New("alldebrid", "https://api.alldebrid.com/v4", httpClient, logger)
	adapters[adClient.Name()] = adClient
	res.RegisterDebrid(adClient.Name(), adClient)

	rdCloudClient := personalcloud.New("realdebrid", rdClient, logger)
	adapters[rdCloudClient.Name()+"-cloud"] = rdCloudClient

	return &app{
		cfg:         cfg,
		store:       store,
		coordinator: coordinator,
		refresher:   refresher,
		aggregator:  agg,
		resolver:    res,
		governor:    governor,
		deduper:     dedupe.New(),
		metaClient:  metaClient,
		ipLimit: rategovernor.IPLimit{
			MaxRequests: cfg.RateLimitMaxRequests,
			Window:      time.Duration(cfg.RateLimitWindowMs) * time.Millisecond,
		},
		adapters: adapters,
		logger:   logger,
	}
}

