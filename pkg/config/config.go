// Package config materializes the typed Config struct once at process
// boot, following the teacher's cmd/deflix-stremio/config.go pattern:
// flag.X defaults, each overridden by an environment variable of the
// same name (upper-snake-cased, optionally prefixed) unless the flag was
// explicitly set on the command line. Every option named in spec.md §6
// is a field here; components receive only the sub-struct they need.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config is the fully materialized, immutable-after-boot configuration.
type Config struct {
	BindAddr string
	Port     int

	CachePath        string
	BadgerGCInterval time.Duration

	EarlyReturnEnabled    bool
	EarlyReturnTimeoutMs  int
	EarlyReturnMinStreams int

	MinResultsPerService int
	CacheVersion         string
	DefaultCacheTTL      time.Duration

	ResolveSuccessTTLMs int
	ResolveFailTTLMs    int

	BackgroundRefreshBaseDelayMs int
	BackgroundRefreshMaxDelayMs  int

	UpsertConcurrency int
	UpsertQueueMax    int
	MaxConsecutiveFailures int

	RateLimitMaxRequests int
	RateLimitWindowMs    int
	RateLimitCleanupMs   int

	ProxyRefreshIntervalMs int
	ProxyMaxFailures       int
	ProxyKnownGoodSize     int

	FlaresolverrURL string

	RedisAddr string

	MetadataBaseURL string

	LogLevel  string
	EnvPrefix string
}

// Load parses flags, applies env-var overrides for anything not
// explicitly set on the command line, and returns the materialized
// Config. logger is used only to fatal out on an unparsable override,
// mirroring the teacher's log.Fatal on bad env values.
func Load(logger *zap.Logger) Config {
	var (
		bindAddr = flag.String("bindAddr", "localhost", "Local interface address to bind to")
		port     = flag.Int("port", 8080, "Port to listen on")

		cachePath        = flag.String("cachePath", "", "Path for the durable ByteStore (BadgerDB). Empty uses os.UserCacheDir()+\"/streamlink-aggregator/\".")
		badgerGCInterval = flag.Duration("badgerGCInterval", time.Hour, "Interval between BadgerDB value-log GC passes")

		earlyReturnEnabled    = flag.Bool("earlyReturnEnabled", true, "Whether to release aggregated results before every provider completes")
		earlyReturnTimeoutMs  = flag.Int("earlyReturnTimeoutMs", 2500, "Early-return gate timer, in milliseconds")
		earlyReturnMinStreams = flag.Int("earlyReturnMinStreams", 1, "Minimum accumulated streams required for the early-return gate to fire")

		minResultsPerService = flag.Int("minResultsPerService", 1, "Cache sufficiency threshold: below this many cached results, a live search runs")
		cacheVersion         = flag.String("cacheVersion", "1", "Cache key version; bump to invalidate all prior search caches")
		defaultCacheTTL      = flag.Duration("defaultCacheTTL", 6*time.Hour, "Default TTL for written-back search cache rows")

		resolveSuccessTTLMs = flag.Int("resolveSuccessTTLMs", 10*60*1000, "Resolve success cache TTL, in milliseconds")
		resolveFailTTLMs    = flag.Int("resolveFailTTLMs", 60*1000, "Resolve failure cache TTL, in milliseconds")

		backgroundRefreshBaseDelayMs = flag.Int("backgroundRefreshBaseDelayMs", 30*1000, "Background refresh exponential backoff base delay, in milliseconds")
		backgroundRefreshMaxDelayMs  = flag.Int("backgroundRefreshMaxDelayMs", 30*60*1000, "Background refresh exponential backoff max delay, in milliseconds")

		upsertConcurrency      = flag.Int("upsertConcurrency", 5, "Max concurrent ByteStore write-queue workers")
		upsertQueueMax         = flag.Int("upsertQueueMax", 200, "Max backlog size of the ByteStore write queue before oldest entries are dropped")
		maxConsecutiveFailures = flag.Int("maxConsecutiveFailures", 5, "Consecutive ByteStore write failures before the circuit breaker opens")

		rateLimitMaxRequests = flag.Int("rateLimitMaxRequests", 4, "Per-client-IP request limit within rateLimitWindowMs, for expensive providers")
		rateLimitWindowMs    = flag.Int("rateLimitWindowMs", 60*1000, "Per-client-IP rate limit window, in milliseconds")
		rateLimitCleanupMs   = flag.Int("rateLimitCleanupMs", 5*60*1000, "Idle interval after which stale per-IP rate limit records are purged")

		proxyRefreshIntervalMs = flag.Int("proxyRefreshIntervalMs", 10*60*1000, "Proxy pool source-list refresh interval, in milliseconds")
		proxyMaxFailures       = flag.Int("proxyMaxFailures", 2, "Consecutive failures before a proxy is blacklisted for the process lifetime")
		proxyKnownGoodSize     = flag.Int("proxyKnownGoodSize", 10, "Size of the known-good proxy shortlist front-loaded into every batch")

		flaresolverrURL = flag.String("flaresolverrURL", "", "Base URL of an external FlareSolverr-compatible challenge-solving service")

		redisAddr = flag.String("redisAddr", "", "Optional Redis address for cross-process challenge-cookie replication")

		metadataBaseURL = flag.String("metadataBaseURL", "https://v3-cinemeta.strem.io", "Base URL of the Cinemeta-shaped metadata provider")

		logLevel  = flag.String("logLevel", "info", `Log level: "debug", "info", "warn", "error"`)
		envPrefix = flag.String("envPrefix", "", "Prefix for environment variable overrides")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}

	o := overrider{prefix: *envPrefix, logger: logger}
	o.str(bindAddr, "bindAddr", "BIND_ADDR")
	o.intVal(port, "port", "PORT")
	o.str(cachePath, "cachePath", "CACHE_PATH")
	o.duration(badgerGCInterval, "badgerGCInterval", "BADGER_GC_INTERVAL")
	o.boolVal(earlyReturnEnabled, "earlyReturnEnabled", "EARLY_RETURN_ENABLED")
	o.intVal(earlyReturnTimeoutMs, "earlyReturnTimeoutMs", "EARLY_RETURN_TIMEOUT_MS")
	o.intVal(earlyReturnMinStreams, "earlyReturnMinStreams", "EARLY_RETURN_MIN_STREAMS")
	o.intVal(minResultsPerService, "minResultsPerService", "MIN_RESULTS_PER_SERVICE")
	o.str(cacheVersion, "cacheVersion", "CACHE_VERSION")
	o.duration(defaultCacheTTL, "defaultCacheTTL", "DEFAULT_CACHE_TTL")
	o.intVal(resolveSuccessTTLMs, "resolveSuccessTTLMs", "RESOLVE_SUCCESS_TTL_MS")
	o.intVal(resolveFailTTLMs, "resolveFailTTLMs", "RESOLVE_FAIL_TTL_MS")
	o.intVal(backgroundRefreshBaseDelayMs, "backgroundRefreshBaseDelayMs", "BACKGROUND_REFRESH_BASE_DELAY_MS")
	o.intVal(backgroundRefreshMaxDelayMs, "backgroundRefreshMaxDelayMs", "BACKGROUND_REFRESH_MAX_DELAY_MS")
	o.intVal(upsertConcurrency, "upsertConcurrency", "UPSERT_CONCURRENCY")
	o.intVal(upsertQueueMax, "upsertQueueMax", "UPSERT_QUEUE_MAX")
	o.intVal(maxConsecutiveFailures, "maxConsecutiveFailures", "MAX_CONSECUTIVE_FAILURES")
	o.intVal(rateLimitMaxRequests, "rateLimitMaxRequests", "RATE_LIMIT_MAX_REQUESTS")
	o.intVal(rateLimitWindowMs, "rateLimitWindowMs", "RATE_LIMIT_WINDOW_MS")
	o.intVal(rateLimitCleanupMs, "rateLimitCleanupMs", "RATE_LIMIT_CLEANUP_MS")
	o.intVal(proxyRefreshIntervalMs, "proxyRefreshIntervalMs", "PROXY_REFRESH_INTERVAL_MS")
	o.intVal(proxyMaxFailures, "proxyMaxFailures", "PROXY_MAX_FAILURES")
	o.intVal(proxyKnownGoodSize, "proxyKnownGoodSize", "PROXY_KNOWN_GOOD_SIZE")
	o.str(flaresolverrURL, "flaresolverrURL", "FLARESOLVERR_URL")
	o.str(redisAddr, "redisAddr", "REDIS_ADDR")
	o.str(metadataBaseURL, "metadataBaseURL", "METADATA_BASE_URL")
	o.str(logLevel, "logLevel", "LOG_LEVEL")

	if *cachePath == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			*cachePath = dir + "/streamlink-aggregator/"
		}
	}

	return Config{
		BindAddr:                     *bindAddr,
		Port:                         *port,
		CachePath:                    *cachePath,
		BadgerGCInterval:             *badgerGCInterval,
		EarlyReturnEnabled:           *earlyReturnEnabled,
		EarlyReturnTimeoutMs:         *earlyReturnTimeoutMs,
		EarlyReturnMinStreams:        *earlyReturnMinStreams,
		MinResultsPerService:         *minResultsPerService,
		CacheVersion:                 *cacheVersion,
		DefaultCacheTTL:              *defaultCacheTTL,
		ResolveSuccessTTLMs:          *resolveSuccessTTLMs,
		ResolveFailTTLMs:             *resolveFailTTLMs,
		BackgroundRefreshBaseDelayMs: *backgroundRefreshBaseDelayMs,
		BackgroundRefreshMaxDelayMs:  *backgroundRefreshMaxDelayMs,
		UpsertConcurrency:            *upsertConcurrency,
		UpsertQueueMax:               *upsertQueueMax,
		MaxConsecutiveFailures:       *maxConsecutiveFailures,
		RateLimitMaxRequests:         *rateLimitMaxRequests,
		RateLimitWindowMs:            *rateLimitWindowMs,
		RateLimitCleanupMs:           *rateLimitCleanupMs,
		ProxyRefreshIntervalMs:       *proxyRefreshIntervalMs,
		ProxyMaxFailures:             *proxyMaxFailures,
		ProxyKnownGoodSize:           *proxyKnownGoodSize,
		FlaresolverrURL:              *flaresolverrURL,
		RedisAddr:                    *redisAddr,
		MetadataBaseURL:              *metadataBaseURL,
		LogLevel:                     *logLevel,
		EnvPrefix:                    *envPrefix,
	}
}

// overrider applies an env-var override to a flag value unless the flag
// was explicitly passed on the command line, mirroring the teacher's
// isArgSet + os.LookupEnv pairing.
type overrider struct {
	prefix string
	logger *zap.Logger
	set    map[string]bool
}

func (o *overrider) explicitlySet(name string) bool {
	if o.set == nil {
		o.set = map[string]bool{}
		flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	}
	return o.set[name]
}

func (o *overrider) str(dst *string, flagName, envSuffix string) {
	if o.explicitlySet(flagName) {
		return
	}
	if val, ok := os.LookupEnv(o.prefix + envSuffix); ok {
		*dst = val
	}
}

func (o *overrider) boolVal(dst *bool, flagName, envSuffix string) {
	if o.explicitlySet(flagName) {
		return
	}
	val, ok := os.LookupEnv(o.prefix + envSuffix)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		o.logger.Fatal("couldn't parse env var as bool", zap.String("envVar", o.prefix+envSuffix), zap.Error(err))
	}
	*dst = b
}

func (o *overrider) intVal(dst *int, flagName, envSuffix string) {
	if o.explicitlySet(flagName) {
		return
	}
	val, ok := os.LookupEnv(o.prefix + envSuffix)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		o.logger.Fatal("couldn't parse env var as int", zap.String("envVar", o.prefix+envSuffix), zap.Error(err))
	}
	*dst = n
}

func (o *overrider) duration(dst *time.Duration, flagName, envSuffix string) {
	if o.explicitlySet(flagName) {
		return
	}
	val, ok := os.LookupEnv(o.prefix + envSuffix)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		o.logger.Fatal("couldn't parse env var as duration", zap.String("envVar", o.prefix+envSuffix), zap.Error(err))
	}
	*dst = d
}
