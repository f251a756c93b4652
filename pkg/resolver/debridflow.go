package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/cachecoord"
	"github.com/deflix-tv/streamlink-aggregator/pkg/provider/debrid"
)

// DebridBackend is the low-level REST surface a RealDebrid-class backend
// exposes; pkg/provider/debrid.Client implements it directly, so the
// state machine below drives the same client the provider.Adapter uses
// for ProbeCached.
type DebridBackend interface {
	AddMagnet(ctx context.Context, apiKey, magnetURI string) (string, error)
	SelectFiles(ctx context.Context, apiKey, torrentID string) error
	TorrentInfo(ctx context.Context, apiKey, torrentID string) (debrid.TorrentInfo, error)
	Unrestrict(ctx context.Context, apiKey, link string) (string, error)
	DeleteTorrent(ctx context.Context, apiKey, torrentID string) error
}

// terminal/failure status vocabulary, per the backend's torrent status
// field (spec.md §4.13).
var (
	terminalStatuses = map[string]bool{"downloaded": true, "finished": true}
	failureStatuses  = map[string]bool{"magnet_error": true, "error": true, "virus": true, "dead": true}
	pendingStatuses  = map[string]bool{"downloading": true, "queued": true, "waiting_files_selection": true, "magnet_conversion": true}
)

// resolveMagnetDebrid runs the full
// ADDING -> SELECTING -> POLLING_DOWNLOAD -> POLLING_LINKS -> UNRESTRICTING
// state machine.
func (r *Resolver) resolveMagnetDebrid(ctx context.Context, req Request) (string, error) {
	backend, ok := r.debridBackends[req.Provider]
	if !ok {
		return "", fmt.Errorf("resolver: no debrid backend registered for provider %q", req.Provider)
	}
	logger := r.logger.With(zap.String("provider", req.Provider))

	// ADDING
	torrentID, err := backend.AddMagnet(ctx, req.APIKey, req.OpaqueRef)
	if err != nil {
		return "", fmt.Errorf("add magnet: %w", err)
	}

	fail := func(cause error) (string, error) {
		if delErr := backend.DeleteTorrent(context.Background(), req.APIKey, torrentID); delErr != nil {
			logger.Debug("best-effort torrent delete after failed resolve also failed", zap.Error(delErr))
		}
		return "", cause
	}

	// SELECTING
	if err := backend.SelectFiles(ctx, req.APIKey, torrentID); err != nil {
		return fail(fmt.Errorf("select files: %w", err))
	}

	// POLLING_DOWNLOAD
	info, err := r.pollUntil(ctx, req, torrentID, backend, r.opts.DownloadPollAttempts, r.opts.DownloadPollInterval, func(i debrid.TorrentInfo, attempt int) (bool, error) {
		if failureStatuses[i.Status] {
			return false, fmt.Errorf("backend reported terminal failure status %q", i.Status)
		}
		if attempt == 0 && pendingStatuses[i.Status] && req.CacheHint != nil && req.CacheHint.ClaimedCached {
			// EVICT_AND_FAIL: the caller believed this hash was
			// instantly available; it isn't. Remove the stale claim so
			// future searches don't keep offering it as cached.
			r.evictStaleCacheHint(req)
			return false, fmt.Errorf("%w: hash was claimed cached but backend reports status %q", errStaleCacheClaim, i.Status)
		}
		return terminalStatuses[i.Status], nil
	})
	if err != nil {
		return fail(err)
	}

	// POLLING_LINKS: status can go terminal before the links array is
	// populated, so this is a distinct poll loop.
	info, err = r.pollUntil(ctx, req, torrentID, backend, r.opts.LinksPollAttempts, r.opts.LinksPollInterval, func(i debrid.TorrentInfo, _ int) (bool, error) {
		if failureStatuses[i.Status] {
			return false, fmt.Errorf("backend reported terminal failure status %q while waiting for links", i.Status)
		}
		return len(i.Links) > 0, nil
	})
	if err != nil {
		return fail(err)
	}

	link, err := selectLink(info, req.Hint)
	if err != nil {
		return fail(err)
	}

	// UNRESTRICTING
	url, err := backend.Unrestrict(ctx, req.APIKey, link)
	if err != nil {
		return fail(fmt.Errorf("unrestrict: %w", err))
	}
	return url, nil
}

var errStaleCacheClaim = fmt.Errorf("resolver: not cached")

func (r *Resolver) evictStaleCacheHint(req Request) {
	if req.CacheHint == nil || req.CacheHint.SearchCacheKey == "" || req.CacheHint.Hash == "" {
		return
	}
	cachecoord.EvictHash(r.store, r.logger, req.Provider, req.CacheHint.SearchCacheKey, req.CacheHint.Hash)
	r.store.Delete(req.Provider, req.CacheHint.Hash)
}

// pollUntil polls TorrentInfo up to maxAttempts times, interval apart,
// until done returns true or an error. The attempt index passed to done
// is 0-based.
func (r *Resolver) pollUntil(ctx context.Context, req Request, torrentID string, backend DebridBackend, maxAttempts int, interval time.Duration, done func(debrid.TorrentInfo, int) (bool, error)) (debrid.TorrentInfo, error) {
	var info debrid.TorrentInfo
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var err error
		info, err = backend.TorrentInfo(ctx, req.APIKey, torrentID)
		if err != nil {
			return info, fmt.Errorf("poll torrent info: %w", err)
		}
		ok, err := done(info, attempt)
		if err != nil {
			return info, err
		}
		if ok {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-time.After(interval):
		}
	}
	return info, fmt.Errorf("timed out after %d polling attempts", maxAttempts)
}

// selectLink maps the chosen file to its link. The canonical mapping is
// links[i] <-> allFiles[i] (every file in the torrent, not just the
// selected subset): try the episode hint first when one is given,
// otherwise fall back to the largest selected video file.
func selectLink(info debrid.TorrentInfo, hint *EpisodeHint) (string, error) {
	if len(info.Links) == 0 {
		return "", fmt.Errorf("resolver: backend returned no links")
	}

	if hint != nil {
		if idx := findEpisodeFileIndex(info.AllFiles, *hint); idx >= 0 {
			if link := linkForFileIndex(info, idx); link != "" {
				return link, nil
			}
		}
	}

	idx := largestSelectedVideoIndex(info.AllFiles)
	if idx < 0 {
		// Last resort: a provider whose AllFiles listing is empty but
		// Links is populated (some backends only return the selected
		// subset); just take the first link.
		return info.Links[0], nil
	}
	if link := linkForFileIndex(info, idx); link != "" {
		return link, nil
	}
	return info.Links[0], nil
}

// linkForFileIndex tries, in order: idx as an index into Links directly
// (the links[i] <-> allFiles[i] mapping, used whenever idx is within
// Links), then idx's position among the selected files only, as an index
// into Links.
func linkForFileIndex(info debrid.TorrentInfo, idx int) string {
	if idx >= 0 && idx < len(info.Links) {
		return info.Links[idx]
	}
	selectedIdx := -1
	for i, f := range info.AllFiles {
		if !f.Selected {
			continue
		}
		selectedIdx++
		if i == idx && selectedIdx < len(info.Links) {
			return info.Links[selectedIdx]
		}
	}
	return ""
}

var episodeFileRe = regexp.MustCompile(`(?i)s(\d{1,2})e(\d{1,3})|(\d{1,2})x(\d{1,3})|episode[ .]?(\d{1,3})`)

// findEpisodeFileIndex returns the index into allFiles matching hint, or
// -1. hint.FileID/FilePath are tried first (exact match), then a
// season/episode regex over each file's path.
func findEpisodeFileIndex(allFiles []debrid.TorrentFile, hint EpisodeHint) int {
	for i, f := range allFiles {
		if hint.FileID != "" && fmt.Sprint(f.ID) == hint.FileID {
			return i
		}
		if hint.FilePath != "" && f.Path == hint.FilePath {
			return i
		}
	}
	for i, f := range allFiles {
		m := episodeFileRe.FindStringSubmatch(f.Path)
		if m == nil {
			continue
		}
		var season, episode int
		switch {
		case m[1] != "":
			season, episode = atoi(m[1]), atoi(m[2])
		case m[3] != "":
			season, episode = atoi(m[3]), atoi(m[4])
		case m[5] != "":
			season, episode = hint.Season, atoi(m[5])
		}
		if season == hint.Season && episode == hint.Episode {
			return i
		}
	}
	return -1
}

var videoExtensions = []string{".mkv", ".mp4", ".avi", ".mov", ".m4v", ".webm"}

func isVideoFile(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func largestSelectedVideoIndex(allFiles []debrid.TorrentFile) int {
	best := -1
	var bestSize int64
	for i, f := range allFiles {
		if !f.Selected || !isVideoFile(f.Path) {
			continue
		}
		if f.Bytes > bestSize {
			bestSize = f.Bytes
			best = i
		}
	}
	return best
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

var magnetHashRe = regexp.MustCompile(`(?i)btih:([0-9a-f]{40})`)

// magnetInfoHash extracts a magnet URI's info hash, lowercased, or ""
// when ref isn't a magnet URI / carries no BT v1 hash.
func magnetInfoHash(ref string) string {
	m := magnetHashRe.FindStringSubmatch(ref)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}
