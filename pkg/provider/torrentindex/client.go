// Package torrentindex adapts an apibay-style torrent index JSON API
// (the kind backing magnet search engines) into a provider.Adapter.
// Grounded directly on the teacher's TPB client
// (pkg/imdb2torrent/tpb.go): same apibay.org-shaped query endpoint, same
// gjson-based parsing of an untyped JSON array, same quality-tag
// detection from the raw torrent name.
package torrentindex

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/provider"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// Client is a provider.Adapter over an apibay-style "/q.php?q=" search
// endpoint.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	trackers   []string
	logger     *zap.Logger
}

func New(name, baseURL string, httpClient *http.Client, trackers []string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{name: name, baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient, trackers: trackers, logger: logger}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Search(ctx context.Context, ref types.ContentRef, _ provider.UserConfig) provider.SearchResult {
	logger := c.logger.With(zap.String("provider", c.name), zap.String("imdbID", ref.ImdbID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/q.php?q="+ref.ImdbID, nil)
	if err != nil {
		logger.Error("couldn't build search request", zap.Error(err))
		return provider.SearchResult{}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("search request failed", zap.Error(err))
		return provider.SearchResult{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Debug("bad search response status", zap.Int("status", resp.StatusCode))
		return provider.SearchResult{}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		logger.Error("couldn't read search response", zap.Error(err))
		return provider.SearchResult{}
	}

	entries := gjson.ParseBytes(body).Array()
	if len(entries) == 0 {
		return provider.SearchResult{}
	}

	byHash := map[string]types.Torrent{}
	for _, entry := range entries {
		name := entry.Get("name").String()
		infoHash := strings.ToLower(entry.Get("info_hash").String())
		if infoHash == "" || infoHash == "0000000000000000000000000000000000000000" {
			continue
		}
		seeders := int(entry.Get("seeders").Int())
		sizeBytes := entry.Get("size").Int()

		t := types.Torrent{
			InfoHash:        infoHash,
			Title:           name,
			SizeBytes:       sizeBytes,
			Seeders:         seeders,
			Tracker:         c.name,
			Provider:        c.name,
			Resolution:      detectResolution(name),
			QualityCategory: detectQualityCategory(name),
		}
		if existing, ok := byHash[infoHash]; !ok || seeders > existing.Seeders {
			byHash[infoHash] = t
		}
	}

	torrents := make([]types.Torrent, 0, len(byHash))
	for _, t := range byHash {
		torrents = append(torrents, t)
	}
	return provider.SearchResult{Torrents: torrents}
}

func (c *Client) ProbeCached(context.Context, provider.UserConfig, []string) (map[string]bool, error) {
	return nil, provider.ErrUnsupported("ProbeCached")
}

func (c *Client) Resolve(_ context.Context, _ provider.UserConfig, opaqueRef string) (string, error) {
	// Torrent-index results need no second-stage resolve: the magnet URI
	// built from the result is itself the opaque ref consumers hand to a
	// debrid provider's Resolve.
	return opaqueRef, nil
}

func detectResolution(title string) string {
	switch {
	case strings.Contains(title, "2160p"), strings.Contains(title, "4K"):
		return "2160p"
	case strings.Contains(title, "1080p"):
		return "1080p"
	case strings.Contains(title, "720p"):
		return "720p"
	case strings.Contains(title, "480p"):
		return "480p"
	default:
		return ""
	}
}

func detectQualityCategory(title string) string {
	switch {
	case strings.Contains(title, "HDCAM"):
		return "cam"
	case strings.Contains(title, "HDTS"), strings.Contains(title, "HD-TS"):
		return "telesync"
	default:
		return "standard"
	}
}
