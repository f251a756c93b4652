// Package personalcloud exposes a caller's own already-downloaded debrid
// library as provider.Adapter-shaped PersonalFile results, grounded on
// the teacher's Client.GetTorrents (pkg/debrid/realdebrid/client.go),
// which already filters to "downloaded" status. CacheCoordinator's
// personalFn callback wraps this adapter's Search.
package personalcloud

import (
	"context"

	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/provider"
	"github.com/deflix-tv/streamlink-aggregator/pkg/provider/debrid"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// Client lists a user's own finished downloads from a debrid backend as
// PersonalFile results. It never searches third-party content and is
// never cached (personal files are excluded from ByteStore write-back by
// CacheCoordinator's cacheability filter).
type Client struct {
	name   string
	debrid *debrid.Client
	logger *zap.Logger
}

func New(name string, debridClient *debrid.Client, logger *zap.Logger) *Client {
	return &Client{name: name, debrid: debridClient, logger: logger}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Search(ctx context.Context, _ types.ContentRef, cfg provider.UserConfig) provider.SearchResult {
	torrents, err := c.debrid.ListDownloadedTorrents(ctx, cfg.APIKey)
	if err != nil {
		c.logger.Debug("couldn't list personal cloud torrents", zap.Error(err), zap.String("provider", c.name))
		return provider.SearchResult{}
	}

	files := make([]types.PersonalFile, 0, len(torrents))
	for _, t := range torrents {
		if len(t.Links) == 0 {
			continue
		}
		files = append(files, types.PersonalFile{
			Provider:  c.name,
			FileName:  t.Filename,
			URL:       t.Links[0],
			Hash:      t.Hash,
			SizeBytes: t.Bytes,
		})
	}
	return provider.SearchResult{PersonalFiles: files}
}

func (c *Client) ProbeCached(context.Context, provider.UserConfig, []string) (map[string]bool, error) {
	return nil, provider.ErrUnsupported("ProbeCached")
}

// Resolve unrestricts the already-known link for a personal file, same
// single-call flow as the direct-URL debrid adapter.
func (c *Client) Resolve(ctx context.Context, cfg provider.UserConfig, opaqueRef string) (string, error) {
	return c.debrid.Unrestrict(ctx, cfg.APIKey, opaqueRef)
}
