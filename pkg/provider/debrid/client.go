// Package debrid adapts a RealDebrid-class backend into a
// provider.Adapter. Grounded on the teacher's realdebrid.Client
// (pkg/debrid/realdebrid/client.go): same REST endpoints
// (instantAvailability, addMagnet, selectFiles, torrent info, unrestrict/
// link), same gjson-based response parsing. The magnet->debrid state
// machine itself (addMagnet -> selectFiles -> poll -> unrestrict) lives
// in pkg/resolver, which calls back into the low-level methods exposed
// here (AddMagnet, SelectFiles, TorrentInfo, Unrestrict, DeleteTorrent);
// this package's Adapter.Resolve is a thin single-shot convenience for
// providers that only need a single unrestrict call (the "direct-URL
// debrid flow").
package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/provider"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// Client is a provider.Adapter plus the low-level REST methods the
// resolver's state machine drives directly.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(name, baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{name: name, baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient, logger: logger}
}

func (c *Client) Name() string { return c.name }

// Search is a no-op: debrid backends are not search sources, only
// cached-availability oracles and resolve targets. When a debrid adapter
// is selected in userCfg, cmd/server still runs its Search like any other
// provider's, and it contributes no results.
func (c *Client) Search(context.Context, types.ContentRef, provider.UserConfig) provider.SearchResult {
	return provider.SearchResult{}
}

// ProbeCached asks the backend which of infoHashes are instantly
// available, grounded on CheckInstantAvailability.
func (c *Client) ProbeCached(ctx context.Context, cfg provider.UserConfig, infoHashes []string) (map[string]bool, error) {
	if len(infoHashes) == 0 {
		return nil, nil
	}
	endpoint := c.baseURL + "/rest/1.0/torrents/instantAvailability/" + strings.Join(infoHashes, "/")
	body, err := c.get(ctx, endpoint, cfg.APIKey)
	if err != nil {
		c.logger.Error("couldn't check instant availability", zap.Error(err), zap.String("provider", c.name))
		return nil, err
	}

	out := make(map[string]bool, len(infoHashes))
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		if len(value.Get("rd").Array()) > 0 {
			out[strings.ToLower(key.String())] = true
		}
		return true
	})
	return out, nil
}

// Resolve performs the single-call "direct-URL debrid flow": the caller
// already has a backend-native link and just needs it unrestricted.
func (c *Client) Resolve(ctx context.Context, cfg provider.UserConfig, opaqueRef string) (string, error) {
	return c.Unrestrict(ctx, cfg.APIKey, opaqueRef)
}

// AddMagnet submits a magnet URI and returns the backend torrent ID.
func (c *Client) AddMagnet(ctx context.Context, apiKey, magnetURI string) (string, error) {
	data := url.Values{}
	data.Set("magnet", magnetURI)
	body, err := c.post(ctx, c.baseURL+"/rest/1.0/torrents/addMagnet", apiKey, data)
	if err != nil {
		return "", fmt.Errorf("add magnet: %w", err)
	}
	torrentURL := gjson.GetBytes(body, "uri").String()
	infoBody, err := c.get(ctx, torrentURL, apiKey)
	if err != nil {
		return "", fmt.Errorf("get torrent info after add: %w", err)
	}
	torrentID := gjson.GetBytes(infoBody, "id").String()
	if torrentID == "" {
		return "", fmt.Errorf("add magnet: response had no torrent id")
	}
	return torrentID, nil
}

// SelectFiles selects every file in the torrent for download.
func (c *Client) SelectFiles(ctx context.Context, apiKey, torrentID string) error {
	data := url.Values{}
	data.Set("files", "all")
	_, err := c.post(ctx, c.baseURL+"/rest/1.0/torrents/selectFiles/"+torrentID, apiKey, data)
	return err
}

// TorrentInfo is the subset of a backend torrent-info response the
// resolver's polling loop needs.
type TorrentInfo struct {
	Status   string
	Links    []string
	AllFiles []TorrentFile
}

// TorrentFile is one entry of a torrent's full file listing
// (files[i] <-> links[i] by shared index once all files are selected).
type TorrentFile struct {
	ID       int64
	Path     string
	Bytes    int64
	Selected bool
}

func (c *Client) TorrentInfo(ctx context.Context, apiKey, torrentID string) (TorrentInfo, error) {
	body, err := c.get(ctx, c.baseURL+"/rest/1.0/torrents/info/"+torrentID, apiKey)
	if err != nil {
		return TorrentInfo{}, err
	}
	info := TorrentInfo{Status: gjson.GetBytes(body, "status").String()}
	for _, l := range gjson.GetBytes(body, "links").Array() {
		info.Links = append(info.Links, l.String())
	}
	for _, f := range gjson.GetBytes(body, "files").Array() {
		info.AllFiles = append(info.AllFiles, TorrentFile{
			ID:       f.Get("id").Int(),
			Path:     f.Get("path").String(),
			Bytes:    f.Get("bytes").Int(),
			Selected: f.Get("selected").Int() == 1,
		})
	}
	return info, nil
}

// Unrestrict exchanges a backend-native link for the final playable URL.
func (c *Client) Unrestrict(ctx context.Context, apiKey, link string) (string, error) {
	data := url.Values{}
	data.Set("link", link)
	body, err := c.post(ctx, c.baseURL+"/rest/1.0/unrestrict/link", apiKey, data)
	if err != nil {
		return "", fmt.Errorf("unrestrict link: %w", err)
	}
	streamURL := gjson.GetBytes(body, "download").String()
	if streamURL == "" {
		return "", fmt.Errorf("unrestrict link: response had no download url")
	}
	return streamURL, nil
}

// DeleteTorrent best-effort removes a torrent from the backend's
// library, used when a resolve attempt fails partway through.
func (c *Client) DeleteTorrent(ctx context.Context, apiKey, torrentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/rest/1.0/torrents/delete/"+torrentID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ListDownloadedTorrents returns the caller's already-downloaded
// torrents, grounded on GetTorrents.
func (c *Client) ListDownloadedTorrents(ctx context.Context, apiKey string) ([]PersonalTorrent, error) {
	body, err := c.get(ctx, c.baseURL+"/rest/1.0/torrents", apiKey)
	if err != nil {
		return nil, fmt.Errorf("list torrents: %w", err)
	}
	var torrents []PersonalTorrent
	if err := json.Unmarshal(body, &torrents); err != nil {
		return nil, fmt.Errorf("unmarshal torrents: %w", err)
	}
	out := torrents[:0]
	for _, t := range torrents {
		if t.Status == "downloaded" {
			out = append(out, t)
		}
	}
	return out, nil
}

// PersonalTorrent is one entry of the caller's own debrid library.
type PersonalTorrent struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Hash     string `json:"hash"`
	Bytes    int64  `json:"bytes"`
	Status   string `json:"status"`
	Links    []string `json:"links"`
}

func (c *Client) get(ctx context.Context, endpoint, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bad response status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, endpoint, apiKey string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bad response status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
