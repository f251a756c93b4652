package torrentindex

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/provider"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// magnetInfoHashRegex extracts the btih hash out of a magnet URI, mirroring
// the teacher's magnet2InfoHashRegex (pkg/imdb2torrent/client.go), whose
// non-greedy match stops at the first "&".
var magnetInfoHashRegex = regexp.MustCompile(`btih:(.+?)&`)

func magnetInfoHash(magnet string) string {
	m := magnetInfoHashRegex.FindStringSubmatch(magnet + "&")
	if len(m) != 2 {
		return ""
	}
	return strings.ToLower(m[1])
}

// HTMLClient adapts an HTML-scraped torrent index (category search page ->
// movie page -> per-release torrent page, each carrying a magnet link) into
// a provider.Adapter. Grounded directly on the teacher's 1337x scraper
// (pkg/imdb2torrent/1337x.go): same three-hop goquery traversal
// (category-search result -> movie page -> torrent page list), same
// magnet-link extraction from the first info-box link, generalized from a
// single hardcoded site to any 1337x-shaped HTML structure.
type HTMLClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTMLClient(name, baseURL string, httpClient *http.Client, logger *zap.Logger) *HTMLClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTMLClient{name: name, baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient, logger: logger}
}

func (c *HTMLClient) Name() string { return c.name }

// Search requires ref.CanonicalTitle to already be filled in (pkg/metadata
// enriches every ContentRef before it reaches a provider), since this
// style of index is searched by title, not by IMDb ID.
func (c *HTMLClient) Search(ctx context.Context, ref types.ContentRef, _ provider.UserConfig) provider.SearchResult {
	logger := c.logger.With(zap.String("provider", c.name), zap.String("imdbID", ref.ImdbID))
	if ref.CanonicalTitle == "" {
		logger.Debug("no canonical title to search with")
		return provider.SearchResult{}
	}

	query := ref.CanonicalTitle
	if ref.ReleaseYear != 0 {
		query += " " + strconv.Itoa(ref.ReleaseYear)
	}

	doc, err := c.getDoc(ctx, c.baseURL+"/category-search/"+url.QueryEscape(query)+"/Movies/1/")
	if err != nil {
		logger.Debug("category search failed", zap.Error(err))
		return provider.SearchResult{}
	}
	torrentPath, ok := doc.Find(".table-list tbody td a").Next().Attr("href")
	if !ok || torrentPath == "" {
		return provider.SearchResult{}
	}

	doc, err = c.getDoc(ctx, c.baseURL+torrentPath)
	if err != nil {
		logger.Debug("couldn't load release page", zap.Error(err))
		return provider.SearchResult{}
	}

	var torrentPageURLs []string
	doc.Find(".table-list tbody tr").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a").Next()
		text := link.Text()
		if !strings.Contains(text, "720p") && !strings.Contains(text, "1080p") && !strings.Contains(text, "2160p") {
			return
		}
		if href, ok := link.Attr("href"); ok && href != "" {
			torrentPageURLs = append(torrentPageURLs, c.baseURL+href)
		}
	})
	if len(torrentPageURLs) == 0 {
		return provider.SearchResult{}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		torrents []types.Torrent
	)
	for _, pageURL := range torrentPageURLs {
		wg.Add(1)
		go func(pageURL string) {
			defer wg.Done()
			t, ok := c.scrapeTorrentPage(ctx, pageURL)
			if !ok {
				return
			}
			t.Provider = c.name
			t.Tracker = c.name
			mu.Lock()
			torrents = append(torrents, t)
			mu.Unlock()
		}(pageURL)
	}
	wg.Wait()

	return provider.SearchResult{Torrents: torrents}
}

func (c *HTMLClient) scrapeTorrentPage(ctx context.Context, pageURL string) (types.Torrent, bool) {
	doc, err := c.getDoc(ctx, pageURL)
	if err != nil {
		return types.Torrent{}, false
	}
	magnet, ok := doc.Find(".box-info ul li").First().Find("a").Attr("href")
	if !ok || !strings.HasPrefix(magnet, "magnet:") {
		return types.Torrent{}, false
	}
	infoHash := magnetInfoHash(magnet)
	if infoHash == "" {
		return types.Torrent{}, false
	}
	title := strings.TrimSpace(doc.Find(".box-info-heading h1").First().Text())
	return types.Torrent{
		InfoHash:        infoHash,
		Title:           title,
		Resolution:      detectResolution(title),
		QualityCategory: detectQualityCategory(title),
	}, true
}

func (c *HTMLClient) getDoc(ctx context.Context, reqURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return goquery.NewDocumentFromReader(resp.Body)
}

func (c *HTMLClient) ProbeCached(context.Context, provider.UserConfig, []string) (map[string]bool, error) {
	return nil, provider.ErrUnsupported("ProbeCached")
}

func (c *HTMLClient) Resolve(_ context.Context, _ provider.UserConfig, opaqueRef string) (string, error) {
	return opaqueRef, nil
}

var _ provider.Adapter = (*HTMLClient)(nil)
