package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FlareSolverrOracle treats a FlareSolverr-compatible collaborator
// service as a black box: POST the target URL, get back rendered HTML
// and the cookie jar the emulated browser ended up with. Wire shape
// grounded on the real FlareSolverr protocol the pack's torznab provider
// administers (flaresolverr.go's "/v1" POST conventions), adapted here
// from an admin client into a solving client.
type FlareSolverrOracle struct {
	endpoint   string
	httpClient *http.Client
	maxTimeout time.Duration
}

func NewFlareSolverrOracle(endpoint string, maxTimeout time.Duration) *FlareSolverrOracle {
	return &FlareSolverrOracle{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: maxTimeout + 10*time.Second},
		maxTimeout: maxTimeout,
	}
}

func (o *FlareSolverrOracle) Name() string { return "flaresolverr-oracle" }

type flareSolverrRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int    `json:"maxTimeout"`
}

type flareSolverrCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type flareSolverrSolution struct {
	URL       string               `json:"url"`
	Status    int                  `json:"status"`
	Response  string               `json:"response"`
	Cookies   []flareSolverrCookie `json:"cookies"`
	UserAgent string               `json:"userAgent"`
}

type flareSolverrResponse struct {
	Status   string               `json:"status"`
	Message  string               `json:"message"`
	Solution flareSolverrSolution `json:"solution"`
}

func (o *FlareSolverrOracle) Solve(ctx context.Context, targetURL, _ string) (Result, error) {
	payload, err := json.Marshal(flareSolverrRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: int(o.maxTimeout / time.Millisecond),
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/v1", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Result{}, fmt.Errorf("flaresolverr request failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out flareSolverrResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode flaresolverr response: %w", err)
	}
	if out.Status != "ok" {
		return Result{}, fmt.Errorf("flaresolverr couldn't solve %s: %s", targetURL, out.Message)
	}

	var cookieParts []string
	for _, c := range out.Solution.Cookies {
		cookieParts = append(cookieParts, c.Name+"="+c.Value)
	}
	return Result{
		BodyHTML:     out.Solution.Response,
		CookieHeader: strings.Join(cookieParts, "; "),
		UserAgent:    out.Solution.UserAgent,
	}, nil
}
