package proxyrotator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// ErrNoProxyAvailable is returned when the pool has no candidate for the
// first batch, so no attempt is made. When attempts were made and all
// failed, RequestWithRotation returns the last attempt's error instead.
var ErrNoProxyAvailable = errors.New("proxyrotator: no proxy produced a valid response")

const minValidResponseBytes = 500

type raceResult struct {
	resp *http.Response
	addr string
	err  error
}

// RequestWithRotation fires batchSize attempts in parallel across
// distinct proxies and returns the first response passing validation
// (first-success-wins); sibling attempts are canceled as soon as one
// succeeds. If an entire batch fails, it tries up to maxBatches times
// with fresh candidates before giving up. newReq builds a fresh *http.
// Request per attempt (a body, once consumed, cannot be replayed across
// attempts).
func (r *Rotator) RequestWithRotation(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), batchSize, maxBatches int) (*http.Response, string, error) {
	var lastErr error
	for batch := 0; batch < maxBatches; batch++ {
		addrs := r.candidates(batchSize)
		if len(addrs) == 0 {
			break
		}
		resp, addr, err := r.raceBatch(ctx, newReq, addrs)
		if err == nil {
			return resp, addr, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", ErrNoProxyAvailable
}

func (r *Rotator) raceBatch(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), addrs []string) (*http.Response, string, error) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult, len(addrs))
	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			resp, err := r.attempt(batchCtx, newReq, addr)
			select {
			case results <- raceResult{resp: resp, addr: addr, err: err}:
			case <-batchCtx.Done():
				if resp != nil {
					resp.Body.Close()
				}
			}
		}(addr)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error = ErrNoProxyAvailable
	for res := range results {
		if res.err != nil {
			r.recordFailure(res.addr)
			r.logger.Debug("proxy attempt failed", zap.String("proxy", res.addr), zap.Error(res.err))
			lastErr = res.err
			continue
		}
		r.recordSuccess(res.addr)
		cancel() // release sibling attempts still in flight
		return res.resp, res.addr, nil
	}
	return nil, "", lastErr
}

func (r *Rotator) attempt(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), addr string) (*http.Response, error) {
	client, err := newSOCKS5Client(r.timeout, addr)
	if err != nil {
		return nil, err
	}
	req, err := newReq(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if len(body) < minValidResponseBytes {
		return nil, errGarbageResponse(addr, len(body))
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func errGarbageResponse(addr string, n int) error {
	return &garbageResponseError{addr: addr, size: n}
}

type garbageResponseError struct {
	addr string
	size int
}

func (e *garbageResponseError) Error() string {
	return "proxy " + e.addr + " returned a suspiciously small response"
}
