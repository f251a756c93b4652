package rategovernor

import (
	"time"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// RateLimitedStream builds a synthetic informational result for a
// provider whose per-IP window rejected a request. cmd/server does not
// use it: a rejected streams request is answered with HTTP 429 as a
// whole.
func RateLimitedStream(provider string, retryAfter time.Duration) types.Stream {
	return types.Stream{
		Name:          provider,
		Title:         "Rate limit reached for " + provider + ", try again shortly",
		Informational: true,
		RetryAfterSec: int(retryAfter / time.Second),
	}
}
