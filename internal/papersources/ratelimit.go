// Package papersources provides the shared HTTP transport used by the
// bibliographic source clients: a rate-limited, instrumented form POST client
// and the interfaces the ingestion pipeline consumes.
package papersources

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces requests to one upstream API with a token bucket. It is
// safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing ratePerSecond requests per second
// with bursts of up to burst requests. NCBI E-utilities allow 3 requests per
// second without an API key and 10 with one.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed. It fails if ctx is done first or
// its deadline would pass before a token is available.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
