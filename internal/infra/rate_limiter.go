package infra

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is the token bucket every exchange call waits on.
// Thread-safe and suitable for concurrent API calls.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter creates a limiter refilling perSecond tokens with the given burst.
func NewRateLimiter(burst int, perSecond float64) *RateLimiter {
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.lim.Wait(ctx)
}
