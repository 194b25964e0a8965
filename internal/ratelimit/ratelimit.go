// Package ratelimit throttles outbound calls to a configured rate per
// second with burst tolerance. Adapted from infrastructure/ratelimit's
// token-bucket wrapper around golang.org/x/time/rate, trimmed to the
// single per-endpoint outbound limiter internal/rpcpool needs: upstream
// RPC providers enforce their own request-per-second caps, and tripping
// one bans or throttles the endpoint independently of its health probe.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps a token bucket. A zero-value RequestsPerSecond disables
// limiting entirely (Allow/Wait always succeed).
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a Limiter. requestsPerSecond <= 0 disables limiting. burst
// defaults to int(2*requestsPerSecond)+1 when <= 0.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return &Limiter{}
	}
	if burst <= 0 {
		burst = int(requestsPerSecond*2) + 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Allow reports whether a call may proceed right now without blocking.
func (l *Limiter) Allow() bool {
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait blocks until a call may proceed or ctx is done, whichever comes
// first.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
