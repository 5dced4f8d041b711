package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient decorates a Client with a token-bucket rate limiter so
// that background loops (warmup, retry) cannot exhaust the provider's quota.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps inner with an RPM limit. A non-positive rpm
// disables limiting.
func NewRateLimitedClient(inner Client, rpm int, burst int) *RateLimitedClient {
	var limiter *rate.Limiter
	if rpm > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}
	return &RateLimitedClient{inner: inner, limiter: limiter}
}

// Complete waits for a rate-limiter token, then delegates to the inner client.
func (c *RateLimitedClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.inner.Complete(ctx, req)
}
