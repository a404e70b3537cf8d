package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider throttles calls to a provider.
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimitedProvider allows requestsPerMinute calls per minute with a
// burst of one. A non-positive rate returns p unchanged.
func NewRateLimitedProvider(p Provider, requestsPerMinute int) Provider {
	if requestsPerMinute <= 0 {
		return p
	}
	return &RateLimitedProvider{
		provider: p,
		limiter:  rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
	}
}

// Name returns the wrapped provider name
func (p *RateLimitedProvider) Name() string {
	return p.provider.Name()
}

// CreateCompletion waits for a token and forwards the request
func (p *RateLimitedProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", p.provider.Name(), err)
	}
	return p.provider.CreateCompletion(ctx, request)
}
