package provider

import (
	"context"
	"encoding/json"

	"go.uber.org/ratelimit"
)

// RateLimited spaces out calls to a provider. A batch counts as one request.
type RateLimited struct {
	Provider
	rl ratelimit.Limiter
}

// WithRateLimit wraps p so it issues at most rps requests per second.
// rps <= 0 returns p unchanged.
func WithRateLimit(p Provider, rps int) Provider {
	if rps <= 0 {
		return p
	}
	return &RateLimited{Provider: p, rl: ratelimit.New(rps)}
}

func (r *RateLimited) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := r.take(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Call(ctx, method, params...)
}

func (r *RateLimited) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	if err := r.take(ctx); err != nil {
		return nil, err
	}
	return r.Provider.BatchCall(ctx, requests)
}

// take blocks for a token. The limiter is not context aware, so cancellation
// is only observed before and after the wait.
func (r *RateLimited) take(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.rl.Take()
	return ctx.Err()
}
