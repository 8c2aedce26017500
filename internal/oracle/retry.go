package oracle

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures exponential backoff with jitter.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfig mirrors the reference module's retry defaults.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    2,
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

type retryClient struct {
	next   Client
	config RetryConfig
}

// WithRetry wraps next with exponential-backoff retry.
func WithRetry(config RetryConfig) Middleware {
	return func(next Client) Client {
		return &retryClient{next: next, config: config}
	}
}

func (r *retryClient) Name() string { return r.next.Name() }

func (r *retryClient) SuggestPatch(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := r.next.SuggestPatch(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	return Response{}, fmt.Errorf("oracle provider %s failed after %d retries: %w", r.next.Name(), r.config.MaxRetries, lastErr)
}

func (r *retryClient) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay)
}
