package oracle

import (
	"context"
	"fmt"
	"time"

	"shde/internal/metrics"
)

// WithTimeout wraps next so every call is bounded by d, regardless of
// whether the underlying provider client respects context cancellation
// on its own.
func WithTimeout(d time.Duration) Middleware {
	return func(next Client) Client {
		return clientFunc{
			name: next.Name(),
			suggest: func(ctx context.Context, req Request) (Response, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, d)
				defer cancel()

				type result struct {
					resp Response
					err  error
				}
				ch := make(chan result, 1)
				go func() {
					resp, err := next.SuggestPatch(timeoutCtx, req)
					ch <- result{resp, err}
				}()

				select {
				case r := <-ch:
					return r.resp, r.err
				case <-timeoutCtx.Done():
					return Response{}, fmt.Errorf("oracle provider %s: %w", next.Name(), timeoutCtx.Err())
				}
			},
		}
	}
}

// WithMetrics wraps next to increment shde_oracle_invocations_total on
// every call, labeled by provider and whether a diff was returned.
func WithMetrics() Middleware {
	return func(next Client) Client {
		return clientFunc{
			name: next.Name(),
			suggest: func(ctx context.Context, req Request) (Response, error) {
				resp, err := next.SuggestPatch(ctx, req)
				result := "empty"
				if err == nil && resp.Diff != "" {
					result = "diff"
				} else if err != nil {
					result = "error"
				}
				metrics.OracleInvocationsTotal.WithLabelValues(next.Name(), result).Inc()
				return resp, err
			},
		}
	}
}
