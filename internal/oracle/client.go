// Package oracle implements the Patch Oracle Adapter: a uniform
// contract over one or more external model providers, chained with
// retry, circuit-breaking, and per-call timeout middleware, grounded on
// the reference module's pkg/agent/llm middleware-composition idiom.
package oracle

import (
	"context"
)

// Request is the input to a single oracle call.
type Request struct {
	ErrorMessage string
	CodeContext  string
	FilePath     string
	AttemptIndex int
	RefinementHint string
}

// Response is a provider's answer: either a unified-diff patch, or an
// empty diff meaning "no suggestion". Confidence is the provider's own
// stated confidence in the fix, parsed from its reply; zero means the
// provider did not report one and the Confidence Manager falls back to
// its historical-rate baseline.
type Response struct {
	Diff       string
	Rationale  string
	Confidence float64
}

// Client is the uniform contract every provider and every middleware
// layer implements, matching the reference module's LLMClient shape
// narrowed to the one operation the Oracle needs.
type Client interface {
	SuggestPatch(ctx context.Context, req Request) (Response, error)
	// Name identifies the provider for logging and oracle_feedback records.
	Name() string
}

// Middleware wraps a Client with additional behavior, composed with Chain.
type Middleware func(next Client) Client

// Chain composes middlewares around a base Client. Earlier middlewares
// in the argument list are outermost: Chain(base, mw1, mw2) builds
// mw1 -> mw2 -> base.
func Chain(base Client, middlewares ...Middleware) Client {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}

// clientFunc adapts two plain functions into a Client, used by
// middleware that needs to build an ad hoc wrapped client.
type clientFunc struct {
	name    string
	suggest func(context.Context, Request) (Response, error)
}

func (f clientFunc) SuggestPatch(ctx context.Context, req Request) (Response, error) {
	return f.suggest(ctx, req)
}

func (f clientFunc) Name() string { return f.name }
