package oracle

import (
	"context"
	"sync"
	"time"

	"shde/internal/logx"
)

var log = logx.NewLogger("oracle")

// Feedback is one recorded invocation, handed to the caller so it can be
// appended to the Tracker's oracle_feedback ledger without this package
// depending on the tracker package.
type Feedback struct {
	Provider    string
	Succeeded   bool
	Rationale   string
	AttemptedAt time.Time
}

// Adapter is the Patch Oracle Adapter (C6): a priority-ordered chain of
// providers, each already wrapped with circuit-breaker/retry/timeout/
// metrics middleware by the caller. Within one SuggestPatch call the
// adapter tries providers in order and returns the first non-empty
// diff; providers that return an error are treated as unavailable and
// skipped rather than propagated.
type Adapter struct {
	providers   []Client
	promptRetries int

	onFeedback func(Feedback)
}

// NewAdapter returns an Adapter trying providers in the given priority
// order, up to promptRetries escalating re-prompts per failure before
// giving up. onFeedback, if non-nil, is called once per provider
// invocation for ledger recording.
func NewAdapter(providers []Client, promptRetries int, onFeedback func(Feedback)) *Adapter {
	return &Adapter{providers: providers, promptRetries: promptRetries, onFeedback: onFeedback}
}

// SuggestPatch tries every configured provider at escalating attempt
// indices (each escalation injects the next refinement hint from
// oracle.RefinementHints) until one yields a non-empty diff or the
// prompt-retry ceiling is reached.
func (a *Adapter) SuggestPatch(ctx context.Context, errorMessage, codeContext, filePath string) (Response, bool) {
	if len(a.providers) == 0 {
		log.Warn("no oracle providers configured, skipping oracle step")
		return Response{}, false
	}

	for attempt := 0; attempt <= a.promptRetries; attempt++ {
		req := Request{
			ErrorMessage:   errorMessage,
			CodeContext:    codeContext,
			FilePath:       filePath,
			AttemptIndex:   attempt,
			RefinementHint: HintFor(attempt),
		}

		for _, provider := range a.providers {
			resp, err := provider.SuggestPatch(ctx, req)
			succeeded := err == nil && resp.Diff != ""

			if a.onFeedback != nil {
				a.onFeedback(Feedback{
					Provider:    provider.Name(),
					Succeeded:   succeeded,
					Rationale:   resp.Rationale,
					AttemptedAt: time.Now().UTC(),
				})
			}

			if err != nil {
				log.Warn("provider %s unavailable on attempt %d: %v", provider.Name(), attempt, err)
				continue
			}
			if succeeded {
				return resp, true
			}
		}
	}

	log.Warn("all oracle providers exhausted after %d attempts", a.promptRetries+1)
	return Response{}, false
}

// ProviderNames returns the configured providers' names in adapter
// order, positionally aligned with ProbeAll's result slice.
func (a *Adapter) ProviderNames() []string {
	names := make([]string, len(a.providers))
	for i, p := range a.providers {
		names[i] = p.Name()
	}
	return names
}

// ProbeAll fans out a single request to every provider concurrently and
// joins the results with a WaitGroup, matching the concurrency model's
// one permitted parallelism point: probing multiple providers before
// the Controller proceeds. Used by the "diagnose" CLI command to check
// every configured provider's reachability and credentials in one round
// trip, rather than SuggestPatch's strict priority order which would
// stop at the first successful provider.
func (a *Adapter) ProbeAll(ctx context.Context, errorMessage, codeContext, filePath string) []Response {
	req := Request{ErrorMessage: errorMessage, CodeContext: codeContext, FilePath: filePath}

	results := make([]Response, len(a.providers))
	var wg sync.WaitGroup
	for i, provider := range a.providers {
		wg.Add(1)
		go func(i int, p Client) {
			defer wg.Done()
			resp, err := p.SuggestPatch(ctx, req)
			if err == nil {
				results[i] = resp
			}
		}(i, provider)
	}
	wg.Wait()
	return results
}
