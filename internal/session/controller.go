package session

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"shde/internal/confidence"
	"shde/internal/learned"
	"shde/internal/logx"
	"shde/internal/metrics"
	"shde/internal/oracle"
	"shde/internal/parser"
	"shde/internal/patch"
	"shde/internal/rollback"
	"shde/internal/texec"
	"shde/internal/tracker"
	"shde/internal/vault"
)

// Deps bundles every component the Controller drives, all constructed
// and owned by the caller (the driver program's config/CLI wiring),
// per the Design Notes' "explicit component instances passed into the
// Controller" re-architecture of process-wide singletons.
type Deps struct {
	Executor      texec.Executor
	Learned       *learned.Store
	Registry      *patch.Registry
	Oracle        *oracle.Adapter
	Confidence    *confidence.Manager
	Vault         *vault.Vault
	Rollback      *rollback.Manager
	Tracker       *tracker.Tracker
	Store         StateStore
	MaxAttempts   int
	SessionMaxRetries int
	RevalidateTimeout time.Duration
}

// Controller is the Debug Loop Controller (C9).
type Controller struct {
	deps      Deps
	sessionID string
	sm        *BaseStateMachine
	log       *logx.Logger

	sigOrder  []patch.ErrorSignature
	failures  map[patch.ErrorSignature]patch.Failure
	resolved  map[patch.ErrorSignature]bool
	abandoned map[patch.ErrorSignature]bool
}

// New returns a Controller for a fresh session with a random session ID.
func New(deps Deps) *Controller {
	sessionID := uuid.NewString()
	return &Controller{
		deps:      deps,
		sessionID: sessionID,
		sm:        NewBaseStateMachine(sessionID, StateIdle, deps.Store, nil),
		log:       logx.NewLogger("controller"),
		failures:  make(map[patch.ErrorSignature]patch.Failure),
		resolved:  make(map[patch.ErrorSignature]bool),
		abandoned: make(map[patch.ErrorSignature]bool),
	}
}

// RunSession drives the full outer loop (Running -> Triaging -> ... ->
// Success|Partial) and returns the terminal SessionReport. The loop is
// bounded by SessionMaxRetries (at least 1), but every pass that returns
// ends in Success or Partial and an executor error aborts the session at
// once, so a single pass runs; an unstable executor is not retried.
func (c *Controller) RunSession(ctx context.Context) (patch.SessionReport, error) {
	report := patch.SessionReport{
		SessionID: c.sessionID,
		StartedAt: time.Now().UTC(),
	}

	if err := c.sm.TransitionTo(ctx, StateRunning, nil); err != nil {
		return report, err
	}

	maxSessionAttempts := c.deps.SessionMaxRetries
	if maxSessionAttempts < 1 {
		maxSessionAttempts = 1
	}
	for attempt := 0; attempt < maxSessionAttempts; attempt++ {
		final, err := c.runOnce(ctx)
		if err != nil {
			c.log.Error("session aborted: %v", err)
			report.FinalState = string(StateAborted)
			report.EndedAt = time.Now().UTC()
			metrics.SessionsTotal.WithLabelValues(report.FinalState).Inc()
			return report, err
		}
		if final == StateSuccess || final == StatePartial {
			report.FinalState = string(final)
			break
		}
	}

	report.EndedAt = time.Now().UTC()
	report.FailuresSeen = len(c.failures)
	for sig := range c.resolved {
		if c.resolved[sig] {
			report.FailuresFixed++
		}
	}
	metrics.SessionsTotal.WithLabelValues(report.FinalState).Inc()
	return report, nil
}

// runOnce executes one Running -> Triaging -> ... -> Success|Partial pass.
func (c *Controller) runOnce(ctx context.Context) (State, error) {
	result, err := c.deps.Executor.Run(ctx, texec.Opts{})
	if err != nil {
		return "", err
	}

	failures := parser.Parse(result.Combined())
	if len(failures) == 0 {
		if err := c.sm.TransitionTo(ctx, StateSuccess, nil); err != nil {
			return "", err
		}
		return StateSuccess, nil
	}

	c.ingestFailures(failures)

	if err := c.sm.TransitionTo(ctx, StateTriaging, nil); err != nil {
		return "", err
	}

	return c.triageLoop(ctx)
}

func (c *Controller) ingestFailures(failures []patch.Failure) {
	for _, f := range failures {
		sig := f.Signature()
		if _, seen := c.failures[sig]; !seen {
			c.failures[sig] = f
			c.sigOrder = append(c.sigOrder, sig)
		}
	}
}

// triageLoop processes signatures in first-appearance order until every
// signature is resolved or abandoned. Each signature is handed to
// processSignature, which owns the Escalating/Applying/Revalidating/
// Reverting inner loop and always returns with the machine back in
// Triaging.
func (c *Controller) triageLoop(ctx context.Context) (State, error) {
	for {
		sig, failure, ok := c.nextPending()
		if !ok {
			break
		}

		if c.deps.Confidence.AttemptCount(sig) >= c.deps.MaxAttempts {
			c.abandon(ctx, sig)
			if err := c.backToTriaging(ctx); err != nil {
				return "", err
			}
			continue
		}

		if err := c.sm.TransitionTo(ctx, StateEscalating, map[string]any{"signature": string(sig)}); err != nil {
			return "", err
		}
		if err := c.processSignature(ctx, sig, failure); err != nil {
			return "", err
		}
	}

	if len(c.abandoned) > 0 {
		if err := c.sm.TransitionTo(ctx, StatePartial, nil); err != nil {
			return "", err
		}
		return StatePartial, nil
	}
	if err := c.sm.TransitionTo(ctx, StateSuccess, nil); err != nil {
		return "", err
	}
	return StateSuccess, nil
}

// processSignature assumes the machine is already in Escalating for sig
// and drives escalate/apply/revalidate/revert until the signature is
// resolved or abandoned, leaving the machine in Triaging on return.
func (c *Controller) processSignature(ctx context.Context, sig patch.ErrorSignature, failure patch.Failure) error {
	for {
		candidate, found := c.nextCandidate(ctx, sig, failure)
		if !found {
			c.abandon(ctx, sig)
			return c.backToTriaging(ctx)
		}

		if err := c.sm.TransitionTo(ctx, StateApplying, nil); err != nil {
			return err
		}

		if err := c.applyPatch(sig, failure, candidate); err != nil {
			c.log.Warn("apply failed for %s: %v", sig, err)
			if err := c.sm.TransitionTo(ctx, StateReverting, nil); err != nil {
				return err
			}
			retry, err := c.recordFailureAndDecideRetry(ctx, sig, candidate)
			if err != nil {
				return err
			}
			if !retry {
				return c.backToTriaging(ctx)
			}
			continue
		}

		if err := c.sm.TransitionTo(ctx, StateRevalidating, nil); err != nil {
			return err
		}

		passed, err := c.revalidate(ctx, failure)
		if err != nil {
			return err
		}
		if passed {
			c.resolve(sig, candidate)
			return c.backToTriaging(ctx)
		}

		if err := c.sm.TransitionTo(ctx, StateReverting, nil); err != nil {
			return err
		}
		retry, err := c.recordFailureAndDecideRetry(ctx, sig, candidate)
		if err != nil {
			return err
		}
		if !retry {
			return c.backToTriaging(ctx)
		}
	}
}

// recordFailureAndDecideRetry restores the target file, records the
// failed attempt, and either re-transitions to Escalating (retry true)
// or abandons the signature (retry false). The machine is left in
// Escalating or Abandoning respectively; the caller still owns getting
// back to Triaging in the abandon case.
func (c *Controller) recordFailureAndDecideRetry(ctx context.Context, sig patch.ErrorSignature, p patch.Patch) (bool, error) {
	outcome, err := c.deps.Rollback.RecordFailure(c.sessionID, sig, p)
	if err != nil {
		return false, err
	}
	_ = c.deps.Tracker.RecordFailed(outcome)

	if c.deps.Rollback.BudgetExhausted(sig) || !c.deps.Confidence.ShouldRetry(sig) {
		c.abandon(ctx, sig)
		return false, nil
	}

	if err := c.sm.TransitionTo(ctx, StateEscalating, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) backToTriaging(ctx context.Context) error {
	return c.sm.TransitionTo(ctx, StateTriaging, nil)
}

func (c *Controller) abandon(ctx context.Context, sig patch.ErrorSignature) {
	c.abandoned[sig] = true
	outcome := c.deps.Rollback.MarkManualReview(c.sessionID, sig)
	_ = c.deps.Tracker.RecordFailed(outcome)
	_ = c.sm.TransitionTo(ctx, StateAbandoning, map[string]any{"signature": string(sig)})
}

// nextPending returns the next signature not yet resolved or abandoned.
func (c *Controller) nextPending() (patch.ErrorSignature, patch.Failure, bool) {
	for _, sig := range c.sigOrder {
		if c.resolved[sig] || c.abandoned[sig] {
			continue
		}
		return sig, c.failures[sig], true
	}
	return "", patch.Failure{}, false
}

// nextCandidate offers a previously failed patch for replay before
// generating a fresh one, per the Rollback Manager's retry ladder (C8):
// a patch that failed earlier in this signature's history may succeed
// on replay if a concurrently applied fix elsewhere changed the
// interaction that broke it. Only once the ladder is drained does this
// fall through to a fresh Learned/Pattern/Oracle search.
func (c *Controller) nextCandidate(ctx context.Context, sig patch.ErrorSignature, f patch.Failure) (patch.Patch, bool) {
	if p, ok := c.deps.Rollback.NextRetryCandidate(sig); ok {
		c.log.Info("replaying previously failed patch %s for signature %s", p.ID, sig)
		return p, true
	}
	return c.escalate(ctx, sig, f)
}

// escalate tries LEARNED, then PATTERN, then ORACLE, in that order,
// returning the first candidate produced.
func (c *Controller) escalate(ctx context.Context, sig patch.ErrorSignature, f patch.Failure) (patch.Patch, bool) {
	if fix, ok := c.deps.Learned.Lookup(sig); ok {
		p := patch.Patch{
			ID:         uuid.NewString(),
			Signature:  sig,
			Provenance: patch.ProvenanceLearned,
			TargetFile: f.File,
			Diff:       fix.Diff,
			Rationale:  "learned fix reused from prior session",
			CreatedAt:  time.Now().UTC(),
		}
		if c.score(sig, &p) {
			return p, true
		}
	}

	source, err := os.ReadFile(f.File)
	if err == nil {
		if name, rewritten, applied := c.deps.Registry.Fix(f, string(source)); applied {
			p := patch.Patch{
				ID:         uuid.NewString(),
				Signature:  sig,
				Provenance: patch.ProvenancePattern,
				TargetFile: f.File,
				Diff:       rewritten,
				Rationale:  "pattern fixer: " + name,
				CreatedAt:  time.Now().UTC(),
			}
			if c.score(sig, &p) {
				return p, true
			}
		}
	}

	if c.deps.Oracle != nil {
		var codeContext string
		if source != nil {
			codeContext = string(source)
		}
		resp, ok := c.deps.Oracle.SuggestPatch(ctx, f.Message, codeContext, f.File)
		if ok {
			newContent, err := patch.ApplyUnifiedDiff(codeContext, resp.Diff)
			if err != nil {
				c.log.Warn("oracle diff for %s did not apply cleanly: %v", sig, err)
				return patch.Patch{}, false
			}
			p := patch.Patch{
				ID:         uuid.NewString(),
				Signature:  sig,
				Provenance: patch.ProvenanceOracle,
				TargetFile: f.File,
				Diff:       newContent,
				Rationale:  resp.Rationale,
				Confidence: resp.Confidence,
				CreatedAt:  time.Now().UTC(),
			}
			if c.score(sig, &p) {
				return p, true
			}
		}
	}

	return patch.Patch{}, false
}

// score assigns confidence to p, always recording it for should_retry
// bookkeeping and the audit trail. Nomination itself is only gated by
// the apply threshold for ORACLE-provenance patches; LEARNED and
// PATTERN patches come from deterministic sources and are nominated as
// soon as they're produced, matching the Escalating state's "tries, in
// order: Learned -> Pattern -> Oracle" contract rather than a
// probabilistic score meant to rank oracle suggestions.
func (c *Controller) score(sig patch.ErrorSignature, p *patch.Patch) bool {
	rec := c.deps.Confidence.Assign(sig, *p)
	p.Confidence = rec.Score
	if p.Provenance != patch.ProvenanceOracle {
		return true
	}
	best, ok := c.deps.Confidence.BestHighConfidence(sig)
	return ok && best.PatchID == p.ID
}

func (c *Controller) applyPatch(sig patch.ErrorSignature, f patch.Failure, p patch.Patch) error {
	if _, err := c.deps.Vault.EnsureBackup(c.sessionID, p.TargetFile); err != nil {
		return err
	}
	return os.WriteFile(p.TargetFile, []byte(p.Diff), 0o644)
}

func (c *Controller) revalidate(ctx context.Context, f patch.Failure) (bool, error) {
	result, err := c.deps.Executor.Run(ctx, texec.Opts{
		Timeout:     c.deps.RevalidateTimeout,
		TargetFiles: []string{f.File},
	})
	if err != nil {
		return false, err
	}
	remaining := parser.Parse(result.Combined())
	for _, rf := range remaining {
		if rf.Signature() == f.Signature() {
			return false, nil
		}
	}
	return true, nil
}

func (c *Controller) resolve(sig patch.ErrorSignature, p patch.Patch) {
	c.resolved[sig] = true
	c.deps.Confidence.RecordOutcome(sig, true)
	_ = c.deps.Learned.Upsert(sig, p)
	outcome := patch.AttemptOutcome{
		SessionID:  c.sessionID,
		PatchID:    p.ID,
		Signature:  sig,
		Provenance: p.Provenance,
		Outcome:    patch.OutcomeApplied,
		Score:      p.Confidence,
		RecordedAt: time.Now().UTC(),
	}
	_ = c.deps.Tracker.RecordSucceeded(outcome)
}

// Commit releases this session's backups, called after a terminal
// Success or Partial state.
func (c *Controller) Commit() {
	c.deps.Vault.Commit(c.sessionID)
}

// Abort restores every file this session touched, called on
// cancellation or an invariant violation.
func (c *Controller) Abort() error {
	return c.deps.Vault.Abort(c.sessionID)
}

// SessionID returns this controller's session identifier.
func (c *Controller) SessionID() string { return c.sessionID }
