// Package rollback implements the Rollback Manager (C8): restores files
// touched by a failed patch, records the failure, and retries
// previously failed patches in reverse order before giving up on a
// signature.
package rollback

import (
	"time"

	"shde/internal/confidence"
	"shde/internal/logx"
	"shde/internal/patch"
	"shde/internal/vault"
)

var log = logx.NewLogger("rollback")

// Manager orchestrates per-file backup/restore and cross-patch retry
// ordering for one session.
type Manager struct {
	vault      *vault.Vault
	confidence *confidence.Manager
	maxRetries int

	attempted map[patch.ErrorSignature][]patch.Patch
	ladder    map[patch.ErrorSignature][]patch.Patch
	retried   map[patch.ErrorSignature]map[string]bool
}

// New returns a Manager backed by v and c, allowing up to maxRetries
// failed attempts per signature, fresh patches and ladder replays alike,
// before marking it MANUAL_REVIEW.
func New(v *vault.Vault, c *confidence.Manager, maxRetries int) *Manager {
	return &Manager{
		vault:      v,
		confidence: c,
		maxRetries: maxRetries,
		attempted:  make(map[patch.ErrorSignature][]patch.Patch),
		ladder:     make(map[patch.ErrorSignature][]patch.Patch),
		retried:    make(map[patch.ErrorSignature]map[string]bool),
	}
}

// RecordFailure restores p's target file via the vault, folds a failure
// into the confidence history, and remembers p for the retry ladder. A
// patch that has already been offered once by NextRetryCandidate is not
// queued again, so the ladder drains instead of bouncing between the
// same one or two patches.
func (m *Manager) RecordFailure(sessionID string, sig patch.ErrorSignature, p patch.Patch) (patch.AttemptOutcome, error) {
	if err := m.vault.Restore(sessionID, p.TargetFile); err != nil {
		return patch.AttemptOutcome{}, err
	}
	m.confidence.RecordOutcome(sig, false)
	m.attempted[sig] = append(m.attempted[sig], p)
	if !m.retried[sig][p.ID] {
		m.ladder[sig] = append(m.ladder[sig], p)
	}

	outcome := patch.AttemptOutcome{
		SessionID:  sessionID,
		PatchID:    p.ID,
		Signature:  sig,
		Provenance: p.Provenance,
		Outcome:    patch.OutcomeAppliedAndFailed,
		Score:      p.Confidence,
		RecordedAt: time.Now().UTC(),
	}
	log.Info("rolled back %s for signature %s (provenance %s)", p.TargetFile, sig, p.Provenance)
	return outcome, nil
}

// NextRetryCandidate pops the most recently failed, not-yet-replayed
// patch for sig off its retry ladder (reverse of original attempt
// order), or returns false once the ladder is empty or the signature's
// retry budget (maxRetries) is exhausted. The caller is expected to try
// this candidate again before asking for a fresh one.
func (m *Manager) NextRetryCandidate(sig patch.ErrorSignature) (patch.Patch, bool) {
	if len(m.attempted[sig]) >= m.maxRetries {
		return patch.Patch{}, false
	}
	stack := m.ladder[sig]
	if len(stack) == 0 {
		return patch.Patch{}, false
	}

	top := stack[len(stack)-1]
	m.ladder[sig] = stack[:len(stack)-1]
	if m.retried[sig] == nil {
		m.retried[sig] = make(map[string]bool)
	}
	m.retried[sig][top.ID] = true
	return top, true
}

// AttemptCount returns how many patches have failed for sig so far.
func (m *Manager) AttemptCount(sig patch.ErrorSignature) int {
	return len(m.attempted[sig])
}

// BudgetExhausted reports whether sig has exceeded its retry budget and
// should be marked MANUAL_REVIEW.
func (m *Manager) BudgetExhausted(sig patch.ErrorSignature) bool {
	return len(m.attempted[sig]) >= m.maxRetries
}

// MarkManualReview produces the terminal outcome for a signature whose
// retry budget is exhausted.
func (m *Manager) MarkManualReview(sessionID string, sig patch.ErrorSignature) patch.AttemptOutcome {
	log.Warn("signature %s exhausted retry budget, marking MANUAL_REVIEW", sig)
	return patch.AttemptOutcome{
		SessionID:  sessionID,
		Signature:  sig,
		Outcome:    patch.OutcomeManualReview,
		RecordedAt: time.Now().UTC(),
	}
}
