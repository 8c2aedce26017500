// Package confidence assigns and updates the [0,1] score attached to
// every (signature, patch) pair. The score always feeds should_retry
// bookkeeping; whether it also gates nomination is a caller decision —
// the Debug Loop Controller applies BestHighConfidence's apply-threshold
// gate only to ORACLE-provenance patches, since LEARNED and PATTERN
// patches come from deterministic sources that either produce a fix or
// don't, and gating them behind a probabilistic score built for ranking
// non-deterministic oracle suggestions would make a fresh, never-yet-
// successful signature permanently unfixable.
package confidence

import (
	"math/rand/v2"
	"sync"
	"time"

	"shde/internal/patch"
)

const (
	minScore = 0.1
	maxScore = 1.0
	baseline = 0.5
	jitterHalfRange = 0.08
)

func clamp(v float64) float64 {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

// history tracks per-signature outcome counts and per-attempt records.
type history struct {
	passed   int
	total    int
	attempts int
	records  []patch.ConfidenceRecord
}

// Manager holds per-signature history and produces deterministic,
// seedable confidence scores.
type Manager struct {
	applyThreshold float64
	retryThreshold float64
	maxAttempts    int

	rng *rand.Rand

	mu   sync.Mutex
	hist map[patch.ErrorSignature]*history
}

// New returns a Manager configured with the given thresholds and a
// deterministic PRNG seeded from seed, so jitter is reproducible across
// runs of the same test.
func New(applyThreshold, retryThreshold float64, maxAttempts int, seed uint64) *Manager {
	return &Manager{
		applyThreshold: applyThreshold,
		retryThreshold: retryThreshold,
		maxAttempts:    maxAttempts,
		rng:            rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		hist:           make(map[patch.ErrorSignature]*history),
	}
}

func (m *Manager) historyFor(sig patch.ErrorSignature) *history {
	h, ok := m.hist[sig]
	if !ok {
		h = &history{}
		m.hist[sig] = h
	}
	return h
}

// Assign scores p and appends a ConfidenceRecord to the signature's
// history. With no recorded history yet, base is the shared baseline
// for LEARNED and PATTERN provenance, but for ORACLE provenance an
// already-set p.Confidence (the provider's own stated confidence, per
// oracle.Response) is used instead: an oracle has no track record to
// fall back on, so its own estimate is the only signal available.
func (m *Manager) Assign(sig patch.ErrorSignature, p patch.Patch) patch.ConfidenceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.historyFor(sig)
	base := baseline
	switch {
	case h.total > 0:
		base = float64(h.passed) / float64(h.total)
	case p.Provenance == patch.ProvenanceOracle && p.Confidence > 0:
		base = clamp(p.Confidence)
	}

	jitter := (m.rng.Float64()*2 - 1) * jitterHalfRange
	score := clamp(base + jitter)

	reasons := reasonsFor(base, p.Provenance)
	rec := patch.ConfidenceRecord{
		PatchID:   p.ID,
		Signature: sig,
		Score:     score,
		Reasons:   reasons,
		ScoredAt:  time.Now().UTC(),
	}
	h.records = append(h.records, rec)
	return rec
}

func reasonsFor(base float64, prov patch.Provenance) []string {
	var reasons []string
	switch {
	case base >= 0.75:
		reasons = append(reasons, "matches a prior success")
	case base <= 0.25:
		reasons = append(reasons, "novel pattern, uncertain")
	default:
		reasons = append(reasons, "mixed prior outcomes")
	}
	if prov == patch.ProvenanceLearned {
		reasons = append(reasons, "sourced from learned-fix store")
	}
	if prov == patch.ProvenanceOracle {
		reasons = append(reasons, "oracle-suggested")
	}
	return reasons
}

// BestHighConfidence returns the highest-scoring recent record for sig
// if its score meets or exceeds the apply threshold (inclusive).
func (m *Manager) BestHighConfidence(sig patch.ErrorSignature) (patch.ConfidenceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hist[sig]
	if !ok || len(h.records) == 0 {
		return patch.ConfidenceRecord{}, false
	}

	best := h.records[0]
	for _, r := range h.records[1:] {
		if r.Score > best.Score {
			best = r
		}
	}
	if best.Score >= m.applyThreshold {
		return best, true
	}
	return patch.ConfidenceRecord{}, false
}

// RecordOutcome folds a revalidation result into a signature's history,
// used to compute future base rates.
func (m *Manager) RecordOutcome(sig patch.ErrorSignature, passed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.historyFor(sig)
	h.total++
	if passed {
		h.passed++
	}
	h.attempts++
}

// ShouldRetry reports whether the most recent score for sig exceeds the
// retry threshold and the signature's attempt counter is below the
// configured MAX_ATTEMPTS.
func (m *Manager) ShouldRetry(sig patch.ErrorSignature) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hist[sig]
	if !ok || len(h.records) == 0 {
		return m.maxAttempts > 0
	}
	latest := h.records[len(h.records)-1]
	return latest.Score > m.retryThreshold && h.attempts < m.maxAttempts
}

// AttemptCount returns how many attempts have been recorded for sig.
func (m *Manager) AttemptCount(sig patch.ErrorSignature) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hist[sig]
	if !ok {
		return 0
	}
	return h.attempts
}
