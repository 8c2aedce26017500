package confidence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"shde/internal/patch"
)

func TestAssignScoreIsBounded(t *testing.T) {
	m := New(0.75, 0.20, 3, 42)
	sig := patch.ErrorSignature("sig-1")

	for i := 0; i < 50; i++ {
		rec := m.Assign(sig, patch.Patch{ID: "p1", Provenance: patch.ProvenancePattern})
		require.GreaterOrEqual(t, rec.Score, minScore)
		require.LessOrEqual(t, rec.Score, maxScore)
	}
}

func TestBestHighConfidenceInclusiveAtThreshold(t *testing.T) {
	m := New(0.75, 0.20, 3, 1)
	sig := patch.ErrorSignature("sig-1")
	m.hist[sig] = &history{records: []patch.ConfidenceRecord{{Score: 0.75, PatchID: "p1"}}}

	rec, ok := m.BestHighConfidence(sig)
	require.True(t, ok)
	require.Equal(t, "p1", rec.PatchID)
}

func TestBestHighConfidenceBelowThresholdRejected(t *testing.T) {
	m := New(0.75, 0.20, 3, 1)
	sig := patch.ErrorSignature("sig-1")
	m.hist[sig] = &history{records: []patch.ConfidenceRecord{{Score: 0.74, PatchID: "p1"}}}

	_, ok := m.BestHighConfidence(sig)
	require.False(t, ok)
}

func TestShouldRetryRespectsMaxAttempts(t *testing.T) {
	m := New(0.75, 0.20, 2, 1)
	sig := patch.ErrorSignature("sig-1")
	m.Assign(sig, patch.Patch{Provenance: patch.ProvenancePattern})

	m.RecordOutcome(sig, false)
	require.True(t, m.ShouldRetry(sig))

	m.RecordOutcome(sig, false)
	require.False(t, m.ShouldRetry(sig))
}

func TestAssignFreshPatternSignatureFallsBackToBaseline(t *testing.T) {
	m := New(0.75, 0.20, 3, 42)
	sig := patch.ErrorSignature("sig-1")

	rec := m.Assign(sig, patch.Patch{ID: "p1", Provenance: patch.ProvenancePattern})
	require.InDelta(t, baseline, rec.Score, jitterHalfRange)
	require.Less(t, rec.Score, 0.75, "a fresh pattern fix has no track record to clear the apply threshold on its own")
}

func TestAssignFreshOracleSignatureUsesProviderConfidence(t *testing.T) {
	m := New(0.75, 0.20, 3, 42)
	sig := patch.ErrorSignature("sig-1")

	rec := m.Assign(sig, patch.Patch{ID: "p1", Provenance: patch.ProvenanceOracle, Confidence: 0.9})
	require.InDelta(t, 0.9, rec.Score, jitterHalfRange)
	require.GreaterOrEqual(t, rec.Score, 0.75, "a confidently-stated oracle suggestion should be able to clear the apply threshold on its first attempt")

	best, ok := m.BestHighConfidence(sig)
	require.True(t, ok)
	require.Equal(t, "p1", best.PatchID)
}

func TestAssignFreshOracleSignatureWithoutStatedConfidenceFallsBackToBaseline(t *testing.T) {
	m := New(0.75, 0.20, 3, 42)
	sig := patch.ErrorSignature("sig-1")

	rec := m.Assign(sig, patch.Patch{ID: "p1", Provenance: patch.ProvenanceOracle})
	require.InDelta(t, baseline, rec.Score, jitterHalfRange)
}

func TestDeterministicJitterForFixedSeed(t *testing.T) {
	sig := patch.ErrorSignature("sig-1")
	p := patch.Patch{Provenance: patch.ProvenancePattern}

	m1 := New(0.75, 0.20, 3, 7)
	m2 := New(0.75, 0.20, 3, 7)

	rec1 := m1.Assign(sig, p)
	rec2 := m2.Assign(sig, p)
	require.Equal(t, rec1.Score, rec2.Score)
}
