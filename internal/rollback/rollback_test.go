package rollback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"shde/internal/confidence"
	"shde/internal/patch"
	"shde/internal/vault"
)

func setup(t *testing.T) (*Manager, *vault.Vault, string) {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(file, []byte("original"), 0o644))

	v := vault.New(filepath.Join(dir, "backups"))
	_, err := v.EnsureBackup("s1", file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, []byte("mutated"), 0o644))

	c := confidence.New(0.75, 0.20, 3, 1)
	m := New(v, c, 2)
	return m, v, file
}

func TestRecordFailureRestoresFile(t *testing.T) {
	m, _, file := setup(t)
	sig := patch.ErrorSignature("sig-1")

	outcome, err := m.RecordFailure("s1", sig, patch.Patch{TargetFile: file, Provenance: patch.ProvenancePattern})
	require.NoError(t, err)
	require.Equal(t, patch.OutcomeAppliedAndFailed, outcome.Outcome)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, "original", string(data))
}

func TestBudgetExhaustedAfterMaxRetries(t *testing.T) {
	m, _, file := setup(t)
	sig := patch.ErrorSignature("sig-1")

	for i := 0; i < 2; i++ {
		_, err := m.RecordFailure("s1", sig, patch.Patch{TargetFile: file, Provenance: patch.ProvenancePattern})
		require.NoError(t, err)
	}
	require.True(t, m.BudgetExhausted(sig))

	outcome := m.MarkManualReview("s1", sig)
	require.Equal(t, patch.OutcomeManualReview, outcome.Outcome)
}

func TestNextRetryCandidateReturnsMostRecentFailure(t *testing.T) {
	m, _, file := setup(t)
	sig := patch.ErrorSignature("sig-1")

	_, err := m.RecordFailure("s1", sig, patch.Patch{ID: "p1", TargetFile: file})
	require.NoError(t, err)

	candidate, ok := m.NextRetryCandidate(sig)
	require.True(t, ok)
	require.Equal(t, "p1", candidate.ID)
}

func TestNextRetryCandidateLadderIsEmptyAfterItsOnlyEntryIsOffered(t *testing.T) {
	m, _, file := setup(t)
	sig := patch.ErrorSignature("sig-1")

	_, err := m.RecordFailure("s1", sig, patch.Patch{ID: "p1", TargetFile: file})
	require.NoError(t, err)

	candidate, ok := m.NextRetryCandidate(sig)
	require.True(t, ok)
	require.Equal(t, "p1", candidate.ID)

	// p1 was the only failed patch on record and has already been
	// offered once; the ladder is empty until a fresh escalation fails.
	_, ok = m.NextRetryCandidate(sig)
	require.False(t, ok)
}

func TestNextRetryCandidateDoesNotReofferAnAlreadyRetriedPatch(t *testing.T) {
	v := vault.New(t.TempDir())
	c := confidence.New(0.75, 0.20, 3, 1)
	m := New(v, c, 4)
	sig := patch.ErrorSignature("sig-1")
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(file, []byte("original"), 0o644))
	_, err := v.EnsureBackup("s1", file)
	require.NoError(t, err)

	_, err = m.RecordFailure("s1", sig, patch.Patch{ID: "p1", TargetFile: file})
	require.NoError(t, err)

	candidate, ok := m.NextRetryCandidate(sig)
	require.True(t, ok)
	require.Equal(t, "p1", candidate.ID)

	// p1 fails again on replay; since it was already offered, it must
	// not be queued a second time.
	_, err = m.RecordFailure("s1", sig, candidate)
	require.NoError(t, err)

	_, err = m.RecordFailure("s1", sig, patch.Patch{ID: "p2", TargetFile: file})
	require.NoError(t, err)

	next, ok := m.NextRetryCandidate(sig)
	require.True(t, ok)
	require.Equal(t, "p2", next.ID, "p1 should not be reoffered after already being retried once")
}
