package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shde/internal/patch"
)

func TestRecordFailedThenSucceededPersist(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir)
	require.NoError(t, err)
	defer tr.Close()

	sig := patch.ErrorSignature("sig-1")
	require.NoError(t, tr.RecordFailed(patch.AttemptOutcome{
		Signature: sig, Outcome: patch.OutcomeAppliedAndFailed, Provenance: patch.ProvenancePattern, RecordedAt: time.Now(),
	}))
	require.NoError(t, tr.RecordSucceeded(patch.AttemptOutcome{
		Signature: sig, Outcome: patch.OutcomeApplied, Provenance: patch.ProvenanceLearned, RecordedAt: time.Now(),
	}))

	failed, succeeded, _, _, _ := tr.Snapshot()
	require.Len(t, failed[sig], 1)
	require.Len(t, succeeded[sig], 1)

	data, err := os.ReadFile(filepath.Join(dir, "successful_patches.json"))
	require.NoError(t, err)
	var onDisk map[string][]patch.AttemptOutcome
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk["sig-1"], 1)
}

func TestLedgerSurvivesReopenAfterCorruption(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failed_patches.json"), []byte("{bad"), 0o644))

	tr, err := Open(dir)
	require.NoError(t, err)
	defer tr.Close()

	failed, _, _, _, _ := tr.Snapshot()
	require.Empty(t, failed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	foundQuarantine := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".corrupt" {
			foundQuarantine = true
		}
	}
	require.True(t, foundQuarantine)
}

func TestImportFixCounters(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.RecordImportFix("math", true))
	require.NoError(t, tr.RecordImportFix("math", false))

	_, _, imports, _, _ := tr.Snapshot()
	require.Equal(t, 1, imports["math"].Fixed)
	require.Equal(t, 1, imports["math"].Failed)
}

func TestRollupPerformance(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir)
	require.NoError(t, err)
	defer tr.Close()

	sig := patch.ErrorSignature("sig-1")
	require.NoError(t, tr.RecordSucceeded(patch.AttemptOutcome{Signature: sig, Outcome: patch.OutcomeApplied}))
	require.NoError(t, tr.RollupPerformance())

	_, _, _, _, perf := tr.Snapshot()
	today := time.Now().UTC().Format("2006-01-02")
	require.Equal(t, 1, perf[today].TotalFixes)
	require.InDelta(t, 1.0, perf[today].SuccessRate, 0.0001)
}
