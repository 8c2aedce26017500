package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shde/internal/patch"
	"shde/internal/tracker"
)

func TestCacheRebuildAndQuery(t *testing.T) {
	dir := t.TempDir()
	tr, err := tracker.Open(dir)
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	sig := patch.ErrorSignature("sig-1")
	require.NoError(t, tr.RecordSucceeded(patch.AttemptOutcome{
		Signature: sig, Provenance: patch.ProvenancePattern, Outcome: patch.OutcomeApplied,
		Score: 0.9, RecordedAt: time.Now().UTC(),
	}))
	require.NoError(t, tr.RecordFailed(patch.AttemptOutcome{
		Signature: sig, Provenance: patch.ProvenanceOracle, Outcome: patch.OutcomeAppliedAndFailed,
		Score: 0.4, RecordedAt: time.Now().UTC(),
	}))
	require.NoError(t, tr.RecordImportFix("requests", true))
	require.NoError(t, tr.RollupPerformance())

	cache, err := OpenCache()
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	require.NoError(t, cache.Rebuild(tr))

	entries, err := cache.RecentAttempts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	summary, err := cache.Performance(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalAttempts)
	require.Equal(t, 1, summary.TotalSucceeded)
	require.InDelta(t, 0.5, summary.OverallRate, 0.0001)
	require.Len(t, summary.Days, 1)
}

func TestCacheRebuildClearsPriorState(t *testing.T) {
	dir := t.TempDir()
	tr, err := tracker.Open(dir)
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	cache, err := OpenCache()
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	require.NoError(t, cache.Rebuild(tr))
	entries, err := cache.RecentAttempts(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, tr.RecordSucceeded(patch.AttemptOutcome{
		Signature: "sig-2", Provenance: patch.ProvenanceLearned, Outcome: patch.OutcomeApplied,
		Score: 1.0, RecordedAt: time.Now().UTC(),
	}))
	require.NoError(t, cache.Rebuild(tr))
	entries, err = cache.RecentAttempts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
