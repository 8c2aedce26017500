package learned

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"shde/internal/patch"
)

func TestLookupMissingReturnsFalse(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "learning_db.json"))
	require.NoError(t, err)

	_, ok := store.Lookup(patch.ErrorSignature("nope"))
	require.False(t, ok)
}

func TestUpsertThenLookupIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning_db.json")
	store, err := Open(path)
	require.NoError(t, err)

	sig := patch.ErrorSignature("sig-1")
	p := patch.Patch{Diff: "+import math", Provenance: patch.ProvenancePattern}
	require.NoError(t, store.Upsert(sig, p))

	first, ok := store.Lookup(sig)
	require.True(t, ok)
	second, ok := store.Lookup(sig)
	require.True(t, ok)
	require.Equal(t, first, second)
	require.Equal(t, 1, first.SuccessCount)

	reloaded, err := Open(path)
	require.NoError(t, err)
	fix, ok := reloaded.Lookup(sig)
	require.True(t, ok)
	require.Equal(t, "+import math", fix.Diff)
}

func TestReinforceIncrementsSuccessCount(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "learning_db.json"))
	require.NoError(t, err)

	sig := patch.ErrorSignature("sig-1")
	require.NoError(t, store.Upsert(sig, patch.Patch{Diff: "x"}))
	require.NoError(t, store.Reinforce(sig))

	fix, ok := store.Lookup(sig)
	require.True(t, ok)
	require.Equal(t, 2, fix.SuccessCount)
}

func TestMalformedStoreResetsToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "learning_db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := Open(path)
	require.NoError(t, err)
	_, ok := store.Lookup(patch.ErrorSignature("anything"))
	require.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), ".corrupt")
}
