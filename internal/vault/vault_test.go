package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEnsureBackupIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	file := writeTemp(t, dir, "a.py", "original")
	v := New(filepath.Join(dir, "backups"))

	snap1, err := v.EnsureBackup("s1", file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("mutated"), 0o644))

	snap2, err := v.EnsureBackup("s1", file)
	require.NoError(t, err)
	require.Equal(t, snap1.BackupPath, snap2.BackupPath)

	data, err := os.ReadFile(snap1.BackupPath)
	require.NoError(t, err)
	require.Equal(t, "original", string(data))
}

func TestRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := writeTemp(t, dir, "a.py", "original")
	v := New(filepath.Join(dir, "backups"))

	_, err := v.EnsureBackup("s1", file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("mutated"), 0o644))
	require.NoError(t, v.Restore("s1", file))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, "original", string(data))
	require.False(t, v.HasBackup("s1", file))
}

func TestAbortRestoresInReverseOrder(t *testing.T) {
	dir := t.TempDir()
	fileA := writeTemp(t, dir, "a.py", "A-original")
	fileB := writeTemp(t, dir, "b.py", "B-original")
	v := New(filepath.Join(dir, "backups"))

	_, err := v.EnsureBackup("s1", fileA)
	require.NoError(t, err)
	_, err = v.EnsureBackup("s1", fileB)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(fileA, []byte("A-mutated"), 0o644))
	require.NoError(t, os.WriteFile(fileB, []byte("B-mutated"), 0o644))

	require.NoError(t, v.Abort("s1"))

	dataA, err := os.ReadFile(fileA)
	require.NoError(t, err)
	require.Equal(t, "A-original", string(dataA))

	dataB, err := os.ReadFile(fileB)
	require.NoError(t, err)
	require.Equal(t, "B-original", string(dataB))

	require.Empty(t, v.Held("s1"))
}

func TestFreshVaultInstanceRecoversSnapshotsFromManifest(t *testing.T) {
	dir := t.TempDir()
	file := writeTemp(t, dir, "a.py", "original")
	backupDir := filepath.Join(dir, "backups")

	v1 := New(backupDir)
	_, err := v1.EnsureBackup("s1", file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("mutated"), 0o644))

	// A separate process would construct a brand new Vault over the same
	// baseDir; it must still see the snapshot v1 recorded.
	v2 := New(backupDir)
	require.True(t, v2.HasBackup("s1", file))
	require.Len(t, v2.Held("s1"), 1)

	require.NoError(t, v2.Restore("s1", file))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, "original", string(data))
	require.False(t, v2.HasBackup("s1", file))

	// The manifest should no longer list the restored snapshot even for
	// a third, later instance.
	v3 := New(backupDir)
	require.Empty(t, v3.Held("s1"))
}

func TestCommitRemovesManifest(t *testing.T) {
	dir := t.TempDir()
	file := writeTemp(t, dir, "a.py", "original")
	backupDir := filepath.Join(dir, "backups")

	v1 := New(backupDir)
	_, err := v1.EnsureBackup("s1", file)
	require.NoError(t, err)
	v1.Commit("s1")

	v2 := New(backupDir)
	require.Empty(t, v2.Held("s1"))
	require.False(t, v2.HasBackup("s1", file))
}

func TestCommitReleasesWithoutRestoring(t *testing.T) {
	dir := t.TempDir()
	file := writeTemp(t, dir, "a.py", "original")
	v := New(filepath.Join(dir, "backups"))

	_, err := v.EnsureBackup("s1", file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, []byte("mutated"), 0o644))

	v.Commit("s1")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, "mutated", string(data))
	require.Empty(t, v.Held("s1"))
}
