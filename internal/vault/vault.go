// Package vault owns byte-exact backup snapshots of files a session is
// about to mutate, and restores them on rollback or abort.
//
// The vault is the exclusive writer of snapshot content; every other
// component consults it but never writes a .bak file directly, matching
// the ownership rule that the Backup Vault exclusively owns snapshots.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shde/internal/logx"
	"shde/internal/patch"
)

var log = logx.NewLogger("vault")

// Vault manages per-session, per-file backup snapshots rooted at a base
// directory (typically <data-dir>/rollback_backups).
type Vault struct {
	baseDir string

	mu      sync.Mutex
	held    map[string][]patch.BackupSnapshot // sessionID -> snapshots, acquisition order
	holders map[string]map[string]bool        // sessionID -> file -> held
}

// New returns a Vault rooted at baseDir. baseDir is created lazily on
// first snapshot.
func New(baseDir string) *Vault {
	return &Vault{
		baseDir: baseDir,
		held:    make(map[string][]patch.BackupSnapshot),
		holders: make(map[string]map[string]bool),
	}
}

// EnsureBackup snapshots file's current bytes for sessionID if no
// snapshot is already held for that (session, file) pair. Idempotent
// within a session.
func (v *Vault) EnsureBackup(sessionID, file string) (patch.BackupSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.holders[sessionID] == nil {
		v.holders[sessionID] = make(map[string]bool)
	}
	if v.holders[sessionID][file] {
		for _, snap := range v.held[sessionID] {
			if snap.File == file {
				return snap, nil
			}
		}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return patch.BackupSnapshot{}, fmt.Errorf("vault: read %s for backup: %w", file, err)
	}

	sessionDir := filepath.Join(v.baseDir, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return patch.BackupSnapshot{}, fmt.Errorf("vault: create session dir: %w", err)
	}

	backupPath := filepath.Join(sessionDir, backupName(file))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return patch.BackupSnapshot{}, fmt.Errorf("vault: write backup %s: %w", backupPath, err)
	}

	snap := patch.BackupSnapshot{
		SessionID:  sessionID,
		File:       file,
		BackupPath: backupPath,
		TakenAt:    time.Now().UTC(),
	}
	v.held[sessionID] = append(v.held[sessionID], snap)
	v.holders[sessionID][file] = true
	v.writeManifestLocked(sessionID)
	log.Debug("backed up %s for session %s", file, sessionID)
	return snap, nil
}

// manifestPath returns the path of the manifest listing every snapshot
// held for sessionID, so a separate process (the "rollback" CLI command,
// run outside the debug session that created the backups) can recover
// what a Vault instance would otherwise only know in memory.
func (v *Vault) manifestPath(sessionID string) string {
	return filepath.Join(v.baseDir, sessionID, "manifest.json")
}

// writeManifestLocked persists the current in-memory snapshot list for
// sessionID. Caller must hold v.mu.
func (v *Vault) writeManifestLocked(sessionID string) {
	data, err := json.MarshalIndent(v.held[sessionID], "", "  ")
	if err != nil {
		log.Warn("marshal vault manifest for session %s: %v", sessionID, err)
		return
	}
	path := v.manifestPath(sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn("write vault manifest for session %s: %v", sessionID, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Warn("rename vault manifest for session %s: %v", sessionID, err)
	}
}

// ensureLoadedLocked lazily populates the in-memory snapshot list for
// sessionID from its manifest file if this Vault instance has never
// seen that session before (a fresh process reusing the same baseDir).
// Caller must hold v.mu.
func (v *Vault) ensureLoadedLocked(sessionID string) {
	if _, ok := v.held[sessionID]; ok {
		return
	}
	data, err := os.ReadFile(v.manifestPath(sessionID))
	if err != nil {
		return
	}
	var snaps []patch.BackupSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		log.Warn("corrupt vault manifest for session %s: %v", sessionID, err)
		return
	}
	v.held[sessionID] = snaps
	v.holders[sessionID] = make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		v.holders[sessionID][snap.File] = true
	}
}

// HasBackup reports whether a snapshot is held for (sessionID, file).
func (v *Vault) HasBackup(sessionID, file string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ensureLoadedLocked(sessionID)
	return v.holders[sessionID] != nil && v.holders[sessionID][file]
}

// Restore copies the held backup's bytes back onto disk and releases
// the slot for (sessionID, file). Restoring a file with no held
// snapshot is a no-op.
func (v *Vault) Restore(sessionID, file string) error {
	v.mu.Lock()
	v.ensureLoadedLocked(sessionID)
	snapshots := v.held[sessionID]
	var target *patch.BackupSnapshot
	idx := -1
	for i, snap := range snapshots {
		if snap.File == file {
			target = &snap
			idx = i
			break
		}
	}
	v.mu.Unlock()

	if target == nil {
		return nil
	}

	data, err := os.ReadFile(target.BackupPath)
	if err != nil {
		return fmt.Errorf("vault: read backup %s: %w", target.BackupPath, err)
	}
	if err := os.WriteFile(target.File, data, 0o644); err != nil {
		return fmt.Errorf("vault: restore %s: %w", target.File, err)
	}

	v.mu.Lock()
	v.held[sessionID] = append(v.held[sessionID][:idx], v.held[sessionID][idx+1:]...)
	delete(v.holders[sessionID], file)
	v.writeManifestLocked(sessionID)
	v.mu.Unlock()

	log.Info("restored %s for session %s", file, sessionID)
	return nil
}

// Abort restores every snapshot held for sessionID, in reverse order of
// acquisition, and releases them all.
func (v *Vault) Abort(sessionID string) error {
	v.mu.Lock()
	v.ensureLoadedLocked(sessionID)
	snapshots := append([]patch.BackupSnapshot(nil), v.held[sessionID]...)
	v.mu.Unlock()

	var firstErr error
	for i := len(snapshots) - 1; i >= 0; i-- {
		if err := v.Restore(sessionID, snapshots[i].File); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Commit releases every snapshot held for sessionID without restoring
// them, marking the session's mutations as final.
func (v *Vault) Commit(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.held, sessionID)
	delete(v.holders, sessionID)
	if err := os.Remove(v.manifestPath(sessionID)); err != nil && !os.IsNotExist(err) {
		log.Warn("remove vault manifest for session %s: %v", sessionID, err)
	}
	log.Debug("committed session %s, released backups", sessionID)
}

// Held returns the snapshots currently held for sessionID, in
// acquisition order.
func (v *Vault) Held(sessionID string) []patch.BackupSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ensureLoadedLocked(sessionID)
	return append([]patch.BackupSnapshot(nil), v.held[sessionID]...)
}

func backupName(file string) string {
	clean := filepath.ToSlash(file)
	safe := make([]byte, 0, len(clean))
	for i := 0; i < len(clean); i++ {
		c := clean[i]
		if c == '/' {
			safe = append(safe, '_')
			continue
		}
		safe = append(safe, c)
	}
	return string(safe) + ".bak"
}
