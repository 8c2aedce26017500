// Package report implements the Reporter (C10): it merges the Patch
// Tracker's ledger deltas into a single debugging_report.json document
// and exposes the read views the "logs" and "performance" CLI commands
// need.
package report

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"shde/internal/logx"
	"shde/internal/patch"
)

var log = logx.NewLogger("report")

// document is the on-disk shape of debugging_report.json.
type document struct {
	Sessions []patch.SessionReport `json:"sessions"`
}

// Reporter owns debugging_report.json: a flat, append-only history of
// completed sessions, written with the same atomic temp-then-rename
// discipline as every other ledger in the system.
type Reporter struct {
	path string

	mu  sync.Mutex
	doc document
}

// Open loads (or lazily creates) the report document at path. A
// malformed document resets to empty and logs a warning rather than
// failing, the same corruption policy the tracker and learned-fix store
// apply.
func Open(path string) (*Reporter, error) {
	r := &Reporter{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.doc); err != nil {
		quarantine(path)
		log.Warn("quarantined corrupt report %s: %v", path, err)
		r.doc = document{}
	}
	return r, nil
}

// RecordSession appends a completed session's report and persists the
// document atomically.
func (r *Reporter) RecordSession(sr patch.SessionReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.doc.Sessions = append(r.doc.Sessions, sr)
	return r.persistLocked()
}

// Sessions returns a copy of every recorded session report, oldest first.
func (r *Reporter) Sessions() []patch.SessionReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]patch.SessionReport(nil), r.doc.Sessions...)
}

func (r *Reporter) persistLocked() error {
	data, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func quarantine(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	dest := path + "." + time.Now().UTC().Format("20060102T150405") + ".corrupt"
	_ = os.Rename(path, dest)
}
