package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"shde/internal/patch"
)

// Sink delivers a completed SessionReport to an external destination.
// Absence of a configured sink must never fail a session, so every Sink
// implementation's Send is expected to be best-effort from the caller's
// point of view; NullSink formalizes that as a no-op.
type Sink interface {
	Send(ctx context.Context, sr *patch.SessionReport) error
}

// NullSink discards every report. It is the default when no --sink-file
// flag is given.
type NullSink struct{}

// Send does nothing and never fails.
func (NullSink) Send(_ context.Context, _ *patch.SessionReport) error { return nil }

// FileSink writes a standalone copy of each session report as its own
// JSON file under a directory, so the report can be picked up by an
// external process without parsing the full debugging_report.json history.
type FileSink struct {
	Dir string
}

// NewFileSink returns a FileSink writing into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// Send writes sr to <Dir>/session_<id>.json.
func (f *FileSink) Send(_ context.Context, sr *patch.SessionReport) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("report: create sink dir: %w", err)
	}
	data, err := json.MarshalIndent(sr, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal session report: %w", err)
	}
	path := f.Dir + "/session_" + sr.SessionID + ".json"
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("report: write sink file: %w", err)
	}
	return os.Rename(tmp, path)
}
