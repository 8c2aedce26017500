package report

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"shde/internal/tracker"
)

// Cache is a queryable in-memory index the Reporter rebuilds from the
// tracker's JSON ledgers on load, grounded on the reference module's
// pkg/persistence singleton-database idiom (sql.Open("sqlite", ...),
// SetMaxOpenConns(1)). The JSON ledgers remain the durable source of
// truth; this database is never written back to disk and is rebuilt
// wholesale on every Rebuild call rather than incrementally maintained.
type Cache struct {
	db *sql.DB
}

// OpenCache opens a fresh in-memory sqlite database and creates its schema.
func OpenCache() (*Cache, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("report: open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE attempts (
			signature TEXT NOT NULL,
			provenance TEXT NOT NULL,
			outcome TEXT NOT NULL,
			score REAL NOT NULL,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE TABLE import_fixes (
			module TEXT PRIMARY KEY,
			fixed INTEGER NOT NULL,
			failed INTEGER NOT NULL
		)`,
		`CREATE TABLE oracle_feedback (
			signature TEXT NOT NULL,
			provider TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			attempted_at TEXT NOT NULL
		)`,
		`CREATE TABLE performance (
			day TEXT PRIMARY KEY,
			total_fixes INTEGER NOT NULL,
			success_rate REAL NOT NULL,
			summary TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("report: create schema: %w", err)
		}
	}
	return nil
}

// Rebuild clears every table and reloads it from a fresh tracker
// snapshot, so the cache always reflects the ledgers exactly.
func (c *Cache) Rebuild(t *tracker.Tracker) error {
	failed, succeeded, imports, oracle, perf := t.Snapshot()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("report: begin rebuild: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	for _, table := range []string{"attempts", "import_fixes", "oracle_feedback", "performance"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("report: clear %s: %w", table, err)
		}
	}

	for sig, outcomes := range failed {
		for _, o := range outcomes {
			if _, err := tx.Exec(
				`INSERT INTO attempts (signature, provenance, outcome, score, recorded_at) VALUES (?, ?, ?, ?, ?)`,
				string(sig), string(o.Provenance), string(o.Outcome), o.Score, o.RecordedAt.Format("2006-01-02T15:04:05Z07:00"),
			); err != nil {
				return fmt.Errorf("report: insert failed attempt: %w", err)
			}
		}
	}
	for sig, outcomes := range succeeded {
		for _, o := range outcomes {
			if _, err := tx.Exec(
				`INSERT INTO attempts (signature, provenance, outcome, score, recorded_at) VALUES (?, ?, ?, ?, ?)`,
				string(sig), string(o.Provenance), string(o.Outcome), o.Score, o.RecordedAt.Format("2006-01-02T15:04:05Z07:00"),
			); err != nil {
				return fmt.Errorf("report: insert succeeded attempt: %w", err)
			}
		}
	}
	for module, entry := range imports {
		if _, err := tx.Exec(
			`INSERT INTO import_fixes (module, fixed, failed) VALUES (?, ?, ?)`,
			module, entry.Fixed, entry.Failed,
		); err != nil {
			return fmt.Errorf("report: insert import fix: %w", err)
		}
	}
	for _, fb := range oracle {
		succ := 0
		if fb.Succeeded {
			succ = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO oracle_feedback (signature, provider, succeeded, attempted_at) VALUES (?, ?, ?, ?)`,
			string(fb.Signature), fb.Provider, succ, fb.AttemptedAt.Format("2006-01-02T15:04:05Z07:00"),
		); err != nil {
			return fmt.Errorf("report: insert oracle feedback: %w", err)
		}
	}
	for day, entry := range perf {
		if _, err := tx.Exec(
			`INSERT INTO performance (day, total_fixes, success_rate, summary) VALUES (?, ?, ?, ?)`,
			day, entry.TotalFixes, entry.SuccessRate, entry.FeedbackSummary,
		); err != nil {
			return fmt.Errorf("report: insert performance: %w", err)
		}
	}

	return tx.Commit()
}

// LogEntry is one row of the "logs" command's output.
type LogEntry struct {
	Signature  string
	Provenance string
	Outcome    string
	Score      float64
	RecordedAt string
}

// RecentAttempts returns the most recent attempts across every
// signature, newest first, bounded by limit.
func (c *Cache) RecentAttempts(ctx context.Context, limit int) ([]LogEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT signature, provenance, outcome, score, recorded_at FROM attempts
		 ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("report: query recent attempts: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Signature, &e.Provenance, &e.Outcome, &e.Score, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("report: scan attempt row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PerformanceSummary is the aggregate view the "performance" command reports.
type PerformanceSummary struct {
	TotalAttempts int
	TotalSucceeded int
	OverallRate   float64
	Days          []PerformanceDay
}

// PerformanceDay is one day's roll-up.
type PerformanceDay struct {
	Day         string
	TotalFixes  int
	SuccessRate float64
	Summary     string
}

// Performance aggregates the attempts table and returns the per-day
// roll-ups already computed by the tracker.
func (c *Cache) Performance(ctx context.Context) (PerformanceSummary, error) {
	var summary PerformanceSummary

	row := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome = 'APPLIED' THEN 1 ELSE 0 END), 0) FROM attempts`)
	if err := row.Scan(&summary.TotalAttempts, &summary.TotalSucceeded); err != nil {
		return summary, fmt.Errorf("report: scan performance totals: %w", err)
	}
	if summary.TotalAttempts > 0 {
		summary.OverallRate = float64(summary.TotalSucceeded) / float64(summary.TotalAttempts)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT day, total_fixes, success_rate, summary FROM performance ORDER BY day DESC`)
	if err != nil {
		return summary, fmt.Errorf("report: query performance days: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d PerformanceDay
		if err := rows.Scan(&d.Day, &d.TotalFixes, &d.SuccessRate, &d.Summary); err != nil {
			return summary, fmt.Errorf("report: scan performance day: %w", err)
		}
		summary.Days = append(summary.Days, d)
	}
	return summary, rows.Err()
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
