// Package tracker maintains the five append-only patch ledgers and the
// asynchronous single-writer discipline that keeps their JSON documents
// crash-safe, grounded on the reference module's pkg/persistence
// fire-and-forget channel pattern.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shde/internal/logx"
	"shde/internal/metrics"
	"shde/internal/patch"
)

var log = logx.NewLogger("tracker")

const opQueueDepth = 256

// PerformanceEntry is one day's roll-up in performance.json.
type PerformanceEntry struct {
	TotalFixes      int     `json:"total_fixes"`
	SuccessRate     float64 `json:"success_rate"`
	FeedbackSummary string  `json:"feedback_summary"`
}

// ImportFixEntry tracks how often a module import fix has worked.
type ImportFixEntry struct {
	Fixed  int `json:"fixed"`
	Failed int `json:"failed"`
}

// OracleFeedback is one recorded oracle invocation.
type OracleFeedback struct {
	Signature   patch.ErrorSignature `json:"signature"`
	Provider    string               `json:"provider"`
	Succeeded   bool                 `json:"succeeded"`
	Rationale   string               `json:"rationale"`
	AttemptedAt time.Time            `json:"attempted_at"`
}

type ledgers struct {
	FailedPatches     map[patch.ErrorSignature][]patch.AttemptOutcome `json:"failed_patches"`
	SuccessfulPatches map[patch.ErrorSignature][]patch.AttemptOutcome `json:"successful_patches"`
	ImportFixes       map[string]ImportFixEntry                       `json:"import_fixes"`
	OracleFeedback    []OracleFeedback                                `json:"oracle_feedback"`
	Performance       map[string]PerformanceEntry                     `json:"performance"`
}

func emptyLedgers() ledgers {
	return ledgers{
		FailedPatches:     make(map[patch.ErrorSignature][]patch.AttemptOutcome),
		SuccessfulPatches: make(map[patch.ErrorSignature][]patch.AttemptOutcome),
		ImportFixes:       make(map[string]ImportFixEntry),
		OracleFeedback:    nil,
		Performance:       make(map[string]PerformanceEntry),
	}
}

type opKind int

const (
	opFailed opKind = iota
	opSucceeded
	opImportFix
	opOracle
	opPerformance
)

type trackerOp struct {
	kind    opKind
	outcome patch.AttemptOutcome
	module  string
	fixed   bool
	oracle  OracleFeedback
	done    chan error
}

// Tracker owns the five ledger files rooted at a patch-data directory
// and serializes every mutation through a single background writer.
type Tracker struct {
	dir string

	mu sync.Mutex
	l  ledgers

	ops  chan trackerOp
	stop chan struct{}
	wg   sync.WaitGroup
}

// Open loads (or lazily creates) the ledger files at dir and starts the
// background writer goroutine.
func Open(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	t := &Tracker{
		dir:  dir,
		l:    emptyLedgers(),
		ops:  make(chan trackerOp, opQueueDepth),
		stop: make(chan struct{}),
	}
	t.load()

	t.wg.Add(1)
	go t.run()
	return t, nil
}

func (t *Tracker) load() {
	loadJSON(filepath.Join(t.dir, "failed_patches.json"), &t.l.FailedPatches, func() { t.l.FailedPatches = make(map[patch.ErrorSignature][]patch.AttemptOutcome) })
	loadJSON(filepath.Join(t.dir, "successful_patches.json"), &t.l.SuccessfulPatches, func() { t.l.SuccessfulPatches = make(map[patch.ErrorSignature][]patch.AttemptOutcome) })
	loadJSON(filepath.Join(t.dir, "import_fixes.json"), &t.l.ImportFixes, func() { t.l.ImportFixes = make(map[string]ImportFixEntry) })
	loadJSON(filepath.Join(t.dir, "oracle_feedback.json"), &t.l.OracleFeedback, func() { t.l.OracleFeedback = nil })
	loadJSON(filepath.Join(t.dir, "performance.json"), &t.l.Performance, func() { t.l.Performance = make(map[string]PerformanceEntry) })
}

func loadJSON(path string, dest any, reset func()) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, dest); err != nil {
		quarantine(path)
		log.Warn("quarantined corrupt ledger %s: %v", path, err)
		reset()
	}
}

func quarantine(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	dest := path + "." + time.Now().UTC().Format("20060102T150405") + ".corrupt"
	_ = os.Rename(path, dest)
}

// run is the single background writer; it applies ops sequentially,
// persisting only the ledger touched by each op.
func (t *Tracker) run() {
	defer t.wg.Done()
	for {
		select {
		case op := <-t.ops:
			op.done <- t.apply(op)
		case <-t.stop:
			// drain remaining queued ops before exiting
			for {
				select {
				case op := <-t.ops:
					op.done <- t.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) apply(op trackerOp) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch op.kind {
	case opFailed:
		sig := op.outcome.Signature
		t.l.FailedPatches[sig] = append(t.l.FailedPatches[sig], op.outcome)
		metrics.PatchAttemptsTotal.WithLabelValues(string(op.outcome.Provenance), string(op.outcome.Outcome)).Inc()
		return t.persist(filepath.Join(t.dir, "failed_patches.json"), t.l.FailedPatches)
	case opSucceeded:
		sig := op.outcome.Signature
		t.l.SuccessfulPatches[sig] = append(t.l.SuccessfulPatches[sig], op.outcome)
		metrics.PatchAttemptsTotal.WithLabelValues(string(op.outcome.Provenance), string(op.outcome.Outcome)).Inc()
		return t.persist(filepath.Join(t.dir, "successful_patches.json"), t.l.SuccessfulPatches)
	case opImportFix:
		entry := t.l.ImportFixes[op.module]
		if op.fixed {
			entry.Fixed++
		} else {
			entry.Failed++
		}
		t.l.ImportFixes[op.module] = entry
		return t.persist(filepath.Join(t.dir, "import_fixes.json"), t.l.ImportFixes)
	case opOracle:
		t.l.OracleFeedback = append(t.l.OracleFeedback, op.oracle)
		return t.persist(filepath.Join(t.dir, "oracle_feedback.json"), t.l.OracleFeedback)
	case opPerformance:
		t.recomputePerformance()
		return t.persist(filepath.Join(t.dir, "performance.json"), t.l.Performance)
	default:
		return fmt.Errorf("tracker: unknown op kind %d", op.kind)
	}
}

func (t *Tracker) recomputePerformance() {
	day := time.Now().UTC().Format("2006-01-02")
	total := 0
	success := 0
	for _, outcomes := range t.l.SuccessfulPatches {
		total += len(outcomes)
		success += len(outcomes)
	}
	for _, outcomes := range t.l.FailedPatches {
		total += len(outcomes)
	}
	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total)
	}
	t.l.Performance[day] = PerformanceEntry{
		TotalFixes:      success,
		SuccessRate:     rate,
		FeedbackSummary: fmt.Sprintf("%d/%d attempts succeeded", success, total),
	}
}

// persist writes a single ledger document atomically. Caller must hold t.mu.
func (t *Tracker) persist(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (t *Tracker) submit(op trackerOp) error {
	op.done = make(chan error, 1)
	select {
	case t.ops <- op:
	case <-t.stop:
		return fmt.Errorf("tracker: closed")
	}
	return <-op.done
}

// RecordFailed appends an outcome to the failed_patches ledger.
func (t *Tracker) RecordFailed(outcome patch.AttemptOutcome) error {
	return t.submit(trackerOp{kind: opFailed, outcome: outcome})
}

// RecordSucceeded appends an outcome to the successful_patches ledger.
func (t *Tracker) RecordSucceeded(outcome patch.AttemptOutcome) error {
	return t.submit(trackerOp{kind: opSucceeded, outcome: outcome})
}

// RecordImportFix updates the fixed/failed counters for a module.
func (t *Tracker) RecordImportFix(module string, fixed bool) error {
	return t.submit(trackerOp{kind: opImportFix, module: module, fixed: fixed})
}

// RecordOracleFeedback appends one oracle invocation record.
func (t *Tracker) RecordOracleFeedback(fb OracleFeedback) error {
	return t.submit(trackerOp{kind: opOracle, oracle: fb})
}

// RollupPerformance recomputes and persists today's performance entry
// from the current in-memory ledger state.
func (t *Tracker) RollupPerformance() error {
	return t.submit(trackerOp{kind: opPerformance})
}

// Snapshot returns a deep-enough copy of the current ledger state for
// read-only consumers such as the Reporter.
func (t *Tracker) Snapshot() (failed, succeeded map[patch.ErrorSignature][]patch.AttemptOutcome, imports map[string]ImportFixEntry, oracle []OracleFeedback, perf map[string]PerformanceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	failed = make(map[patch.ErrorSignature][]patch.AttemptOutcome, len(t.l.FailedPatches))
	for k, v := range t.l.FailedPatches {
		failed[k] = append([]patch.AttemptOutcome(nil), v...)
	}
	succeeded = make(map[patch.ErrorSignature][]patch.AttemptOutcome, len(t.l.SuccessfulPatches))
	for k, v := range t.l.SuccessfulPatches {
		succeeded[k] = append([]patch.AttemptOutcome(nil), v...)
	}
	imports = make(map[string]ImportFixEntry, len(t.l.ImportFixes))
	for k, v := range t.l.ImportFixes {
		imports[k] = v
	}
	oracle = append([]OracleFeedback(nil), t.l.OracleFeedback...)
	perf = make(map[string]PerformanceEntry, len(t.l.Performance))
	for k, v := range t.l.Performance {
		perf[k] = v
	}
	return
}

// Close stops the background writer after draining any queued ops.
func (t *Tracker) Close() {
	close(t.stop)
	t.wg.Wait()
}
