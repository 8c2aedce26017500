// Package patch defines the core domain entities shared across the
// debugging pipeline (failures, signatures, patches, confidence and
// rollback bookkeeping) and the pattern-based fixers that turn a
// recognized failure directly into a patch without consulting an oracle.
package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Failure is one parsed test failure, extracted from a test runner's output.
type Failure struct {
	TestName    string    `json:"test_name"`
	File        string    `json:"file"`
	Line        int       `json:"line"`
	ErrorType   string    `json:"error_type"`
	Message     string    `json:"message"`
	Traceback   string    `json:"traceback"`
	RawBlock    string    `json:"raw_block"`
	OrderInRun  int       `json:"order_in_run"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Signature computes the deterministic error signature used to key the
// learned-fix store: a blake2b-256 hash of the fields that identify a
// recurring failure shape, independent of the digits in the message
// (line numbers, counts, numeric addresses).
//
// Two failures with the same ErrorType, normalized message, and file
// produce the same signature, letting the learned store recognize a
// previously-fixed failure even if the traceback shifted a few lines.
func (f Failure) Signature() ErrorSignature {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key length; nil key never fails.
		panic(fmt.Sprintf("blake2b.New256: %v", err))
	}
	fmt.Fprintf(h, "%s|%s|%s", f.ErrorType, normalizeMessage(f.Message), f.File)
	sum := h.Sum(nil)
	return ErrorSignature(hex.EncodeToString(sum))
}

// normalizeMessage collapses every run of decimal digits to a single '#'
// so failures differing only in numbers share a signature. Other text,
// including paths and the letters of hex addresses, is kept as is.
func normalizeMessage(msg string) string {
	var b strings.Builder
	prevDigit := false
	for _, r := range msg {
		isDigit := r >= '0' && r <= '9'
		if isDigit {
			if !prevDigit {
				b.WriteByte('#')
			}
			prevDigit = true
			continue
		}
		prevDigit = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// ErrorSignature is a stable identifier for a class of recurring failure.
type ErrorSignature string

// ShortHash returns the first 12 hex characters, suitable for filenames
// and log lines.
func (s ErrorSignature) ShortHash() string {
	if len(s) <= 12 {
		return string(s)
	}
	return string(s[:12])
}

// Provenance records where a patch's content came from.
type Provenance string

const (
	ProvenanceLearned Provenance = "LEARNED"
	ProvenancePattern Provenance = "PATTERN"
	ProvenanceOracle  Provenance = "ORACLE"
)

// Patch is a candidate fix for one failure: a set of file edits plus
// the metadata needed to score, apply, and (if necessary) roll it back.
type Patch struct {
	ID          string     `json:"id"`
	Signature   ErrorSignature `json:"signature"`
	Provenance  Provenance `json:"provenance"`
	TargetFile  string     `json:"target_file"`
	Diff        string     `json:"diff"`
	Rationale   string     `json:"rationale"`
	Confidence  float64    `json:"confidence"`
	CreatedAt   time.Time  `json:"created_at"`
	AttemptNum  int        `json:"attempt_num"`
}

// ContentHash returns a short content-addressable identifier for the
// patch's diff, used to detect the oracle repeating an identical patch
// across escalation rounds.
func (p Patch) ContentHash() string {
	sum := sha256.Sum256([]byte(p.Diff))
	return hex.EncodeToString(sum[:])[:16]
}

// ConfidenceRecord captures a scored confidence assignment for a patch,
// including the reasons that fed into the score.
type ConfidenceRecord struct {
	PatchID    string    `json:"patch_id"`
	Signature  ErrorSignature `json:"signature"`
	Score      float64   `json:"score"`
	Reasons    []string  `json:"reasons"`
	ScoredAt   time.Time `json:"scored_at"`
}

// Outcome is the terminal result of applying and revalidating a patch.
type Outcome string

const (
	OutcomeApplied            Outcome = "APPLIED"
	OutcomeAppliedAndFailed   Outcome = "APPLIED_AND_FAILED"
	OutcomeRejectedLowConf    Outcome = "REJECTED_LOW_CONFIDENCE"
	OutcomeManualReview       Outcome = "MANUAL_REVIEW"
)

// AttemptOutcome records the full lifecycle of one applied-or-rejected patch.
type AttemptOutcome struct {
	SessionID  string    `json:"session_id"`
	PatchID    string    `json:"patch_id"`
	Signature  ErrorSignature `json:"signature"`
	Provenance Provenance `json:"provenance"`
	Outcome    Outcome   `json:"outcome"`
	Score      float64   `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// BackupSnapshot records a single file's pre-patch content, keyed by
// session so a session can be rolled back atomically.
type BackupSnapshot struct {
	SessionID  string    `json:"session_id"`
	File       string    `json:"file"`
	BackupPath string    `json:"backup_path"`
	TakenAt    time.Time `json:"taken_at"`
}

// LearnedFix is a persisted, previously-successful patch keyed by the
// signature of the failure it resolved.
type LearnedFix struct {
	Signature    ErrorSignature `json:"signature"`
	Diff         string    `json:"diff"`
	Provenance   Provenance `json:"provenance"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUsedAt   time.Time `json:"last_used_at"`
	LearnedAt    time.Time `json:"learned_at"`
}

// SuccessRate returns the fix's empirical success rate, or 0 if never used.
func (l LearnedFix) SuccessRate() float64 {
	total := l.SuccessCount + l.FailureCount
	if total == 0 {
		return 0
	}
	return float64(l.SuccessCount) / float64(total)
}

// SessionReport summarizes one full debug-loop session for the ledger.
type SessionReport struct {
	SessionID       string           `json:"session_id"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	FinalState      string           `json:"final_state"`
	FailuresSeen    int              `json:"failures_seen"`
	FailuresFixed   int              `json:"failures_fixed"`
	Attempts        []AttemptOutcome `json:"attempts"`
}
