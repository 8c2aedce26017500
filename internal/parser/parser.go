// Package parser turns a test executor's combined stdout/stderr into a
// deterministic, ordered sequence of Failure records.
//
// Grounded on the reference module's table-driven regex parsing idiom
// (pkg/coder/code_parsing_test.go): a primary anchored pattern extracts
// the common case; a secondary line-scan fallback catches anything the
// primary pattern misses.
package parser

import (
	"regexp"
	"sort"
	"strings"

	"shde/internal/patch"
)

// primaryPattern matches "file::test - ErrorType: message" style lines,
// the canonical shape produced by most test runners' summary output.
var primaryPattern = regexp.MustCompile(`(?m)^(\S+\.py)::(\S+)\s*[-–]\s*(\w+(?:Error|Exception)):\s*(.*)$`)

// failedLinePattern matches a bare "FAILED file::test - message" line,
// the secondary fallback shape.
var failedLinePattern = regexp.MustCompile(`(?m)^FAILED\s+(\S+)::(\S+)\s*-\s*(.*)$`)

// Parse extracts an ordered, deduplicated sequence of Failure records
// from raw executor output. Empty or non-matching input yields an empty
// slice without error. Parsing the same input twice yields identical
// results (stable across re-parses).
func Parse(output string) []patch.Failure {
	if strings.TrimSpace(output) == "" {
		return nil
	}

	var failures []patch.Failure
	seen := make(map[string]bool)
	order := 0

	for _, m := range primaryPattern.FindAllStringSubmatch(output, -1) {
		file, test, errType, msg := m[1], m[2], m[3], strings.TrimSpace(m[4])
		key := file + "|" + test + "|" + msg
		if seen[key] {
			continue
		}
		seen[key] = true
		failures = append(failures, patch.Failure{
			TestName:   test,
			File:       file,
			ErrorType:  errType,
			Message:    msg,
			RawBlock:   m[0],
			OrderInRun: order,
		})
		order++
	}

	for _, m := range failedLinePattern.FindAllStringSubmatch(output, -1) {
		file, test, rest := m[1], m[2], strings.TrimSpace(m[3])
		errType, msg := splitErrorTypeAndMessage(rest)
		key := file + "|" + test + "|" + msg
		if seen[key] {
			continue
		}
		seen[key] = true
		failures = append(failures, patch.Failure{
			TestName:   test,
			File:       file,
			ErrorType:  errType,
			Message:    msg,
			RawBlock:   m[0],
			OrderInRun: order,
		})
		order++
	}

	// The two passes above collect primary matches before fallback
	// matches; order the combined result by where each raw line first
	// appears in the output.
	sort.SliceStable(failures, func(i, j int) bool {
		return strings.Index(output, failures[i].RawBlock) < strings.Index(output, failures[j].RawBlock)
	})
	for i := range failures {
		failures[i].OrderInRun = i
	}

	return failures
}

// splitErrorTypeAndMessage separates "ErrorType: message" from a bare
// message string. If no colon-delimited error type prefix is present,
// ErrorType is left empty.
func splitErrorTypeAndMessage(s string) (errType, msg string) {
	if idx := strings.Index(s, ":"); idx > 0 {
		candidate := s[:idx]
		if looksLikeErrorType(candidate) {
			return candidate, strings.TrimSpace(s[idx+1:])
		}
	}
	return "", s
}

func looksLikeErrorType(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return strings.HasSuffix(s, "Error") || strings.HasSuffix(s, "Exception")
}
