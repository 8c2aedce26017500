// Package texec defines the Test Executor contract and a local
// shell-based implementation, grounded on the reference module's
// pkg/exec/local.go: exec.CommandContext, captured stdout/stderr, and
// *exec.ExitError unwrapping for exit codes.
package texec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result is the executor's structured output for one invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout and stderr concatenated, the shape the
// Failure Parser expects.
func (r Result) Combined() string {
	return r.Stdout + "\n" + r.Stderr
}

// Opts configures one Run call.
type Opts struct {
	// Timeout bounds the invocation; zero means no explicit timeout beyond ctx.
	Timeout time.Duration
	// TargetFiles restricts a rerun to specific files, when the
	// underlying test runner supports file-scoped invocation. A nil or
	// empty slice means "run the full suite".
	TargetFiles []string
}

// Executor is the abstract Test Executor contract: it runs the
// project's test suite (optionally scoped to TargetFiles) and returns a
// structured result. The system does not depend on any specific test
// framework beyond this contract.
type Executor interface {
	Run(ctx context.Context, opts Opts) (Result, error)
}

// ShellExecutor runs a fixed argv directly (no shell is involved),
// optionally appending TargetFiles as trailing arguments.
type ShellExecutor struct {
	Command []string
	Dir     string
}

// NewShellExecutor returns a ShellExecutor that runs command (argv[0]
// plus arguments) from dir.
func NewShellExecutor(dir string, command ...string) *ShellExecutor {
	return &ShellExecutor{Command: command, Dir: dir}
}

// Run invokes the configured command, appending opts.TargetFiles as
// trailing arguments when non-empty, bounded by opts.Timeout if set.
func (s *ShellExecutor) Run(ctx context.Context, opts Opts) (Result, error) {
	if len(s.Command) == 0 {
		return Result{}, errors.New("texec: no command configured")
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := append([]string(nil), s.Command[1:]...)
	args = append(args, opts.TargetFiles...)

	cmd := exec.CommandContext(runCtx, s.Command[0], args...)
	cmd.Dir = s.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	// A process killed on deadline also surfaces as an *exec.ExitError,
	// so the deadline is checked first.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		return result, context.DeadlineExceeded
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return result, err
}
