package texec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShellExecutorCapturesStdout(t *testing.T) {
	e := NewShellExecutor("", "echo", "hello")
	result, err := e.Run(context.Background(), Opts{})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Contains(t, result.Stdout, "hello")
}

func TestShellExecutorNonZeroExit(t *testing.T) {
	e := NewShellExecutor("", "sh", "-c", "exit 3")
	result, err := e.Run(context.Background(), Opts{})
	require.NoError(t, err)
	require.Equal(t, 3, result.ExitCode)
}

func TestShellExecutorAppendsTargetFiles(t *testing.T) {
	e := NewShellExecutor("", "echo")
	result, err := e.Run(context.Background(), Opts{TargetFiles: []string{"a.py", "b.py"}})
	require.NoError(t, err)
	require.Contains(t, result.Stdout, "a.py b.py")
}

func TestShellExecutorTimeout(t *testing.T) {
	e := NewShellExecutor("", "sleep", "5")
	_, err := e.Run(context.Background(), Opts{Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShellExecutorNoCommandConfigured(t *testing.T) {
	e := &ShellExecutor{}
	_, err := e.Run(context.Background(), Opts{})
	require.Error(t, err)
}
