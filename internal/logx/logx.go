// Package logx provides the structured logging used across every SHDE component.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level identifies the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	debugMu      sync.RWMutex
	debugEnabled bool
)

func init() { //nolint:gochecknoinits // env-driven default, mirrors reference module's logx init
	if v := os.Getenv("SHDE_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugMu.Lock()
		debugEnabled = true
		debugMu.Unlock()
	}
}

// SetDebug toggles debug-level logging for the whole process.
func SetDebug(enabled bool) {
	debugMu.Lock()
	debugEnabled = enabled
	debugMu.Unlock()
}

// IsDebugEnabled reports whether debug logging is currently active.
func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugEnabled
}

// Logger emits component-scoped log lines to stderr.
type Logger struct {
	component string
	out       *log.Logger
}

// NewLogger returns a Logger scoped to the given component name
// (e.g. "controller", "oracle", "tracker").
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		out:       log.New(os.Stderr, "", 0),
	}
}

func (l *Logger) line(level Level, msg string) string {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	return fmt.Sprintf("[%s] [%s] %s: %s", ts, l.component, level, msg)
}

// Debug logs a message only when debug logging is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.out.Println(l.line(LevelDebug, fmt.Sprintf(format, args...)))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.out.Println(l.line(LevelInfo, fmt.Sprintf(format, args...)))
}

// Warn logs a recovered-error or otherwise noteworthy condition.
func (l *Logger) Warn(format string, args ...any) {
	l.out.Println(l.line(LevelWarn, fmt.Sprintf(format, args...)))
}

// Error logs a fatal or invariant-violation condition.
func (l *Logger) Error(format string, args ...any) {
	l.out.Println(l.line(LevelError, fmt.Sprintf(format, args...)))
}

// WithComponent returns a copy of the logger scoped to a different component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, out: l.out}
}

var defaultLogger = NewLogger("shde")

// Errorf formats, logs at Error level, and returns the resulting error.
//
//	return logx.Errorf("apply patch %s: %w", sig, err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs "msg: err" at Warn level and returns fmt.Errorf("%s: %w", msg, err).
// Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Warn("%s", wrapped.Error())
	return wrapped
}
