// Package logging provides the default Log collaborator (spec.md §6),
// adapted from the teacher's internal/debug package. Unlike the
// teacher's package-level globals, StderrLog is a plain value injected
// into kvlite.Settings — this is a library, not a CLI process, so
// package-global mutable state would leak across independent callers
// sharing the same process.
package logging

import (
	"fmt"
	"os"
	"sync"
)

// Log is the collaborator interface named in spec.md §6.
type Log interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// StderrLog writes formatted lines to stderr. Debugf is gated by Verbose
// or the KVLITE_DEBUG environment variable; Warnf/Errorf always print.
type StderrLog struct {
	// Verbose enables Debugf output even when KVLITE_DEBUG is unset.
	Verbose bool

	mu sync.Mutex
}

var envDebugEnabled = os.Getenv("KVLITE_DEBUG") != ""

// Debugf prints a debug-level line when Verbose is set or KVLITE_DEBUG
// is non-empty.
func (l *StderrLog) Debugf(format string, args ...any) {
	if !l.Verbose && !envDebugEnabled {
		return
	}
	l.printf("DEBUG", format, args...)
}

// Warnf prints a warning-level line.
func (l *StderrLog) Warnf(format string, args ...any) {
	l.printf("WARN", format, args...)
}

// Errorf prints an error-level line.
func (l *StderrLog) Errorf(format string, args ...any) {
	l.printf("ERROR", format, args...)
}

func (l *StderrLog) printf(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(os.Stderr, "kvlite %s: "+format+"\n", append([]any{level}, args...)...)
}

// NopLog discards everything; used as the Settings default value so a
// caller that never sets Log doesn't have to nil-check before calling.
type NopLog struct{}

func (NopLog) Debugf(string, ...any) {}
func (NopLog) Warnf(string, ...any)  {}
func (NopLog) Errorf(string, ...any) {}
