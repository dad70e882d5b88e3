// Package activitylog writes the per-project activity_log.md the supervisor
// appends condensed per-tick notes to. It also offers Func, a
// func(format string, args ...any) form of Logger.Log; the supervisor holds
// a *Logger directly.
package activitylog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxLines bounds activity_log.md growth, mirroring the event log's
// 500-line retention policy but at a coarser threshold appropriate for
// human-readable prose rather than machine-read JSONL.
const maxLines = 1000

// compactKeep is how many of the most recent lines survive a compaction;
// everything older is folded into one summary line.
const compactKeep = 500

// Logger appends lines to a project's activity_log.md and is safe to pass
// around as a plain function value (Func) to any component that wants to
// log without depending on this package directly.
type Logger struct {
	path string
}

// Func is a plain function-value form of Logger.Log, for a component that
// takes a logger without importing activitylog. No component in this
// module takes one.
type Func func(format string, args ...any)

// New returns a Logger writing to <stateDir>/activity_log.md.
func New(stateDir string) *Logger {
	return &Logger{path: filepath.Join(stateDir, "activity_log.md")}
}

// Log appends a single timestamped line and compacts the file if it has
// grown past maxLines.
func (l *Logger) Log(format string, a ...any) {
	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, a...))

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	_, _ = f.WriteString(line)
	f.Close()

	l.compactIfNeeded()
}

// Func returns l.Log bound as a Func value.
func (l *Logger) Func() Func { return l.Log }

func (l *Logger) compactIfNeeded() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) <= maxLines {
		return
	}

	dropped := lines[:len(lines)-compactKeep]
	kept := lines[len(lines)-compactKeep:]

	summary := fmt.Sprintf("[%s] (compacted %d earlier entries)", time.Now().UTC().Format(time.RFC3339), len(dropped))
	out := append([]string{summary}, kept...)

	_ = os.WriteFile(l.path, []byte(strings.Join(out, "\n")+"\n"), 0o644)
}
