// Package eventlog implements the append-only events.jsonl log every other
// Claw Town component journals state transitions to. Ported line-for-line
// in behavior from claw_town_events.py: exclusive-lock appends, shared-lock
// reads, auto-truncation at 500 lines.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clawtown/clawtown/internal/lock"
)

// Event type constants — the closed set named in the spec.
const (
	TypeNudgeOrch    = "nudge_orch"
	TypeNudgeAgent   = "nudge_agent"
	TypeAgentStall   = "agent_stall"
	TypeLearn        = "learn"
	TypeTaskSync     = "task_sync"
	TypeTaskComplete = "task_complete"
	TypeRestartOrch  = "restart_orch"
	TypeRestartAgent = "restart_agent"
)

// AllTypes lists every known event type. No events subcommand checks its
// --type flag against this list.
var AllTypes = []string{
	TypeNudgeOrch, TypeNudgeAgent, TypeAgentStall, TypeLearn,
	TypeTaskSync, TypeTaskComplete, TypeRestartOrch, TypeRestartAgent,
}

// maxEvents is the retention cap enforced after every append.
const maxEvents = 500

// Event is a single journaled record.
type Event struct {
	Timestamp string `json:"ts"`
	Type      string `json:"type"`
	Summary   string `json:"summary"`
	Details   string `json:"details,omitempty"`
}

// Log appends to and reads from a single project's events.jsonl.
type Log struct {
	path string
}

// New returns a Log rooted at <stateDir>/events.jsonl.
func New(stateDir string) *Log {
	return &Log{path: filepath.Join(stateDir, "events.jsonl")}
}

// Append records an event. Errors are non-fatal by policy (the spec treats
// the event log as best-effort observability, never blocking the caller's
// real work) — Append returns the error so callers may log it, but nothing
// in the system should treat a failed append as fatal except where the
// event log itself is the source of truth, which it never is here.
func (l *Log) Append(eventType, summary, details string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating event log dir: %w", err)
	}

	ev := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Summary:   summary,
		Details:   details,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	release, err := lock.Acquire(l.path + ".lock")
	if err != nil {
		return fmt.Errorf("locking event log: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		release()
		return fmt.Errorf("opening event log: %w", err)
	}
	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	release()
	if werr != nil {
		return fmt.Errorf("writing event log: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("closing event log: %w", cerr)
	}

	// Truncation re-acquires the lock itself; it must run after the append's
	// own lock is released or the two would deadlock against each other.
	l.truncateIfNeeded()
	return nil
}

// Read returns events matching the optional since/eventType filters, most
// recent limit entries, in chronological order — mirroring read_events.
func (l *Log) Read(since, eventType string, limit int) []Event {
	lines, err := l.readLocked()
	if err != nil {
		return nil
	}

	var events []Event
	for _, raw := range lines {
		if raw == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		if eventType != "" && ev.Type != eventType {
			continue
		}
		if since != "" && ev.Timestamp < since {
			continue
		}
		events = append(events, ev)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// LastOfType scans from the tail for the most recent event of eventType.
func (l *Log) LastOfType(eventType string) (Event, bool) {
	lines, err := l.readLocked()
	if err != nil {
		return Event{}, false
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(lines[i]), &ev); err != nil {
			continue
		}
		if ev.Type == eventType {
			return ev, true
		}
	}
	return Event{}, false
}

func (l *Log) readLocked() ([]string, error) {
	if _, err := os.Stat(l.path); err != nil {
		return nil, nil
	}

	release, err := lock.AcquireShared(l.path + ".lock")
	if err != nil {
		return nil, err
	}
	defer release()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// truncateIfNeeded keeps only the most recent maxEvents lines, matching
// _truncate_if_needed. Runs under the same exclusive lock discipline.
func (l *Log) truncateIfNeeded() {
	release, err := lock.Acquire(l.path + ".lock")
	if err != nil {
		return
	}
	defer release()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	lines := splitLines(data)
	if len(lines) <= maxEvents {
		return
	}
	kept := lines[len(lines)-maxEvents:]

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".tmp-events-*")
	if err != nil {
		return
	}
	defer os.Remove(tmp.Name())

	for _, line := range kept {
		if _, err := tmp.WriteString(line + "\n"); err != nil {
			tmp.Close()
			return
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return
	}
	if err := tmp.Close(); err != nil {
		return
	}
	_ = os.Rename(tmp.Name(), l.path)
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}
