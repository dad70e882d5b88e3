// Package outbox implements the centralized message broker: a priority
// pending/sent/expired filesystem queue with TTL expiry, lock-guarded
// single-message-per-tick delivery, and a startup hygiene sweep. Grounded
// on claw_town_dashboard.py's process_outbox/_acquire_outbox_lock/
// _expire_stuck_messages, with the claim-by-rename delivery discipline
// adapted from the teacher's internal/nudge/queue.go.
package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Priority levels, lowest number delivered first.
const (
	PriorityCritical   = 1 // human input, errors
	PriorityHigh       = 2 // orchestrator commands
	PriorityNormal     = 3 // task assignments
	PriorityLow        = 4 // nudges
	PriorityBackground = 5 // status updates
)

// MessageTTL is how long an undelivered message may sit in pending/ before
// the drain tick expires it.
const MessageTTL = 300 * time.Second

// LockStaleAge is how old the broker lock file may get before a drain tick
// treats it as abandoned and removes it.
const LockStaleAge = 10 * time.Second

// DrainInterval is the dashboard's target tick cadence for Process.
const DrainInterval = 500 * time.Millisecond

// Message is the on-disk payload of one outbox entry.
type Message struct {
	Target      string  `json:"target"`
	Content     string  `json:"content"`
	Priority    int     `json:"priority"`
	Source      string  `json:"source"`
	Timestamp   string  `json:"timestamp"`
	QueuedAt    float64 `json:"queued_at"`
	TargetAgent string  `json:"target_agent,omitempty"`
}

// Sender delivers a message to a live pane. Implemented by internal/procadapter.
type Sender interface {
	SendAtomic(target, content string) error
}

// Outbox is a filesystem-backed priority queue rooted at a state directory.
type Outbox struct {
	dir      string
	pending  string
	sent     string
	expired  string
	lockFile string

	sender Sender
	acks   *AckStore

	lastProcess time.Time
}

// New returns an Outbox rooted at <stateDir>/outbox, creating its
// subdirectories. acks may be nil to skip ack tracking.
func New(stateDir string, sender Sender, acks *AckStore) (*Outbox, error) {
	dir := filepath.Join(stateDir, "outbox")
	o := &Outbox{
		dir:      dir,
		pending:  filepath.Join(dir, "pending"),
		sent:     filepath.Join(dir, "sent"),
		expired:  filepath.Join(dir, "expired"),
		lockFile: filepath.Join(dir, ".lock"),
		sender:   sender,
		acks:     acks,
	}
	for _, d := range []string{o.pending, o.sent, o.expired} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating outbox dir %s: %w", d, err)
		}
	}
	return o, nil
}

func epochNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Enqueue writes a new pending message. The filename encodes
// priority_timestamp_source for lexicographic priority-then-FIFO ordering.
func (o *Outbox) Enqueue(target, content string, priority int, source, targetAgent string) error {
	now := time.Now()
	msg := Message{
		Target:      target,
		Content:     content,
		Priority:    priority,
		Source:      source,
		Timestamp:   now.Format(time.RFC3339),
		QueuedAt:    epochNow(),
		TargetAgent: targetAgent,
	}
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	filename := fmt.Sprintf("%d_%s_%s.json", priority, now.Format("20060102_150405.000000"), source)
	path := filepath.Join(o.pending, filename)
	return os.WriteFile(path, data, 0o644)
}

func listPending(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Process runs one drain tick: expires stuck messages, then attempts
// delivery of the single oldest-priority pending message. It self-throttles
// to DrainInterval and is safe to call on every supervisor tick. Returns
// the number of messages delivered (0 or 1).
func (o *Outbox) Process() (int, error) {
	now := time.Now()
	if !o.lastProcess.IsZero() && now.Sub(o.lastProcess) < DrainInterval {
		return 0, nil
	}
	o.lastProcess = now

	pending, err := listPending(o.pending)
	if err != nil {
		return 0, fmt.Errorf("listing pending outbox messages: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	o.expireStuck(pending, now)

	pending, err = listPending(o.pending)
	if err != nil || len(pending) == 0 {
		return 0, nil
	}

	if !o.acquireLock() {
		return 0, nil
	}
	defer o.releaseLock()

	name := pending[0]
	path := filepath.Join(o.pending, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		o.moveTo(path, o.expired, name)
		return 0, nil
	}

	if msg.Target == "" || msg.Content == "" {
		o.moveTo(path, o.expired, name)
		return 0, nil
	}

	if sendErr := o.sender.SendAtomic(msg.Target, SanitizeContent(msg.Content)); sendErr != nil {
		return 0, nil
	}

	if err := os.Rename(path, filepath.Join(o.sent, name)); err != nil {
		return 0, nil
	}

	if o.acks != nil {
		latency := epochNow() - msg.QueuedAt
		_ = o.acks.RecordDelivery(name, msg.Source, msg.Target, msg.Priority, latency, preview(msg.Content))
	}

	return 1, nil
}

func preview(s string) string {
	if len(s) > 100 {
		return s[:100]
	}
	return s
}

// expireStuck moves every pending message older than MessageTTL into
// expired/, recording a delivery failure for each.
func (o *Outbox) expireStuck(pending []string, now time.Time) {
	cutoff := MessageTTL.Seconds()
	nowEpoch := float64(now.UnixNano()) / 1e9
	for _, name := range pending {
		path := filepath.Join(o.pending, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var msg Message
		age := nowEpoch
		if err := json.Unmarshal(data, &msg); err == nil && msg.QueuedAt > 0 {
			age = nowEpoch - msg.QueuedAt
		} else if info, statErr := os.Stat(path); statErr == nil {
			age = nowEpoch - float64(info.ModTime().UnixNano())/1e9
		}
		if age <= cutoff {
			continue
		}
		o.moveTo(path, o.expired, name)
		if o.acks != nil {
			_ = o.acks.RecordFailure(name, msg.Source, msg.Target, fmt.Sprintf("expired_after_%ds", int(age)))
		}
	}
}

func (o *Outbox) moveTo(path, destDir, name string) {
	destPath := filepath.Join(destDir, name)
	if err := os.Rename(path, destPath); err != nil {
		_ = os.Remove(path)
	}
}

// acquireLock implements the dashboard's staleness-checked advisory lock: a
// plain file holding the owning PID, considered abandoned past LockStaleAge.
func (o *Outbox) acquireLock() bool {
	if info, err := os.Stat(o.lockFile); err == nil {
		if time.Since(info.ModTime()) < LockStaleAge {
			return false
		}
		_ = os.Remove(o.lockFile)
	}
	return os.WriteFile(o.lockFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644) == nil
}

func (o *Outbox) releaseLock() {
	_ = os.Remove(o.lockFile)
}

// ClearStaleOnStartup moves every pending message to expired/ and removes a
// leftover lock file, matching _clear_stale_messages_on_startup: messages
// from a previous supervisor run are never relevant to a new one.
func (o *Outbox) ClearStaleOnStartup() (int, error) {
	cleared := 0
	pending, err := listPending(o.pending)
	if err != nil {
		return 0, err
	}
	for _, name := range pending {
		o.moveTo(filepath.Join(o.pending, name), o.expired, name)
		cleared++
	}
	if _, err := os.Stat(o.lockFile); err == nil {
		_ = os.Remove(o.lockFile)
		cleared++
	}
	return cleared, nil
}

// Status reports the current queue depth and oldest pending age, mirroring
// get_outbox_status (without the ack aggregate, which callers fetch from
// AckStore directly).
type Status struct {
	PendingCount int     `json:"pending_count"`
	ExpiredCount int     `json:"expired_count"`
	OldestAge    float64 `json:"oldest_age"`
}

// Status returns the current queue depth/age summary.
func (o *Outbox) Status() (Status, error) {
	pending, err := listPending(o.pending)
	if err != nil {
		return Status{}, err
	}
	expired, err := listPending(o.expired)
	if err != nil {
		return Status{}, err
	}
	s := Status{PendingCount: len(pending), ExpiredCount: len(expired)}
	if len(pending) > 0 {
		oldest := time.Now()
		for _, name := range pending {
			info, err := os.Stat(filepath.Join(o.pending, name))
			if err != nil {
				continue
			}
			if info.ModTime().Before(oldest) {
				oldest = info.ModTime()
			}
		}
		s.OldestAge = time.Since(oldest).Seconds()
	}
	return s, nil
}
