package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeSender records every delivered (target, content) pair and can be
// told to fail the next N deliveries.
type fakeSender struct {
	delivered [][2]string
	failNext  int
}

func (f *fakeSender) SendAtomic(target, content string) error {
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("simulated delivery failure")
	}
	f.delivered = append(f.delivered, [2]string{target, content})
	return nil
}

func newTestOutbox(t *testing.T, sender Sender) *Outbox {
	t.Helper()
	ob, err := New(t.TempDir(), sender, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ob
}

// drain forces Process past its self-throttle and runs it once.
func drain(ob *Outbox) (int, error) {
	ob.lastProcess = time.Time{}
	return ob.Process()
}

func TestEnqueueDeliversInPriorityThenFIFOOrder(t *testing.T) {
	sender := &fakeSender{}
	ob := newTestOutbox(t, sender)

	// Boundary scenario 6: enqueue A (priority 2), B (priority 4), C
	// (priority 1), expect delivery order C, A, B.
	if err := ob.Enqueue("winA", "msgA", 2, "nudge", ""); err != nil {
		t.Fatalf("enqueue A: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := ob.Enqueue("winB", "msgB", 4, "nudge-agent", ""); err != nil {
		t.Fatalf("enqueue B: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := ob.Enqueue("winC", "msgC", 1, "human", ""); err != nil {
		t.Fatalf("enqueue C: %v", err)
	}

	for i := 0; i < 3; i++ {
		n, err := drain(ob)
		if err != nil {
			t.Fatalf("drain tick %d: %v", i, err)
		}
		if n != 1 {
			t.Fatalf("drain tick %d: delivered %d messages, want 1", i, n)
		}
	}

	if len(sender.delivered) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(sender.delivered))
	}
	want := []string{"winC", "winA", "winB"}
	for i, target := range want {
		if sender.delivered[i][0] != target {
			t.Errorf("delivery %d: target = %q, want %q", i, sender.delivered[i][0], target)
		}
	}

	sentFiles, err := os.ReadDir(ob.sent)
	if err != nil {
		t.Fatalf("reading sent dir: %v", err)
	}
	if len(sentFiles) != 3 {
		t.Fatalf("sent/ has %d files, want 3", len(sentFiles))
	}
}

func TestTTLExpiration(t *testing.T) {
	sender := &fakeSender{}
	acks := &AckStore{path: filepath.Join(t.TempDir(), "acks.json"), maxItems: 200}
	ob := newTestOutbox(t, sender)
	ob.acks = acks

	if err := ob.Enqueue("win", "stale message", 3, "nudge", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Backdate queued_at to simulate a message that has sat past the TTL.
	entries, err := os.ReadDir(ob.pending)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one pending message, got %v (err=%v)", entries, err)
	}
	path := filepath.Join(ob.pending, entries[0].Name())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading pending message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg.QueuedAt = epochNow() - 301
	rewritten, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, rewritten, 0o644); err != nil {
		t.Fatalf("rewriting pending message: %v", err)
	}

	if _, err := drain(ob); err != nil {
		t.Fatalf("drain: %v", err)
	}

	pending, _ := listPending(ob.pending)
	if len(pending) != 0 {
		t.Fatalf("pending/ not empty after TTL sweep: %v", pending)
	}
	expired, _ := listPending(ob.expired)
	if len(expired) != 1 {
		t.Fatalf("expired/ has %d entries, want 1", len(expired))
	}
	if len(sender.delivered) != 0 {
		t.Fatalf("expired message was delivered: %v", sender.delivered)
	}

	stats := acks.Stats(10)
	if stats.TotalFailed != 1 {
		t.Fatalf("ack failures = %d, want 1", stats.TotalFailed)
	}
	if stats.Recent[0].Reason != "expired_after_301s" {
		t.Errorf("failure reason = %q, want expired_after_301s", stats.Recent[0].Reason)
	}
}

func TestAckBalanceEveryMessageResolvesExactlyOnce(t *testing.T) {
	sender := &fakeSender{}
	acks := &AckStore{path: filepath.Join(t.TempDir(), "acks.json"), maxItems: 200}
	ob := newTestOutbox(t, sender)
	ob.acks = acks

	if err := ob.Enqueue("win", "deliver me", 3, "nudge", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n, err := drain(ob); err != nil || n != 1 {
		t.Fatalf("drain: n=%d err=%v", n, err)
	}

	pending, _ := listPending(ob.pending)
	sent, _ := listPending(ob.sent)
	if len(pending) != 0 || len(sent) != 1 {
		t.Fatalf("pending=%v sent=%v, want pending empty and one sent", pending, sent)
	}

	stats := acks.Stats(10)
	if stats.TotalDelivered != 1 || stats.TotalFailed != 0 {
		t.Fatalf("stats = %+v, want exactly one delivery ack", stats)
	}
}

func TestCorruptedMessageMovesToExpired(t *testing.T) {
	sender := &fakeSender{}
	ob := newTestOutbox(t, sender)

	path := filepath.Join(ob.pending, "3_20260101_000000.000000_bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing corrupted message: %v", err)
	}

	if _, err := drain(ob); err != nil {
		t.Fatalf("drain: %v", err)
	}

	pending, _ := listPending(ob.pending)
	if len(pending) != 0 {
		t.Fatalf("corrupted message still pending: %v", pending)
	}
	expired, _ := listPending(ob.expired)
	if len(expired) != 1 {
		t.Fatalf("expired/ has %d entries, want 1", len(expired))
	}
}

func TestDeliveryFailureLeavesMessagePendingForRetry(t *testing.T) {
	sender := &fakeSender{failNext: 1}
	ob := newTestOutbox(t, sender)

	if err := ob.Enqueue("win", "retry me", 3, "nudge", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if n, err := drain(ob); err != nil || n != 0 {
		t.Fatalf("first drain: n=%d err=%v, want 0 (failed send)", n, err)
	}
	pending, _ := listPending(ob.pending)
	if len(pending) != 1 {
		t.Fatalf("message dropped from pending after failed send: %v", pending)
	}

	if n, err := drain(ob); err != nil || n != 1 {
		t.Fatalf("second drain: n=%d err=%v, want 1 (retry succeeds)", n, err)
	}
	sent, _ := listPending(ob.sent)
	if len(sent) != 1 {
		t.Fatalf("sent/ has %d entries after successful retry, want 1", len(sent))
	}
}

func TestLockStalenessOverride(t *testing.T) {
	sender := &fakeSender{}
	ob := newTestOutbox(t, sender)

	if err := os.WriteFile(ob.lockFile, []byte("99999"), 0o644); err != nil {
		t.Fatalf("seeding lock file: %v", err)
	}
	old := time.Now().Add(-11 * time.Second)
	if err := os.Chtimes(ob.lockFile, old, old); err != nil {
		t.Fatalf("backdating lock mtime: %v", err)
	}

	if err := ob.Enqueue("win", "should still deliver", 3, "nudge", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := drain(ob)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered = %d, want 1 (stale lock should have been cleared)", n)
	}
}

func TestLockHeldByLiveOwnerBlocksDelivery(t *testing.T) {
	sender := &fakeSender{}
	ob := newTestOutbox(t, sender)

	if err := os.WriteFile(ob.lockFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		t.Fatalf("seeding lock file: %v", err)
	}

	if err := ob.Enqueue("win", "should wait", 3, "nudge", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := drain(ob)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("delivered = %d, want 0 (lock held by a fresh owner)", n)
	}
	pending, _ := listPending(ob.pending)
	if len(pending) != 1 {
		t.Fatalf("pending/ has %d entries, want 1 (message untouched)", len(pending))
	}
}

func TestClearStaleOnStartupEmptiesPendingAndRemovesLock(t *testing.T) {
	sender := &fakeSender{}
	ob := newTestOutbox(t, sender)

	for i := 0; i < 3; i++ {
		if err := ob.Enqueue("win", fmt.Sprintf("leftover %d", i), 3, "nudge", ""); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := os.WriteFile(ob.lockFile, []byte("123"), 0o644); err != nil {
		t.Fatalf("seeding lock file: %v", err)
	}

	cleared, err := ob.ClearStaleOnStartup()
	if err != nil {
		t.Fatalf("ClearStaleOnStartup: %v", err)
	}
	if cleared != 4 {
		t.Fatalf("cleared = %d, want 4 (3 messages + 1 lock)", cleared)
	}

	pending, _ := listPending(ob.pending)
	if len(pending) != 0 {
		t.Fatalf("pending/ not empty after startup clear: %v", pending)
	}
	expired, _ := listPending(ob.expired)
	if len(expired) != 3 {
		t.Fatalf("expired/ has %d entries, want 3", len(expired))
	}
	if _, err := os.Stat(ob.lockFile); !os.IsNotExist(err) {
		t.Fatalf("lock file still present after startup clear")
	}
}

func TestEnqueueMissingTargetOrContentExpiresOnDrain(t *testing.T) {
	sender := &fakeSender{}
	ob := newTestOutbox(t, sender)

	if err := ob.Enqueue("", "no target", 3, "nudge", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := drain(ob); err != nil {
		t.Fatalf("drain: %v", err)
	}

	pending, _ := listPending(ob.pending)
	if len(pending) != 0 {
		t.Fatalf("empty-target message still pending: %v", pending)
	}
	expired, _ := listPending(ob.expired)
	if len(expired) != 1 {
		t.Fatalf("expired/ has %d entries, want 1", len(expired))
	}
}

func TestSanitizeContentFoldsSmartTypography(t *testing.T) {
	in := "It’s a “big” deal — really – so."
	want := `It's a "big" deal - really - so.`
	if got := SanitizeContent(in); got != want {
		t.Errorf("SanitizeContent(%q) = %q, want %q", in, got, want)
	}
}
