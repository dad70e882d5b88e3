package sync

import (
	"context"
	"fmt"
	"time"
)

// WatchReport is emitted to onTick after every cycle of RunWatch.
type WatchReport struct {
	Report Report
	Err    error
}

// RunWatch runs Run in a loop until ctx is canceled, sleeping interval
// between cycles. onTick receives every cycle's outcome; pass nil to
// discard it.
func (e *Engine) RunWatch(ctx context.Context, interval time.Duration, onTick func(WatchReport)) {
	for {
		report, err := e.Run()
		if onTick != nil {
			onTick(WatchReport{Report: report, Err: err})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// SummarizeWatch renders the same compact one-line summary the CLI prints
// per tick in watch mode.
func SummarizeWatch(r Report) string {
	c := r.Changes
	total := len(c.NewTasks) + len(c.RemovedTasks) + len(c.StatusChanges) + len(c.BlockedByChanges) + len(c.NewlyUnblocked)
	if total == 0 && len(r.Errors) == 0 {
		return fmt.Sprintf("[%s] no changes (local=%d)", r.Timestamp, r.DAGSize)
	}
	s := fmt.Sprintf("[%s]", r.Timestamp)
	if len(c.NewTasks) > 0 {
		s += fmt.Sprintf(" +%d new", len(c.NewTasks))
	}
	if len(c.RemovedTasks) > 0 {
		s += fmt.Sprintf(" -%d removed", len(c.RemovedTasks))
	}
	if len(c.StatusChanges) > 0 {
		s += fmt.Sprintf(" ~%d status", len(c.StatusChanges))
	}
	if len(c.BlockedByChanges) > 0 {
		s += fmt.Sprintf(" ~%d blocked_by", len(c.BlockedByChanges))
	}
	if len(c.NewlyUnblocked) > 0 {
		s += fmt.Sprintf(" !%d unblocked", len(c.NewlyUnblocked))
	}
	if len(r.Errors) > 0 {
		s += fmt.Sprintf(" (%d errors)", len(r.Errors))
	}
	return s
}
