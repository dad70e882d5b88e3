package sync

import (
	"fmt"
	"strings"
)

// buildSummary renders a one-line and a multi-line human-readable summary
// of a sync cycle's changes, matching the original's activity-log phrasing.
func buildSummary(c Changes) (string, string) {
	lines := []string{"Task graph updated"}

	for _, n := range c.NewTasks {
		lines = append(lines, fmt.Sprintf("  LOCAL: +1 new %s %q", n.TNumber, n.Title))
	}
	for _, r := range c.RemovedTasks {
		lines = append(lines, fmt.Sprintf("  LOCAL: -1 removed %s", r.TNumber))
	}
	for _, s := range c.StatusChanges {
		lines = append(lines, fmt.Sprintf("  LOCAL: %s %s -> %s", s.TNumber, s.OldStatus, s.NewStatus))
	}
	for _, b := range c.BlockedByChanges {
		lines = append(lines, fmt.Sprintf("  LOCAL: %s blocked_by %v -> %v", b.TNumber, b.OldBlockedBy, b.NewBlockedBy))
	}
	for _, u := range c.NewlyUnblocked {
		lines = append(lines, fmt.Sprintf("  LOCAL: %s %q now unblocked", u.TNumber, u.Title))
	}

	oneLiner := fmt.Sprintf(
		"Task graph updated: +%d new, -%d removed, ~%d status, ~%d blocked_by, !%d unblocked",
		len(c.NewTasks), len(c.RemovedTasks), len(c.StatusChanges), len(c.BlockedByChanges), len(c.NewlyUnblocked),
	)

	return oneLiner, strings.Join(lines, "\n")
}
