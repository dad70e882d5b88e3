package supervisor

import "time"

// Tick cadence and escalation thresholds, all named directly in spec.md §4.7.
const (
	TickInterval = 2 * time.Second

	MaxNudges      = 10 // orchestrator nudges before an escalating restart
	MaxRestarts    = 3  // orchestrator restarts before giving up (agent_stall)
	AgentMaxNudges = 10
	AgentMaxRestarts = 3

	// DeadWindowRespawnCooldown bounds how often the health check will
	// respawn the same dead window.
	DeadWindowRespawnCooldown = 120 * time.Second

	// StartupGracePeriod skips the stuck-orchestrator heuristic for the
	// first few minutes after the dashboard starts, since a freshly
	// launched orchestrator routinely shows "thinking"/background-task
	// text while it is still warming up.
	StartupGracePeriod = 5 * time.Minute

	// StuckOrchestratorElapsedThreshold is how long an extracted elapsed
	// timer must exceed, alongside a "thinking"/"background task" marker,
	// before the heuristic backdates last_activity_time to force a nudge.
	StuckOrchestratorElapsedThreshold = 180 * time.Second

	CheckpointInterval = 60 * time.Second
	LearnInterval      = 300 * time.Second
	SyncInterval       = 30 * time.Second

	// CapturePaneLines is how many lines of pane scrollback each tick reads.
	CapturePaneLines = 200
)

// infraWindows are excluded from per-agent classification and nudging, per
// spec.md §4.7 step 3.
var infraWindows = map[string]bool{
	"control":    true,
	"zsh":        true,
	"clone-ops":  true,
	"dashboard":  true,
}

func isInfraWindow(name string) bool {
	if infraWindows[name] {
		return true
	}
	return len(name) >= 5 && name[:5] == "init-"
}
