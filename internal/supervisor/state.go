// Package supervisor implements the dashboard's main loop: the ~2s-cadence
// tick that drains the message broker, reloads the task graph, captures and
// classifies every agent pane, dispatches completion/new-task events, runs
// the nudge/restart escalation pipeline and health checks, and fires the
// periodic checkpoint/learn/sync hooks. Grounded on claw_town_dashboard.py's
// main loop, restructured per spec.md §9's re-architecture note as a single
// SupervisorState value the loop threads through rather than scattered
// globals (the teacher's internal/witness/manager.go Start/Stop lifecycle
// shape grounds the per-agent respawn path specifically).
package supervisor

import (
	"os"
	"path/filepath"
	"time"

	"github.com/clawtown/clawtown/internal/util"
)

// AgentNudgeState tracks one agent's (or sub-orchestrator's) idle/nudge
// bookkeeping, mirroring spec.md §3's agent_nudge_state entries.
type AgentNudgeState struct {
	LastActivity time.Time
	LastNudge    time.Time
	NudgeCount   int
}

// State is the supervisor's full in-memory bookkeeping, owned exclusively
// by the tick loop. Only LearningEmittedTasks is persisted across restarts
// (to <stateDir>/learning_processed.json); everything else — including the
// sticky completion set — resets on a fresh process the way the original's
// in-process dict/set state does.
type State struct {
	StartedAt time.Time

	LastActivityTime time.Time
	LastNudgeTime    time.Time
	NudgeCount       int
	RestartCount     int

	AgentNudgeState   map[string]*AgentNudgeState
	AgentRestartCount map[string]int

	// CompletedAgents is the sticky-completion set: once a window is added
	// here, the detector's view of it stays "completed" regardless of
	// later buffer content, until an explicit restart clears it.
	CompletedAgents map[string]bool

	PreviousTaskStatuses map[string]string
	PreviousTaskIDs      map[string]bool

	LearningEmittedTasks map[string]bool

	// LastErrorSeen tracks which agents currently match an error pattern,
	// so the error-recovery health check only fires once per onset.
	LastErrorSeen map[string]bool

	// LastDeadWindowRespawn bounds dead-window respawns to one per
	// DeadWindowRespawnCooldown per window.
	LastDeadWindowRespawn map[string]time.Time

	LastCheckpoint time.Time
	LastLearn      time.Time
	LastSync       time.Time
}

// NewState returns a freshly initialized State, loading the persisted
// learning-dedup set if one exists.
func NewState(stateDir string, now time.Time) *State {
	s := &State{
		StartedAt:             now,
		LastActivityTime:      now,
		AgentNudgeState:       map[string]*AgentNudgeState{},
		AgentRestartCount:     map[string]int{},
		CompletedAgents:       map[string]bool{},
		PreviousTaskStatuses:  map[string]string{},
		PreviousTaskIDs:       map[string]bool{},
		LearningEmittedTasks:  map[string]bool{},
		LastErrorSeen:         map[string]bool{},
		LastDeadWindowRespawn: map[string]time.Time{},
	}
	s.LearningEmittedTasks = loadLearningProcessed(stateDir)
	return s
}

func learningPath(stateDir string) string {
	return filepath.Join(stateDir, "learning_processed.json")
}

// loadLearningProcessed reads the persisted dedup set, treating an absent
// or corrupt file as empty so a dashboard restart never re-emits every
// historical learn event at once but also never refuses to start.
func loadLearningProcessed(stateDir string) map[string]bool {
	var raw map[string]bool
	if err := util.ReadJSON(learningPath(stateDir), &raw); err != nil {
		return map[string]bool{}
	}
	if raw == nil {
		return map[string]bool{}
	}
	return raw
}

// SaveLearningProcessed persists the learning dedup set.
func (s *State) SaveLearningProcessed(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	return util.WriteJSONAtomic(learningPath(stateDir), s.LearningEmittedTasks, 0o644)
}

// nudgeStateFor returns (creating if absent) the AgentNudgeState for name.
func (s *State) nudgeStateFor(name string, now time.Time) *AgentNudgeState {
	st, ok := s.AgentNudgeState[name]
	if !ok {
		st = &AgentNudgeState{LastActivity: now}
		s.AgentNudgeState[name] = st
	}
	return st
}

// IdleSince returns how long name's nudge state has shown no activity.
func (s *State) IdleSince(name string, now time.Time) time.Duration {
	st, ok := s.AgentNudgeState[name]
	if !ok {
		return 0
	}
	return now.Sub(st.LastActivity)
}
