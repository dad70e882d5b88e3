package supervisor

import (
	"strings"
	"time"

	"github.com/clawtown/clawtown/internal/activitylog"
	"github.com/clawtown/clawtown/internal/cwconfig"
	"github.com/clawtown/clawtown/internal/detector"
	"github.com/clawtown/clawtown/internal/eventlog"
	"github.com/clawtown/clawtown/internal/outbox"
	"github.com/clawtown/clawtown/internal/registry"
	"github.com/clawtown/clawtown/internal/sync"
	"github.com/clawtown/clawtown/internal/taskgraph"
	"github.com/clawtown/clawtown/internal/taskstore"
)

// AgentView is one tick's classified snapshot of a single agent or
// sub-orchestrator window.
type AgentView struct {
	Name               string
	Window             string
	TaskID             string
	WorkingDir         string
	IsSubOrchestrator  bool
	Status             detector.Status
	Detail             string
	RawOutput          string
}

// Hooks are the external, injectable checkpoint/learn invocations spec.md
// §4.7 step 9 names. Both are best-effort: a non-nil error is logged, never
// fatal, per spec.md §7.
type Hooks struct {
	Checkpoint func() error
	Learn      func() error
}

// Supervisor owns every dependency the dashboard tick needs and the single
// SupervisorState value the tick mutates. Construct with New and drive by
// calling Tick on a ~2s cadence (TickInterval).
type Supervisor struct {
	Proc     Proc
	Outbox   *outbox.Outbox
	Graph    *taskgraph.Graph
	Store    *taskstore.Store
	Registry *registry.Registry
	EventLog *eventlog.Log
	Activity *activitylog.Logger
	Sync     *sync.Engine
	Config   cwconfig.Config
	Bank     MessageBank
	State    *State
	Hooks    Hooks

	Project             string
	Session             string
	OrchestratorWindow  string
	WorkingDir          string
	AICommand           string
	StateDir            string
	PromptsDirPath      string

	lastOrchCursorLine   string
	lastNormalizedOutput map[string]string
	clock                func() time.Time
}

// New wires a Supervisor from its component dependencies.
func New(proc Proc, ob *outbox.Outbox, graph *taskgraph.Graph, store *taskstore.Store, reg *registry.Registry, evlog *eventlog.Log, act *activitylog.Logger, se *sync.Engine, cfg cwconfig.Config, stateDir, project, session, orchestratorWindow, workingDir, aiCommand string) *Supervisor {
	now := time.Now()
	return &Supervisor{
		Proc:               proc,
		Outbox:             ob,
		Graph:              graph,
		Store:              store,
		Registry:           reg,
		EventLog:           evlog,
		Activity:           act,
		Sync:               se,
		Config:             cfg,
		Bank:               LoadMessageBank(stateDir),
		State:              NewState(stateDir, now),
		Project:            project,
		Session:            session,
		OrchestratorWindow: orchestratorWindow,
		WorkingDir:         workingDir,
		AICommand:          aiCommand,
		StateDir:             stateDir,
		PromptsDirPath:       stateDir + "/prompts",
		lastNormalizedOutput: map[string]string{},
		clock:                time.Now,
	}
}

func (s *Supervisor) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

// PromptsDir is where respawn prompt files (<name>.md / <task_id>.md) live.
func (s *Supervisor) PromptsDir() string { return s.PromptsDirPath }

// Tick runs one full supervisor cycle, implementing spec.md §4.7's ten
// ordered steps.
func (s *Supervisor) Tick() {
	// 1. Drain broker (one message).
	_, _ = s.Outbox.Process()

	// 2. Load task graph; synthesize per-status counts (used by the
	// activity-log note at the end of the tick).
	doc, err := s.Graph.Load()
	statusCounts := map[string]int{}
	if err == nil {
		for _, e := range doc.KnownTasks {
			statusCounts[string(e.Status)]++
		}
	}

	// 3. Capture panes for every non-infrastructure window and classify.
	agents := s.captureAndClassifyAgents()
	orchOutput, _ := s.Proc.CapturePane(s.OrchestratorWindow, CapturePaneLines)
	var working, workingSub []string
	for _, a := range agents {
		if a.Status == detector.StatusWorking {
			if a.IsSubOrchestrator {
				workingSub = append(workingSub, a.Name)
			} else {
				working = append(working, a.Name)
			}
		}
	}
	orchStatus, _, _ := detector.DetectOrchestratorStatus(orchOutput, working, workingSub)

	// 4. Completion / new-task events.
	s.dispatchCompletionAndNewTaskEvents(doc, agents)

	// 5. Stuck-orchestrator heuristic.
	s.checkStuckOrchestrator(orchOutput)

	// 6. User-input activity on the orchestrator pane.
	s.checkUserInputActivity(s.OrchestratorWindow, &s.lastOrchCursorLine)

	// 7. Nudge pipeline.
	s.NudgeAllStalled(orchStatus, agents)

	// 8. Health checks.
	s.CheckAgentHealth(agents)

	// 9. Periodic hooks.
	s.runPeriodicHooks()

	// 10. Activity log note.
	s.Activity.Log("tick: %d agents, orch=%s, tasks=%v", len(agents), orchStatus, statusCounts)
}

// captureAndClassifyAgents captures and classifies every registered,
// non-infrastructure agent window, applying sticky completion.
func (s *Supervisor) captureAndClassifyAgents() []AgentView {
	records, err := s.Registry.List(false)
	if err != nil {
		return nil
	}
	views := make([]AgentView, 0, len(records))
	for _, rec := range records {
		if isInfraWindow(rec.Window) {
			continue
		}
		out, _ := s.Proc.CapturePane(rec.Window, CapturePaneLines)
		status, detail := detector.Detect(out)
		if s.State.CompletedAgents[rec.Window] {
			status = detector.StatusCompleted
		}
		views = append(views, AgentView{
			Name:              rec.Name,
			Window:            rec.Window,
			TaskID:            rec.TaskID,
			WorkingDir:        rec.WorkingDir,
			IsSubOrchestrator: rec.Role == "orchestrator",
			Status:            status,
			Detail:            detail,
			RawOutput:         out,
		})
		s.touchActivity(rec.Name, out)
	}
	return views
}

// touchActivity updates an agent's nudge-state activity timestamp whenever
// its normalized output differs from the last tick's, the same
// dynamic-token-stripped comparison the orchestrator activity check uses.
func (s *Supervisor) touchActivity(name, rawOutput string) {
	normalized := detector.NormalizeForComparison(rawOutput)
	st := s.State.nudgeStateFor(name, s.now())
	if s.lastNormalizedOutput[name] != normalized {
		s.lastNormalizedOutput[name] = normalized
		st.LastActivity = s.now()
	}
}

// dispatchCompletionAndNewTaskEvents implements spec.md §4.7 step 4: newly
// completed tasks get a dedup'd learn message, agents whose output signals
// completion get a close-out message and join the sticky-completion set,
// and newly observed task IDs (other than root) get a detection message.
func (s *Supervisor) dispatchCompletionAndNewTaskEvents(doc *taskgraph.Document, agents []AgentView) {
	if doc == nil {
		return
	}

	currentIDs := map[string]bool{}
	currentStatuses := map[string]string{}
	for tn, e := range doc.KnownTasks {
		currentIDs[tn] = true
		currentStatuses[tn] = string(e.Status)
		if e.Status != taskgraph.StatusCompleted {
			continue
		}
		// Only a fresh transition into "completed" (not one already
		// reflected in last tick's snapshot) counts as newly completed;
		// the learning-emitted set guards against re-emitting across a
		// dashboard restart, this guards against re-emitting every tick
		// in between.
		if s.State.PreviousTaskStatuses[tn] == string(taskgraph.StatusCompleted) {
			continue
		}
		if s.State.LearningEmittedTasks[tn] {
			continue
		}
		s.State.LearningEmittedTasks[tn] = true
		_ = s.Outbox.Enqueue(s.OrchestratorWindow, "Task "+tn+" is complete. Extract any learnings before moving on.", 3, "learning", "")
		_ = s.EventLog.Append(eventlog.TypeTaskComplete, "task "+tn+" completed", "")
		_ = s.State.SaveLearningProcessed(s.StateDir)
	}
	s.State.PreviousTaskStatuses = currentStatuses

	for _, a := range agents {
		if !strings.Contains(strings.ToLower(a.RawOutput), "task_complete") {
			continue
		}
		if s.State.CompletedAgents[a.Window] {
			continue
		}
		s.State.CompletedAgents[a.Window] = true
		_ = s.Outbox.Enqueue(s.OrchestratorWindow, a.Name+" has signaled task completion.", 3, "completion", a.Name)
	}

	var newIDs []string
	rootTask := ""
	if doc.RootTask != nil {
		rootTask = *doc.RootTask
	}
	if s.State.PreviousTaskIDs != nil {
		for tn := range currentIDs {
			if tn == rootTask {
				continue
			}
			if !s.State.PreviousTaskIDs[tn] {
				newIDs = append(newIDs, tn)
			}
		}
	}
	if len(newIDs) > 0 {
		_ = s.Outbox.Enqueue(s.OrchestratorWindow, "New tasks detected: "+strings.Join(newIDs, ", "), 5, "new_task_detection", "")
	}
	s.State.PreviousTaskIDs = currentIDs
}

// runPeriodicHooks fires checkpoint/learn/sync on their own independent
// cadences, per spec.md §4.7 step 9.
func (s *Supervisor) runPeriodicHooks() {
	now := s.now()
	if now.Sub(s.State.LastCheckpoint) >= CheckpointInterval {
		s.State.LastCheckpoint = now
		if s.Hooks.Checkpoint != nil {
			if err := s.Hooks.Checkpoint(); err != nil {
				s.Activity.Log("checkpoint failed: %v", err)
			}
		}
	}
	if now.Sub(s.State.LastLearn) >= LearnInterval {
		s.State.LastLearn = now
		if s.Hooks.Learn != nil {
			if err := s.Hooks.Learn(); err != nil {
				s.Activity.Log("learn hook failed: %v", err)
			}
		}
	}
	if now.Sub(s.State.LastSync) >= SyncInterval {
		s.State.LastSync = now
		if s.Sync != nil {
			if report, err := s.Sync.Run(); err != nil {
				s.Activity.Log("sync failed: %v", err)
			} else {
				s.Activity.Log("sync: %s", sync.SummarizeWatch(report))
			}
		}
	}
}

// Shutdown performs the final checkpoint and cleanup the spec's SIGTERM/
// SIGHUP path requires before the process exits.
func (s *Supervisor) Shutdown() {
	if s.Hooks.Checkpoint != nil {
		_ = s.Hooks.Checkpoint()
	}
	_ = s.State.SaveLearningProcessed(s.StateDir)
}
