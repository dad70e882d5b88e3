package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clawtown/clawtown/internal/activitylog"
	"github.com/clawtown/clawtown/internal/cwconfig"
	"github.com/clawtown/clawtown/internal/detector"
	"github.com/clawtown/clawtown/internal/eventlog"
	"github.com/clawtown/clawtown/internal/outbox"
	"github.com/clawtown/clawtown/internal/registry"
	"github.com/clawtown/clawtown/internal/taskgraph"
	"github.com/clawtown/clawtown/internal/taskstore"
)

// countPending returns how many messages sit in <dir>/outbox/pending,
// bypassing Outbox.Process's self-throttle so tests can assert on queue
// depth without waiting on wall-clock time.
func countPending(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "outbox", "pending"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("reading pending dir: %v", err)
	}
	return len(entries)
}

// fakeProc is an in-memory stand-in for internal/procadapter.Adapter used
// by every test in this file; it satisfies both Proc and
// registry.ProcessChecker.
type fakeProc struct {
	panes       map[string]string
	exists      map[string]bool
	sentKeys    map[string][]string
	killed      map[string]bool
	newSessions map[string]string
}

func newFakeProc() *fakeProc {
	return &fakeProc{
		panes:       map[string]string{},
		exists:      map[string]bool{},
		sentKeys:    map[string][]string{},
		killed:      map[string]bool{},
		newSessions: map[string]string{},
	}
}

func (f *fakeProc) ListWindows() ([]string, error) { return nil, nil }
func (f *fakeProc) WindowExists(window string) (bool, error) {
	if v, ok := f.exists[window]; ok {
		return v, nil
	}
	return true, nil
}
func (f *fakeProc) CapturePane(window string, lines int) (string, error) {
	return f.panes[window], nil
}
func (f *fakeProc) SendKeys(window, keys string) error {
	f.sentKeys[window] = append(f.sentKeys[window], keys)
	return nil
}
func (f *fakeProc) KillWindow(window string) error {
	f.killed[window] = true
	return nil
}
func (f *fakeProc) PanePID(window string) (int, error) { return 1234, nil }
func (f *fakeProc) NewSession(window, workDir, command string) error {
	f.newSessions[window] = command
	return nil
}
func (f *fakeProc) SendAtomic(window, content string) error {
	f.sentKeys[window] = append(f.sentKeys[window], content)
	return nil
}

// newTestSupervisor wires a Supervisor over real file-backed components
// rooted at a fresh temp dir, with a fakeProc standing in for tmux.
func newTestSupervisor(t *testing.T) (*Supervisor, *fakeProc) {
	t.Helper()
	dir := t.TempDir()
	proc := newFakeProc()

	ob, err := outbox.New(dir, proc, outbox.NewAckStore(dir))
	if err != nil {
		t.Fatalf("outbox.New: %v", err)
	}
	graph := taskgraph.New(dir, "testproj")
	store := taskstore.New(dir)
	reg := registry.New(dir, "claw-town-testproj", proc, "")
	evlog := eventlog.New(dir)
	act := activitylog.New(dir)

	sup := New(proc, ob, graph, store, reg, evlog, act, nil, cwconfig.Default(), dir,
		"testproj", "claw-town-testproj", "orchestrator", "/work", "claude")
	return sup, proc
}

func TestShouldNudge(t *testing.T) {
	if shouldNudge(5*time.Second, 10*time.Second) {
		t.Fatal("expected no nudge before interval elapses")
	}
	if !shouldNudge(10*time.Second, 10*time.Second) {
		t.Fatal("expected nudge once idle reaches interval")
	}
}

// Nudge non-regression on input: when the orchestrator is waiting for
// human input, NudgeAllStalled must never emit nudge_orch.
func TestNudgeAllStalled_SkipsOrchestratorWhenWaitingForHuman(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.State.LastActivityTime = sup.now().Add(-time.Hour)

	sup.NudgeAllStalled(detector.OrchWaitingForHuman, nil)

	if sup.State.NudgeCount != 0 {
		t.Fatalf("expected no orchestrator nudge while waiting_for_human, got count=%d", sup.State.NudgeCount)
	}
	if _, ok := sup.EventLog.LastOfType(eventlog.TypeNudgeOrch); ok {
		t.Fatal("expected no nudge_orch event while waiting_for_human")
	}
}

func TestNudgeAllStalled_NudgesIdleOrchestrator(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.Config.NudgeIntervalSeconds = 60
	sup.State.LastActivityTime = sup.now().Add(-2 * time.Minute)

	sup.NudgeAllStalled(detector.OrchStatus("working"), nil)

	if sup.State.NudgeCount != 1 {
		t.Fatalf("expected nudge count 1, got %d", sup.State.NudgeCount)
	}
	if _, ok := sup.EventLog.LastOfType(eventlog.TypeNudgeOrch); !ok {
		t.Fatal("expected a nudge_orch event")
	}
}

func TestNudgeAllStalled_EscalatesOrchestratorToRestartAtCap(t *testing.T) {
	sup, proc := newTestSupervisor(t)
	sup.State.NudgeCount = MaxNudges
	proc.panes[sup.OrchestratorWindow] = "❯ "

	sup.NudgeAllStalled(detector.OrchStatus("working"), nil)

	if sup.State.RestartCount != 1 {
		t.Fatalf("expected orchestrator restart to fire once nudge cap reached, got restart count %d", sup.State.RestartCount)
	}
	if sup.State.NudgeCount != 0 {
		t.Fatal("expected nudge count reset after restart")
	}
	if _, ok := sup.EventLog.LastOfType(eventlog.TypeRestartOrch); !ok {
		t.Fatal("expected a restart_orch event")
	}
}

func TestNudgeAllStalled_AgentEscalatesToRestartAtCap(t *testing.T) {
	sup, proc := newTestSupervisor(t)
	proc.panes["win-a"] = "❯ "
	sup.State.AgentNudgeState["agent-a"] = &AgentNudgeState{
		LastActivity: sup.now().Add(-time.Hour),
		NudgeCount:   AgentMaxNudges,
	}

	sup.NudgeAllStalled(detector.OrchStatus("working"), []AgentView{
		{Name: "agent-a", Window: "win-a", Status: detector.StatusWorking},
	})

	if sup.State.AgentRestartCount["agent-a"] != 1 {
		t.Fatalf("expected agent restart once its nudge cap is reached, got %d", sup.State.AgentRestartCount["agent-a"])
	}
	if st := sup.State.AgentNudgeState["agent-a"]; st.NudgeCount != 0 {
		t.Fatal("expected agent nudge count reset after restart")
	}
}

func TestNudgeAllStalled_SkipsCompletedAgents(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.State.CompletedAgents["win-a"] = true
	sup.State.AgentNudgeState["agent-a"] = &AgentNudgeState{LastActivity: sup.now().Add(-time.Hour)}

	sup.NudgeAllStalled(detector.OrchStatus("working"), []AgentView{
		{Name: "agent-a", Window: "win-a", Status: detector.StatusCompleted},
	})

	if st := sup.State.AgentNudgeState["agent-a"]; st.NudgeCount != 0 {
		t.Fatal("expected no nudge dispatched to a sticky-completed agent")
	}
}

func TestMessageBank_RotatesByNudgeCount(t *testing.T) {
	bank := DefaultMessageBank()
	first := bank.AgentMessage(0)
	second := bank.AgentMessage(1)
	if first == second {
		t.Fatal("expected rotating bank to return distinct messages for successive nudge counts")
	}
	wrapped := bank.AgentMessage(len(bank.AgentMessages))
	if wrapped != first {
		t.Fatal("expected message bank to wrap around modulo its length")
	}
}

func TestLoadMessageBank_FallsBackToDefaultWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	bank := LoadMessageBank(dir)
	if len(bank.AgentMessages) != len(defaultAgentNudgeMessages) {
		t.Fatal("expected default message bank when no override file exists")
	}
}

func TestCheckAgentHealth_FlagsErrorPatternOnce(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	agents := []AgentView{
		{Name: "agent-a", Window: "win-a", RawOutput: "Traceback (most recent call last)"},
	}

	sup.CheckAgentHealth(agents)
	if !sup.State.LastErrorSeen["win-a"] {
		t.Fatal("expected error pattern to be recorded as seen")
	}

	// A second tick with the same error present must not re-enqueue.
	sup.CheckAgentHealth(agents)
	if n, err := sup.Outbox.Process(); err != nil || n == 0 {
		t.Fatalf("expected exactly one queued error-recovery message to drain, got n=%d err=%v", n, err)
	}
	if n, _ := sup.Outbox.Process(); n != 0 {
		t.Fatal("expected no second error-recovery message for a repeated error")
	}
}

func TestCheckAgentHealth_ClearsErrorSeenOnceResolved(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.CheckAgentHealth([]AgentView{{Name: "a", Window: "w", RawOutput: "panic: boom"}})
	if !sup.State.LastErrorSeen["w"] {
		t.Fatal("expected error to be flagged")
	}
	sup.CheckAgentHealth([]AgentView{{Name: "a", Window: "w", RawOutput: "all clear now ❯ "}})
	if sup.State.LastErrorSeen["w"] {
		t.Fatal("expected error-seen flag to clear once the pattern disappears")
	}
}

func TestCheckAgentHealth_ImplicitCompletionPrompt(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	agents := []AgentView{
		{Name: "a", Window: "w", Status: detector.StatusWorking, RawOutput: "I think that completes the work\n❯"},
	}
	sup.CheckAgentHealth(agents)
	if n, err := sup.Outbox.Process(); err != nil || n == 0 {
		t.Fatalf("expected an implicit-completion nudge to be queued, got n=%d err=%v", n, err)
	}
}

func TestCheckAgentHealth_RespawnsDeadWindowWithinCooldown(t *testing.T) {
	sup, proc := newTestSupervisor(t)
	name := "agent-a"
	window := "win-a"
	taskID := "T1"

	doc := &taskgraph.Document{Project: "testproj", KnownTasks: map[string]*taskgraph.Entry{}}
	w := window
	n := name
	doc.KnownTasks[taskID] = &taskgraph.Entry{Status: taskgraph.StatusWorking, AgentWindow: &w, Name: &n}
	if err := sup.Graph.Save(doc); err != nil {
		t.Fatalf("Graph.Save: %v", err)
	}

	if _, err := sup.Registry.Register(name, taskID, window, 1, "claude", "agent", "/work"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	proc.exists[window] = false

	sup.CheckAgentHealth(nil)
	if _, ok := sup.State.LastDeadWindowRespawn[window]; !ok {
		t.Fatal("expected dead window respawn to be recorded")
	}

	// Second call within cooldown must not respawn again.
	delete(proc.newSessions, window)
	proc.exists[window] = false
	sup.CheckAgentHealth(nil)
	if _, ok := proc.newSessions[window]; ok {
		t.Fatal("expected cooldown to suppress a second respawn attempt")
	}
}

func TestRestartOrchestrator_BumpsCountersAndClearsCompletion(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.State.NudgeCount = 5
	sup.State.CompletedAgents[sup.OrchestratorWindow] = true

	sup.RestartOrchestrator("")

	if sup.State.RestartCount != 1 {
		t.Fatalf("expected RestartCount 1, got %d", sup.State.RestartCount)
	}
	if sup.State.NudgeCount != 0 {
		t.Fatal("expected NudgeCount reset to 0 after restart")
	}
	if sup.State.CompletedAgents[sup.OrchestratorWindow] {
		t.Fatal("expected sticky completion cleared on restart")
	}
	if _, ok := sup.EventLog.LastOfType(eventlog.TypeRestartOrch); !ok {
		t.Fatal("expected restart_orch event")
	}
}

func TestRestartOrchestrator_EmitsAgentStallAtCap(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.State.RestartCount = MaxRestarts - 1

	sup.RestartOrchestrator("")

	if _, ok := sup.EventLog.LastOfType(eventlog.TypeAgentStall); !ok {
		t.Fatal("expected agent_stall event once the orchestrator restart cap is reached")
	}
}

func TestRestartAgent_ResetsNudgeStateAndIncrementsRestartCount(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	st := sup.State.nudgeStateFor("agent-a", sup.now())
	st.NudgeCount = 7
	sup.State.CompletedAgents["win-a"] = true

	sup.RestartAgent("agent-a", "win-a", "/work", "")

	if sup.State.AgentRestartCount["agent-a"] != 1 {
		t.Fatal("expected agent restart count incremented")
	}
	if sup.State.CompletedAgents["win-a"] {
		t.Fatal("expected sticky completion cleared on agent restart")
	}
	if got := sup.State.AgentNudgeState["agent-a"].NudgeCount; got != 0 {
		t.Fatalf("expected nudge count reset, got %d", got)
	}
}

func TestDispatchCompletionAndNewTaskEvents_DedupsLearningMessages(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	doc := &taskgraph.Document{Project: "testproj", KnownTasks: map[string]*taskgraph.Entry{
		"T1": {Status: taskgraph.StatusCompleted},
	}}

	sup.dispatchCompletionAndNewTaskEvents(doc, nil)
	sup.dispatchCompletionAndNewTaskEvents(doc, nil)

	count := 0
	for {
		n, err := sup.Outbox.Process()
		if err != nil || n == 0 {
			break
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one learning message across two ticks, got %d", count)
	}
}

func TestDispatchCompletionAndNewTaskEvents_DetectsNewTaskIDs(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	root := "root"
	doc1 := &taskgraph.Document{Project: "testproj", RootTask: &root, KnownTasks: map[string]*taskgraph.Entry{
		"root": {Status: taskgraph.StatusWorking},
	}}
	sup.dispatchCompletionAndNewTaskEvents(doc1, nil)

	doc2 := &taskgraph.Document{Project: "testproj", RootTask: &root, KnownTasks: map[string]*taskgraph.Entry{
		"root": {Status: taskgraph.StatusWorking},
		"T2":   {Status: taskgraph.StatusPending},
	}}
	sup.dispatchCompletionAndNewTaskEvents(doc2, nil)

	found := false
	for {
		m, err := sup.Outbox.Process()
		if err != nil || m == 0 {
			break
		}
		found = true
	}
	if !found {
		t.Fatal("expected a queued message after dispatch")
	}
}

func TestDispatchCompletionAndNewTaskEvents_AgentSignalsCompletionSticky(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	agents := []AgentView{{Name: "a", Window: "w", RawOutput: "done: TASK_COMPLETE"}}

	sup.dispatchCompletionAndNewTaskEvents(&taskgraph.Document{KnownTasks: map[string]*taskgraph.Entry{}}, agents)
	if !sup.State.CompletedAgents["w"] {
		t.Fatal("expected agent window marked sticky-completed")
	}

	// Second tick must not re-enqueue the completion notice.
	sup.Outbox.Process()
	sup.dispatchCompletionAndNewTaskEvents(&taskgraph.Document{KnownTasks: map[string]*taskgraph.Entry{}}, agents)
	n, _ := sup.Outbox.Process()
	if n != 0 {
		t.Fatal("expected no duplicate completion message once sticky")
	}
}

func TestCheckUserInputActivity_ResetsIdleClockOnCursorChange(t *testing.T) {
	sup, proc := newTestSupervisor(t)
	sup.State.LastActivityTime = sup.now().Add(-time.Hour)
	proc.panes[sup.OrchestratorWindow] = "some typed text"
	var last string

	sup.checkUserInputActivity(sup.OrchestratorWindow, &last)

	if sup.now().Sub(sup.State.LastActivityTime) > time.Second {
		t.Fatal("expected LastActivityTime refreshed on typed-text cursor line")
	}
}

func TestCheckUserInputActivity_BarePromptNoChangeStaysIdle(t *testing.T) {
	sup, proc := newTestSupervisor(t)
	old := sup.now().Add(-time.Hour)
	sup.State.LastActivityTime = old
	proc.panes[sup.OrchestratorWindow] = "❯"
	last := "❯"

	sup.checkUserInputActivity(sup.OrchestratorWindow, &last)

	if !sup.State.LastActivityTime.Equal(old) {
		t.Fatal("expected unchanged bare prompt not to reset the idle clock")
	}
}

func TestCheckStuckOrchestrator_BackdatesActivityPastThreshold(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.State.StartedAt = sup.now().Add(-time.Hour)
	sup.State.LastActivityTime = sup.now()

	sup.checkStuckOrchestrator("still thinking... elapsed 200s")

	if sup.now().Sub(sup.State.LastActivityTime) < StuckOrchestratorElapsedThreshold {
		t.Fatal("expected LastActivityTime backdated once the stuck threshold is exceeded")
	}
}

func TestCheckStuckOrchestrator_SkippedDuringStartupGrace(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.State.StartedAt = sup.now()
	sup.State.LastActivityTime = sup.now()

	sup.checkStuckOrchestrator("thinking... elapsed 999s")

	if sup.now().Sub(sup.State.LastActivityTime) > time.Second {
		t.Fatal("expected stuck-orchestrator heuristic to be suppressed during the startup grace period")
	}
}

func TestTouchActivity_OnlyUpdatesOnOutputChange(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.touchActivity("agent-a", "same output")
	first := sup.State.AgentNudgeState["agent-a"].LastActivity

	sup.touchActivity("agent-a", "same output")
	if !sup.State.AgentNudgeState["agent-a"].LastActivity.Equal(first) {
		t.Fatal("expected LastActivity unchanged when normalized output is identical")
	}

	sup.touchActivity("agent-a", "different output now")
	if sup.State.AgentNudgeState["agent-a"].LastActivity.Before(first) {
		t.Fatal("expected LastActivity to advance when output changes")
	}
}

func TestIsInfraWindow(t *testing.T) {
	for _, w := range []string{"control", "zsh", "clone-ops", "dashboard", "init-foo"} {
		if !isInfraWindow(w) {
			t.Fatalf("expected %q classified as infra window", w)
		}
	}
	if isInfraWindow("agent-1") {
		t.Fatal("expected a normal agent window not classified as infra")
	}
}

func TestSaveLearningProcessed_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	st := NewState(dir, time.Now())
	st.LearningEmittedTasks["T1"] = true

	if err := st.SaveLearningProcessed(dir); err != nil {
		t.Fatalf("SaveLearningProcessed: %v", err)
	}

	reloaded := NewState(dir, time.Now())
	if !reloaded.LearningEmittedTasks["T1"] {
		t.Fatal("expected learning-dedup set to survive a reload")
	}
}

func TestRunPeriodicHooks_RespectsIndependentCadences(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	var checkpoints, learns int
	sup.Hooks = Hooks{
		Checkpoint: func() error { checkpoints++; return nil },
		Learn:      func() error { learns++; return nil },
	}
	sup.State.LastCheckpoint = sup.now()
	sup.State.LastLearn = sup.now()

	sup.runPeriodicHooks()
	if checkpoints != 0 || learns != 0 {
		t.Fatal("expected no hooks to fire before their interval elapses")
	}

	sup.State.LastCheckpoint = sup.now().Add(-2 * CheckpointInterval)
	sup.runPeriodicHooks()
	if checkpoints != 1 {
		t.Fatalf("expected checkpoint hook to fire once its interval elapses, got %d", checkpoints)
	}
	if learns != 0 {
		t.Fatal("expected learn hook not to fire on its own independent cadence yet")
	}
}

func TestRunPeriodicHooks_LogsNonFatalHookError(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.Hooks = Hooks{Checkpoint: func() error { return errors.New("boom") }}
	sup.State.LastCheckpoint = sup.now().Add(-2 * CheckpointInterval)

	sup.runPeriodicHooks() // must not panic on a failing hook
}

func TestContextRestorationMessage_FallsBackWithoutSummary(t *testing.T) {
	if !strings.Contains(contextRestorationMessage(""), "review open tasks") {
		t.Fatal("expected a generic fallback message when no summary is given")
	}
	if !strings.Contains(contextRestorationMessage("- T1 (working)\n"), "T1") {
		t.Fatal("expected the summary to be embedded in the restoration message")
	}
}
