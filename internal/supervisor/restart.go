package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/clawtown/clawtown/internal/eventlog"
)

// readinessMarkers are the strings restartWindow polls for after relaunch,
// mirroring the spec's ["❯", "bypass permissions", "Try \"edit"] set.
var readinessMarkers = []string{"❯", "bypass permissions", `Try "edit`}

// RestartPollTimeout bounds how long restartWindow waits for a readiness
// marker before giving up and proceeding anyway.
const RestartPollTimeout = 30 * time.Second

// restartWindow runs the common teardown/relaunch sequence: two Ctrl-Cs,
// an explicit /exit, a relaunch of command in workDir, then a bounded poll
// for a readiness marker. Shared by RestartOrchestrator and RestartAgent.
func (s *Supervisor) restartWindow(window, workDir, command string) {
	_ = s.Proc.SendKeys(window, "\x03")
	time.Sleep(2 * time.Second)
	_ = s.Proc.SendKeys(window, "\x03")
	_ = s.Proc.SendKeys(window, "/exit")
	time.Sleep(2 * time.Second)

	_ = s.Proc.KillWindow(window)
	_ = s.Proc.NewSession(window, workDir, fmt.Sprintf("cd %s && %s", workDir, command))

	deadline := s.now().Add(RestartPollTimeout)
	for s.now().Before(deadline) {
		out, err := s.Proc.CapturePane(window, CapturePaneLines)
		if err == nil {
			for _, marker := range readinessMarkers {
				if strings.Contains(out, marker) {
					return
				}
			}
		}
		time.Sleep(1 * time.Second)
	}
}

// RestartOrchestrator tears down and relaunches the reserved orchestrator
// pane, chaining a cleanup that kills the session on exit (so an
// abandoned orchestrator process never leaves the tmux session running
// unattended), bumps counters, resets nudge state, and enqueues a
// context-restoration message summarizing current work.
func (s *Supervisor) RestartOrchestrator(summary string) {
	command := fmt.Sprintf("%s; tmux kill-session -t %s", s.AICommand, s.Session)
	s.restartWindow(s.OrchestratorWindow, s.WorkingDir, command)

	s.State.RestartCount++
	s.State.NudgeCount = 0
	s.State.LastNudgeTime = s.now()
	s.State.LastActivityTime = s.now()
	delete(s.State.CompletedAgents, s.OrchestratorWindow)

	_ = s.EventLog.Append(eventlog.TypeRestartOrch, fmt.Sprintf("restarted orchestrator (attempt %d/%d)", s.State.RestartCount, MaxRestarts), "")
	_ = s.Outbox.Enqueue(s.OrchestratorWindow, contextRestorationMessage(summary), 2, "restart", "")

	if s.State.RestartCount >= MaxRestarts {
		_ = s.EventLog.Append(eventlog.TypeAgentStall, "orchestrator restart cap reached", s.OrchestratorWindow)
	}
}

// RestartAgent tears down and relaunches a single agent (or
// sub-orchestrator) window, clearing its sticky completion and nudge
// state, and enqueues the same context-restoration message.
func (s *Supervisor) RestartAgent(name, window, workDir, summary string) {
	s.restartWindow(window, workDir, s.AICommand)

	s.State.AgentRestartCount[name]++
	delete(s.State.CompletedAgents, window)
	st := s.State.nudgeStateFor(name, s.now())
	st.NudgeCount = 0
	st.LastActivity = s.now()
	st.LastNudge = s.now()

	_ = s.EventLog.Append(eventlog.TypeRestartAgent, fmt.Sprintf("restarted %s (attempt %d/%d)", name, s.State.AgentRestartCount[name], AgentMaxRestarts), name)
	_ = s.Outbox.Enqueue(window, contextRestorationMessage(summary), 2, "restart", name)

	if s.State.AgentRestartCount[name] >= AgentMaxRestarts {
		_ = s.EventLog.Append(eventlog.TypeAgentStall, fmt.Sprintf("%s restart cap reached", name), name)
	}
}

func contextRestorationMessage(summary string) string {
	if summary == "" {
		return "Session restarted. Please review open tasks and running agents, then resume work."
	}
	return "Session restarted. Context before restart:\n" + summary
}
