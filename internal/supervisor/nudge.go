package supervisor

import (
	"time"

	"github.com/clawtown/clawtown/internal/detector"
	"github.com/clawtown/clawtown/internal/eventlog"
)

// shouldNudge reports whether idle has crossed interval.
func shouldNudge(idle, interval time.Duration) bool {
	return idle >= interval
}

// NudgeAllStalled runs the escalation pipeline for the orchestrator, every
// agent, and every sub-orchestrator: restart once the nudge cap is hit (if
// the restart cap allows it), otherwise nudge once the idle interval and
// per-entity cooldown have both elapsed. orchStatus/agents are this tick's
// already-classified views.
func (s *Supervisor) NudgeAllStalled(orchStatus detector.OrchStatus, agents []AgentView) {
	now := s.now()
	agentInterval := time.Duration(s.Config.NudgeIntervalSeconds) * time.Second

	// Orchestrator.
	if s.State.NudgeCount >= MaxNudges && s.State.RestartCount < MaxRestarts {
		s.RestartOrchestrator(s.summarizeWork(agents))
	} else if orchStatus != detector.OrchWaitingForHuman {
		idle := now.Sub(s.State.LastActivityTime)
		cooldownOK := s.State.LastNudgeTime.IsZero() || now.Sub(s.State.LastNudgeTime) >= agentInterval
		if shouldNudge(idle, agentInterval) && cooldownOK {
			_ = s.Outbox.Enqueue(s.OrchestratorWindow, OrchestratorNudgeMessage, 2, "nudge", "")
			s.State.NudgeCount++
			s.State.LastNudgeTime = now
			_ = s.EventLog.Append(eventlog.TypeNudgeOrch, "nudged idle orchestrator", "")
		}
	}

	// Agents and sub-orchestrators share the same escalation shape.
	for _, a := range agents {
		if isInfraWindow(a.Window) {
			continue
		}
		if s.State.CompletedAgents[a.Window] {
			continue
		}
		if a.TaskID != "" {
			if st, err := s.Graph.Load(); err == nil {
				if e, ok := st.KnownTasks[a.TaskID]; ok && e.Status == "completed" {
					continue
				}
			}
		}
		s.nudgeOrRestartOne(a, now, agentInterval)
	}
}

func (s *Supervisor) nudgeOrRestartOne(a AgentView, now time.Time, interval time.Duration) {
	st := s.State.nudgeStateFor(a.Name, now)
	restartCount := s.State.AgentRestartCount[a.Name]

	if st.NudgeCount >= AgentMaxNudges && restartCount < AgentMaxRestarts {
		s.RestartAgent(a.Name, a.Window, a.WorkingDir, "")
		return
	}

	idle := now.Sub(st.LastActivity)
	cooldownOK := st.LastNudge.IsZero() || now.Sub(st.LastNudge) >= interval
	if !shouldNudge(idle, interval) || !cooldownOK {
		return
	}

	var text string
	eventType := eventlog.TypeNudgeAgent
	if a.IsSubOrchestrator {
		text = s.Bank.SubOrchMessage(st.NudgeCount)
	} else {
		text = s.Bank.AgentMessage(st.NudgeCount)
	}
	_ = s.Outbox.Enqueue(a.Window, text, 4, "nudge-agent", a.Name)
	st.NudgeCount++
	st.LastNudge = now
	_ = s.EventLog.Append(eventType, "nudged idle "+a.Name, a.Window)
}

// summarizeWork renders a short open-tasks/running-agents summary for the
// restart context-restoration message.
func (s *Supervisor) summarizeWork(agents []AgentView) string {
	doc, err := s.Graph.Load()
	if err != nil {
		return ""
	}
	summary := ""
	count := 0
	for tn, e := range doc.KnownTasks {
		if e.Status == "working" || e.Status == "pending" {
			summary += "- " + tn + " (" + string(e.Status) + ")\n"
			count++
			if count >= 10 {
				break
			}
		}
	}
	if len(agents) > 0 {
		summary += "Running agents:\n"
		for _, a := range agents {
			summary += "- " + a.Name + " (" + string(a.Status) + ")\n"
		}
	}
	return summary
}
