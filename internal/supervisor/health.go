package supervisor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clawtown/clawtown/internal/eventlog"
)

// errorPatterns are scanned for anywhere in an agent's captured output;
// spec.md §4.7 step 8 names this exact set.
var errorPatterns = []string{"Traceback", "Exception:", "FAILED", "panic:", "error[E"}

// completionSuggestingPhrases pair with a trailing prompt glyph (but no
// explicit TASK_COMPLETE) to flag an agent that looks done but hasn't said
// so — the "implicit completion" health check.
var completionSuggestingPhrases = []string{
	"all done", "finished implementing", "completed the task", "that completes",
	"everything is working", "ready for review",
}

// CheckAgentHealth runs the three health checks spec.md §4.7 step 8 names:
// dead-window respawn (with per-window cooldown), error-pattern recovery
// prompts, and implicit-completion prompts.
func (s *Supervisor) CheckAgentHealth(agents []AgentView) {
	now := s.now()

	doc, err := s.Graph.Load()
	if err == nil {
		for tn, e := range doc.KnownTasks {
			if e.Status != "working" || e.AgentWindow == nil || *e.AgentWindow == "" {
				continue
			}
			window := *e.AgentWindow
			exists, werr := s.Proc.WindowExists(window)
			if werr == nil && exists {
				continue
			}
			last, seen := s.State.LastDeadWindowRespawn[window]
			if seen && now.Sub(last) < DeadWindowRespawnCooldown {
				continue
			}
			s.State.LastDeadWindowRespawn[window] = now
			name := window
			if e.Name != nil && *e.Name != "" {
				name = *e.Name
			}
			if _, err := s.Registry.Respawn(name, s.PromptsDir()); err == nil {
				// The registry's own record comes back alive from Respawn;
				// clear the supervisor's sticky-completion view too so a
				// respawned window isn't permanently masked as completed.
				delete(s.State.CompletedAgents, window)
				_ = s.EventLog.Append(eventlog.TypeRestartAgent, fmt.Sprintf("respawned dead window for %s (%s)", name, tn), window)
			}
		}
	}

	for _, a := range agents {
		if isInfraWindow(a.Window) {
			continue
		}
		s.checkErrorRecovery(a)
		s.checkImplicitCompletion(a)
	}
}

func (s *Supervisor) checkErrorRecovery(a AgentView) {
	matched := false
	for _, p := range errorPatterns {
		if strings.Contains(a.RawOutput, p) {
			matched = true
			break
		}
	}
	if matched && !s.State.LastErrorSeen[a.Window] {
		s.State.LastErrorSeen[a.Window] = true
		_ = s.Outbox.Enqueue(a.Window,
			"An error was detected in your output. Please review and recover, or report TASK_BLOCKED: <reason> if you cannot proceed.",
			2, "error-recovery", a.Name)
	} else if !matched {
		s.State.LastErrorSeen[a.Window] = false
	}
}

func (s *Supervisor) checkImplicitCompletion(a AgentView) {
	if a.Status == "completed" {
		return
	}
	lower := strings.ToLower(a.RawOutput)
	if !strings.Contains(lower, "task_complete") {
		for _, phrase := range completionSuggestingPhrases {
			if strings.Contains(lower, phrase) && strings.HasSuffix(strings.TrimSpace(a.RawOutput), "❯") {
				_ = s.Outbox.Enqueue(a.Window,
					"It looks like you may be finished. If so, please say TASK_COMPLETE explicitly so the task can be closed out.",
					4, "implicit-completion", a.Name)
				return
			}
		}
	}
}

var elapsedRe = regexp.MustCompile(`(?i)(\d+)\s*(?:s|sec|seconds)\b`)

// checkStuckOrchestrator backdates LastActivityTime when the orchestrator
// pane shows a "thinking"/"background task" marker alongside an elapsed
// timer past StuckOrchestratorElapsedThreshold, forcing the nudge pipeline
// to treat it as stalled even though it technically produced output
// recently. Skipped during the dashboard's startup grace period.
func (s *Supervisor) checkStuckOrchestrator(output string) {
	now := s.now()
	if now.Sub(s.State.StartedAt) < StartupGracePeriod {
		return
	}
	lower := strings.ToLower(output)
	if !strings.Contains(lower, "thinking") && !strings.Contains(lower, "background task") {
		return
	}
	m := elapsedRe.FindStringSubmatch(lower)
	if m == nil {
		return
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}
	if time.Duration(seconds)*time.Second <= StuckOrchestratorElapsedThreshold {
		return
	}
	s.State.LastActivityTime = now.Add(-StuckOrchestratorElapsedThreshold - time.Second)
}

// bareCursorPrompts are cursor-line shapes treated as "a bare prompt with
// no pending input", used to tell an idle cursor from one with typed text
// waiting to be submitted.
var bareCursorPrompts = map[string]bool{"": true, ">": true, "$": true, "%": true, "❯": true}

// checkUserInputActivity captures window's cursor line only; if it changed
// since the last tick, or shows a prompt with trailing user text, the
// human is actively present and the idle clock resets.
func (s *Supervisor) checkUserInputActivity(window string, lastCursorLine *string) {
	out, err := s.Proc.CapturePane(window, 1)
	if err != nil {
		return
	}
	line := strings.TrimSpace(out)
	changed := *lastCursorLine != line
	hasTypedText := !bareCursorPrompts[line] && line != ""
	*lastCursorLine = line
	if changed || hasTypedText {
		s.State.LastActivityTime = s.now()
	}
}
