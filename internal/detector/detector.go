// Package detector classifies agent and orchestrator tmux pane output into
// a status without touching any process or file: every function here is
// pure, taking only the text already captured by internal/procadapter.
// Grounded on dashboard_data.detect_agent_status and its neighbors.
package detector

import (
	"regexp"
	"strings"
)

// Status is an agent's classified state.
type Status string

const (
	StatusWorking    Status = "working"
	StatusCompleted  Status = "completed"
	StatusNeedsInput Status = "needs_input"
	StatusNeedsHuman Status = "needs_human"
	StatusNeedsOrch  Status = "needs_orchestrator"
	StatusNeedsAgent Status = "needs_agent"
	StatusSleeping   Status = "sleeping"
	StatusUnknown    Status = "unknown"
)

// OrchStatus is the orchestrator's classified state.
type OrchStatus string

const (
	OrchWorking           OrchStatus = "working"
	OrchWaitingForHuman   OrchStatus = "waiting_for_human"
	OrchWaitingForAgent   OrchStatus = "waiting_for_agent"
	OrchWaitingForSubOrch OrchStatus = "waiting_for_sub_orch"
	OrchIdle              OrchStatus = "idle"
	OrchUnknown           OrchStatus = "unknown"
)

var taskBlockedRe = regexp.MustCompile(`(?i)TASK_BLOCKED:\s*(.+?)(?:\n|$)`)

type patternDetail struct {
	pattern string
	detail  string
}

var humanPatterns = []patternDetail{
	{"1.", "choose option"},
	{"2.", "choose option"},
	{"(y/n)", "confirm"},
	{"[y/n]", "confirm"},
	{"which", "question"},
	{"what would you like", "question"},
	{"please select", "choose"},
	{"choose", "choose"},
	{"enter your", "input needed"},
	{"type your", "input needed"},
	{"?", "question"},
}

var orchestratorPatterns = []patternDetail{
	{"waiting for task", "next task"},
	{"waiting for assignment", "assignment"},
	{"ready for next", "next task"},
	{"what should i", "direction"},
	{"awaiting instructions", "instructions"},
	{"task_needs_clarification", "clarification"},
}

var sleepPatterns = []patternDetail{
	{"sleeping", "polling"},
	{"waiting for", "waiting"},
	{"polling", "polling"},
	{"watching", "monitoring"},
	{"monitoring", "monitoring"},
}

var busyPatterns = []string{
	"esc to interrupt",
	"press esc to interrupt",
	"✻",
	"⠋",
	"⠙",
	"⠹",
	"⠸",
	"thinking...",
	"running:",
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Detect classifies a single pane's output into (status, detail) following
// the priority order: completion/blocked signals, human input prompts,
// orchestrator waits, sleeping/polling, daemon markers, busy indicators,
// then a bare prompt glyph or the default needs_input.
//
// Sticky completion (a window that has ever signaled TASK_COMPLETE stays
// completed even once the signal scrolls out of view) is the caller's
// responsibility — it requires state this function does not have.
func Detect(paneOutput string) (Status, string) {
	if paneOutput == "" {
		return StatusUnknown, ""
	}

	lower := strings.ToLower(paneOutput)
	recent := tail(paneOutput, 800)
	recentLower := strings.ToLower(recent)

	if strings.Contains(recentLower, "task_complete") ||
		strings.Contains(recentLower, "task complete") ||
		strings.Contains(recentLower, "taskcomplete") {
		return StatusCompleted, "completed"
	}
	if m := taskBlockedRe.FindStringSubmatch(recent); m != nil {
		reason := strings.TrimSpace(m[1])
		if len(reason) > 30 {
			reason = reason[:30]
		}
		return StatusNeedsAgent, reason
	}

	last200 := strings.ToLower(tail(recent, 200))
	for _, p := range humanPatterns {
		if strings.Contains(last200, p.pattern) {
			return StatusNeedsHuman, p.detail
		}
	}

	for _, p := range orchestratorPatterns {
		if strings.Contains(lower, p.pattern) {
			return StatusNeedsOrch, p.detail
		}
	}

	last300 := strings.ToLower(tail(lower, 300))
	for _, p := range sleepPatterns {
		if strings.Contains(last300, p.pattern) {
			return StatusSleeping, p.detail
		}
	}

	if strings.Contains(lower, "inbox") || strings.Contains(lower, "status watcher") {
		return StatusSleeping, "daemon"
	}

	for _, p := range busyPatterns {
		if strings.Contains(lower, p) {
			return StatusWorking, ""
		}
	}

	if strings.Contains(tail(recent, 100), "❯") {
		return StatusNeedsOrch, "idle"
	}

	return StatusNeedsInput, ""
}

var explicitHumanPrompts = []string{
	"what would you like",
	"please select",
	"choose an option",
	"enter your",
	"type your",
	"(y/n)",
	"[y/n]",
	"press enter",
	"confirm?",
	"proceed?",
}

var spinnerGlyphs = []string{"⠋", "⠙", "⠹", "⠸"}

// IsHumanInputPrompt reports whether output's tail looks like a live prompt
// for human input: numbered options paired with a bare prompt glyph, a
// trailing prompt glyph with no spinner nearby, or one of a set of explicit
// question phrasings.
func IsHumanInputPrompt(output string) bool {
	if output == "" {
		return false
	}

	recent := tail(output, 3000)
	lines := strings.Split(strings.TrimSpace(recent), "\n")
	lastLine := ""
	if len(lines) > 0 {
		lastLine = strings.TrimSpace(lines[len(lines)-1])
	}

	hasNumberedOptions := strings.Contains(recent, "1.") && strings.Contains(recent, "2.")
	hasPrompt := false
	start := len(lines) - 10
	if start < 0 {
		start = 0
	}
	for _, l := range lines[start:] {
		t := strings.TrimSpace(l)
		if t == "❯" || strings.HasSuffix(t, "❯") {
			hasPrompt = true
			break
		}
	}

	if hasNumberedOptions && hasPrompt {
		return true
	}

	if lastLine == "❯" || strings.HasSuffix(lastLine, "❯") {
		veryRecent := tail(output, 200)
		spinning := false
		for _, s := range spinnerGlyphs {
			if strings.Contains(veryRecent, s) {
				spinning = true
				break
			}
		}
		if !spinning {
			return true
		}
	}

	if hasNumberedOptions {
		return true
	}

	recentLower := strings.ToLower(recent)
	for _, p := range explicitHumanPrompts {
		if strings.Contains(recentLower, p) {
			return true
		}
	}

	return false
}

var waitingContextRes = []*regexp.Regexp{
	regexp.MustCompile(`waiting (?:for|on) (?:agent|agents)`),
	regexp.MustCompile(`spawned (?:agent|agents)`),
	regexp.MustCompile(`sub-orchestrator`),
	regexp.MustCompile(`agent \w+ is working`),
	regexp.MustCompile(`agents? running`),
}

var waitingEntityRe = regexp.MustCompile(`(?:agent|sub-orchestrator)[:\s]+([^\s,]+)`)

// DetectWaitingContext reports whether output mentions waiting on agents or
// sub-orchestrators, and the entity names it could extract.
func DetectWaitingContext(output string) (bool, []string) {
	if output == "" {
		return false, nil
	}
	lower := strings.ToLower(output)
	for _, re := range waitingContextRes {
		if re.MatchString(lower) {
			var entities []string
			if m := waitingEntityRe.FindStringSubmatch(output); m != nil {
				entities = append(entities, m[1])
			}
			return true, entities
		}
	}
	return false, nil
}

// DetectOrchestratorStatus classifies the orchestrator pane, cross-referenced
// with the names of agents and sub-orchestrators the caller has already
// determined to be working. waiting_for_human is only asserted when an
// input prompt is actively visible, never merely because nothing else
// matched.
func DetectOrchestratorStatus(output string, workingAgents, workingSubOrchs []string) (OrchStatus, string, []string) {
	if output == "" {
		return OrchUnknown, "cannot read pane", nil
	}

	lower := strings.ToLower(output)
	for _, p := range busyPatterns {
		if strings.Contains(lower, p) {
			return OrchWorking, "processing", nil
		}
	}

	if len(workingSubOrchs) > 0 {
		return OrchWaitingForSubOrch, summarizeEntities(workingSubOrchs), workingSubOrchs
	}

	if len(workingAgents) > 0 {
		return OrchWaitingForAgent, summarizeEntities(workingAgents), workingAgents
	}

	if IsHumanInputPrompt(output) {
		return OrchWaitingForHuman, "needs your input", nil
	}

	if waiting, entities := DetectWaitingContext(output); waiting {
		if len(entities) > 0 {
			return OrchWaitingForAgent, summarizeEntities(entities), entities
		}
		return OrchWaitingForAgent, "waiting on work", nil
	}

	return OrchIdle, "idle", nil
}

func summarizeEntities(names []string) string {
	shown := names
	more := 0
	if len(shown) > 2 {
		more = len(shown) - 2
		shown = shown[:2]
	}
	s := strings.Join(shown, ", ")
	if more > 0 {
		s += " +" + itoa(more)
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

var (
	durationRe      = regexp.MustCompile(`\d+[hms]\s*\d*[ms]?\s*\d*[s]?`)
	tokenCountRe    = regexp.MustCompile(`[↓↑]\s*[\d.]+k?\s*tokens?`)
	inOutRe         = regexp.MustCompile(`in:\d+k?\s*out:\d+k?`)
	ctxPercentRe    = regexp.MustCompile(`ctx:\d+%`)
	percentRe       = regexp.MustCompile(`\d+%`)
	thinkingRe      = regexp.MustCompile(`(?i)thinking`)
	autoCompactRe   = regexp.MustCompile(`Context left until auto-compact:\s*\d+%`)
	sizeIndicatorRe = regexp.MustCompile(`sz:\d+k?`)
)

// NormalizeForComparison strips the dynamic tokens (elapsed timers, token
// counts, context percentages, the auto-compact notice, spinner glyphs,
// size indicators) from pane output so two captures can be compared for
// real activity rather than cosmetic ticking.
func NormalizeForComparison(output string) string {
	s := output
	s = durationRe.ReplaceAllString(s, "")
	s = tokenCountRe.ReplaceAllString(s, "")
	s = inOutRe.ReplaceAllString(s, "")
	s = ctxPercentRe.ReplaceAllString(s, "")
	s = autoCompactRe.ReplaceAllString(s, "")
	s = percentRe.ReplaceAllString(s, "")
	s = thinkingRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "✻", "")
	s = sizeIndicatorRe.ReplaceAllString(s, "")
	return s
}
