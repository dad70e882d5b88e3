package supervisor

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// OrchestratorNudgeMessage is the fixed, assertive message sent whenever
// the orchestrator has gone idle past its nudge interval. Unlike agent
// nudges it never rotates — the orchestrator is one entity, and the
// original keeps its nudge text constant to avoid diluting the signal.
const OrchestratorNudgeMessage = "You've been idle. Check for completed tasks, assign new work, or report status. If you are truly done, say so explicitly."

// defaultAgentNudgeMessages mirrors _AGENT_NUDGE_MESSAGES: a small rotating
// bank so a stalled agent doesn't see the identical nudge text every time.
var defaultAgentNudgeMessages = []string{
	"Still there? Please report your current status or continue your task.",
	"No output seen in a while. If you're blocked, say TASK_BLOCKED: <reason>. If you're done, say TASK_COMPLETE.",
	"Checking in — what's the state of your current task?",
}

// defaultSubOrchNudgeMessages mirrors _SUB_ORCH_NUDGE_MESSAGES.
var defaultSubOrchNudgeMessages = []string{
	"Status check: what is your subtree working on right now?",
	"No activity detected. Please report progress on your assigned tasks or escalate if blocked.",
}

// MessageBank holds the rotating nudge text for agents and sub-orchestrators.
type MessageBank struct {
	AgentMessages   []string `toml:"agent_messages"`
	SubOrchMessages []string `toml:"sub_orch_messages"`
}

// DefaultMessageBank returns the built-in message bank.
func DefaultMessageBank() MessageBank {
	return MessageBank{
		AgentMessages:   append([]string(nil), defaultAgentNudgeMessages...),
		SubOrchMessages: append([]string(nil), defaultSubOrchNudgeMessages...),
	}
}

// LoadMessageBank returns the built-in bank, overridden by
// <stateDir>/nudge_messages.toml if present, giving operators a way to
// customize nudge phrasing without recompiling.
func LoadMessageBank(stateDir string) MessageBank {
	bank := DefaultMessageBank()
	path := filepath.Join(stateDir, "nudge_messages.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return bank
	}
	var override MessageBank
	if err := toml.Unmarshal(data, &override); err != nil {
		return bank
	}
	if len(override.AgentMessages) > 0 {
		bank.AgentMessages = override.AgentMessages
	}
	if len(override.SubOrchMessages) > 0 {
		bank.SubOrchMessages = override.SubOrchMessages
	}
	return bank
}

// AgentMessage returns the agent nudge text for the given nudge count,
// rotating through the bank (nudge_count mod len(bank)).
func (b MessageBank) AgentMessage(nudgeCount int) string {
	if len(b.AgentMessages) == 0 {
		return defaultAgentNudgeMessages[0]
	}
	return b.AgentMessages[nudgeCount%len(b.AgentMessages)]
}

// SubOrchMessage returns the sub-orchestrator nudge text for nudgeCount.
func (b MessageBank) SubOrchMessage(nudgeCount int) string {
	if len(b.SubOrchMessages) == 0 {
		return defaultSubOrchNudgeMessages[0]
	}
	return b.SubOrchMessages[nudgeCount%len(b.SubOrchMessages)]
}
