// Package cwconfig loads and saves a project's <stateDir>/config.json, the
// small set of operator-tunable knobs spec.md §6 names:
// skip_permissions, yolo_mode, parallel, nudge_interval_seconds. Modeled on
// the teacher's internal/config enum-with-validator idiom
// (cost_tier.go's ValidCostTiers/IsValidTier pair), generalized here to a
// typed settings struct with sane zero-value defaults rather than a single
// enum, since Claw Town's config is a handful of independent toggles
// rather than one tiered preset.
package cwconfig

import (
	"os"
	"path/filepath"

	"github.com/clawtown/clawtown/internal/util"
)

// DefaultAgentNudgeInterval is the default cooldown between agent nudges
// per spec.md §4.7 ("agent_nudge_interval (900 s)"). Open Question 3 in
// SPEC_FULL.md resolves the separate "agent nudge cooldown" knob referenced
// but never defined in the original to be this same value.
const DefaultAgentNudgeInterval = 900

// Config is the document at <stateDir>/config.json.
type Config struct {
	SkipPermissions      bool `json:"skip_permissions"`
	YoloMode             bool `json:"yolo_mode"`
	Parallel             bool `json:"parallel"`
	NudgeIntervalSeconds int  `json:"nudge_interval_seconds"`
}

// Default returns the configuration used when no config.json exists yet.
func Default() Config {
	return Config{
		SkipPermissions:      false,
		YoloMode:             false,
		Parallel:             false,
		NudgeIntervalSeconds: DefaultAgentNudgeInterval,
	}
}

func path(stateDir string) string {
	return filepath.Join(stateDir, "config.json")
}

// Load reads <stateDir>/config.json, returning Default() if the file is
// absent or unparsable — a malformed config is treated as no config, per
// spec.md §7's "malformed JSON on any state file" policy, so the dashboard
// never refuses to start because an operator hand-edited the file badly.
func Load(stateDir string) Config {
	cfg := Default()
	if err := util.ReadJSON(path(stateDir), &cfg); err != nil {
		return Default()
	}
	if cfg.NudgeIntervalSeconds <= 0 {
		cfg.NudgeIntervalSeconds = DefaultAgentNudgeInterval
	}
	return cfg
}

// Save writes cfg atomically.
func Save(stateDir string, cfg Config) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	return util.WriteJSONAtomic(path(stateDir), cfg, 0o644)
}
