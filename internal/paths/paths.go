// Package paths resolves per-project file locations from a global config,
// the way claw_town_paths.py does for the Python original: instead of every
// component hardcoding ~/projects/<project>/.claw_town, they all go through
// GetProjectDir/GetStateDir so a project's files can live in an alternate
// location (e.g. a notes repo) without touching callers.
package paths

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/clawtown/clawtown/internal/util"
)

// Environment variable names from spec.md §6 that let an operator or test
// harness override where a project's files live without touching the
// global config.
const (
	EnvProjectDir = "CLAW_TOWN_PROJECT_DIR"
	EnvTasksDir   = "CLAW_TOWN_TASKS_DIR"
)

// GlobalConfig is the document at ~/.claw-town/config.json.
type GlobalConfig struct {
	ProjectBases map[string]string `json:"project_bases"`
}

func globalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claw-town", "config.json")
}

func defaultBase() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "projects")
}

// LoadGlobalConfig reads the global config, returning an empty (but
// non-nil) config if the file is absent or unparsable — mirroring the
// original's "corrupt or missing config behaves like no config" policy.
func LoadGlobalConfig() GlobalConfig {
	var cfg GlobalConfig
	data, err := os.ReadFile(globalConfigPath())
	if err != nil {
		return GlobalConfig{ProjectBases: map[string]string{}}
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return GlobalConfig{ProjectBases: map[string]string{}}
	}
	if cfg.ProjectBases == nil {
		cfg.ProjectBases = map[string]string{}
	}
	return cfg
}

// SaveGlobalConfig persists the global config atomically.
func SaveGlobalConfig(cfg GlobalConfig) error {
	return util.WriteJSONAtomic(globalConfigPath(), cfg, 0o644)
}

// GetProjectBase returns the base directory under which <project> lives:
// a per-project override, the configured default, or ~/projects.
func GetProjectBase(project string) string {
	cfg := LoadGlobalConfig()
	if base, ok := cfg.ProjectBases[project]; ok {
		return util.ExpandHome(base)
	}
	if base, ok := cfg.ProjectBases["default"]; ok {
		return util.ExpandHome(base)
	}
	return defaultBase()
}

// GetProjectDir returns <base>/<project>, unless CLAW_TOWN_PROJECT_DIR is
// set, in which case it overrides the resolved directory outright.
func GetProjectDir(project string) string {
	if dir := os.Getenv(EnvProjectDir); dir != "" {
		return util.ExpandHome(dir)
	}
	return filepath.Join(GetProjectBase(project), project)
}

// GetStateDir returns <base>/<project>/.claw_town, the root of all
// supervisor-owned state for the project.
func GetStateDir(project string) string {
	return filepath.Join(GetProjectDir(project), ".claw_town")
}

// GetTasksDir returns <base>/<project>/.tasks, the root of the task store,
// unless CLAW_TOWN_TASKS_DIR overrides it.
func GetTasksDir(project string) string {
	if dir := os.Getenv(EnvTasksDir); dir != "" {
		return util.ExpandHome(dir)
	}
	return filepath.Join(GetProjectDir(project), ".tasks")
}

// SetProjectBase records a custom base directory for project, overriding
// the default location (e.g. pointing it at a notes repo).
func SetProjectBase(project, basePath string) error {
	abs, err := filepath.Abs(util.ExpandHome(basePath))
	if err != nil {
		return err
	}
	cfg := LoadGlobalConfig()
	cfg.ProjectBases[project] = abs
	return SaveGlobalConfig(cfg)
}

// RemoveProjectBase reverts project to the default base directory.
func RemoveProjectBase(project string) error {
	cfg := LoadGlobalConfig()
	if _, ok := cfg.ProjectBases[project]; !ok {
		return nil
	}
	delete(cfg.ProjectBases, project)
	return SaveGlobalConfig(cfg)
}

// IsNotesRepoEnabled reports whether project has a custom base path.
func IsNotesRepoEnabled(project string) bool {
	cfg := LoadGlobalConfig()
	_, ok := cfg.ProjectBases[project]
	return ok
}

// GetNotesRepoPath returns the custom base path for project, if configured.
func GetNotesRepoPath(project string) (string, bool) {
	cfg := LoadGlobalConfig()
	base, ok := cfg.ProjectBases[project]
	if !ok {
		return "", false
	}
	return util.ExpandHome(base), true
}
