// Package registry tracks per-agent health as one JSON file per agent under
// a state directory, the way a process supervisor tracks workers: register,
// heartbeat, detect staleness, kill, and respawn. Grounded on
// claw_town_agents.py, with the liveness-probe idiom adapted from the
// teacher's internal/session/pidtrack.go (ask the OS whether a recorded PID
// is still alive rather than trusting a cached flag).
package registry

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/clawtown/clawtown/internal/util"
)

// Status is an agent's recomputed health.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStuck Status = "stuck"
	StatusDead  Status = "dead"
)

// StuckThreshold is the number of consecutive missed heartbeats at which an
// otherwise-live agent is considered stuck.
const StuckThreshold = 3

// Record is one agent's on-disk health file.
type Record struct {
	Name             string `json:"name"`
	TaskID           string `json:"task_id"`
	Window           string `json:"window"`
	PID              int    `json:"pid,omitempty"`
	Status           Status `json:"status"`
	LastHeartbeat    string `json:"last_heartbeat"`
	StartedAt        string `json:"started_at"`
	AgentMode        string `json:"agent_mode"`
	Role             string `json:"role,omitempty"`
	WorkingDir       string `json:"working_dir,omitempty"`
	MissedHeartbeats int    `json:"missed_heartbeats"`
}

// ProcessChecker is the subset of internal/procadapter.Adapter the registry
// needs to determine liveness and tear a window down. Satisfied
// structurally by *procadapter.Adapter.
type ProcessChecker interface {
	WindowExists(window string) (bool, error)
	PanePID(window string) (int, error)
	SendKeys(window, keys string) error
	KillWindow(window string) error
}

// Registry manages agent health files under <stateDir>/agents and their
// companion lock files under <stateDir>/locks.
type Registry struct {
	agentsDir string
	locksDir  string
	session   string // tmux session all agent windows live in, e.g. "claw-town-<project>"
	proc      ProcessChecker

	// aiProcessName is the child process name considered "the agent is
	// actually running" beneath a pane's shell, default "claude".
	aiProcessName string
	spawnHelper   string
}

// New returns a Registry rooted at stateDir, talking to windows in the
// given tmux session through proc. spawnHelper is the external spawn_agent
// equivalent invoked by Respawn.
func New(stateDir, session string, proc ProcessChecker, spawnHelper string) *Registry {
	return &Registry{
		agentsDir:     filepath.Join(stateDir, "agents"),
		locksDir:      filepath.Join(stateDir, "locks"),
		session:       session,
		proc:          proc,
		aiProcessName: "claude",
		spawnHelper:   spawnHelper,
	}
}

func (r *Registry) file(name string) string {
	return filepath.Join(r.agentsDir, name+".json")
}

func (r *Registry) lockFile(name string) string {
	return filepath.Join(r.locksDir, name+".lock")
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (r *Registry) read(name string) (*Record, error) {
	path := r.file(name)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	var rec Record
	if err := util.ReadJSON(path, &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

func (r *Registry) write(name string, rec *Record) error {
	if err := os.MkdirAll(r.agentsDir, 0o755); err != nil {
		return err
	}
	return util.WriteJSONAtomic(r.file(name), rec, 0o644)
}

func (r *Registry) all() ([]*Record, error) {
	entries, err := os.ReadDir(r.agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var records []*Record
	for _, name := range names {
		var rec Record
		if err := util.ReadJSON(filepath.Join(r.agentsDir, name), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// ErrNotFound is returned by operations on an unregistered agent name.
type ErrNotFound struct{ Name string }

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("agent %q not found", e.Name)
}

// Register creates a new agent health file and its companion lock file.
func (r *Registry) Register(name, taskID, window string, pid int, agentMode, role, workingDir string) (*Record, error) {
	if window == "" {
		window = name
	}
	if agentMode == "" {
		agentMode = "headless"
	}
	now := nowISO()
	rec := &Record{
		Name:          name,
		TaskID:        taskID,
		Window:        window,
		PID:           pid,
		Status:        StatusAlive,
		LastHeartbeat: now,
		StartedAt:     now,
		AgentMode:     agentMode,
		Role:          role,
		WorkingDir:    workingDir,
	}
	if err := r.write(name, rec); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.locksDir, 0o755); err != nil {
		return nil, err
	}
	lockData := map[string]any{
		"agent":     name,
		"session":   r.session,
		"pid":       pid,
		"timestamp": now,
	}
	if err := util.WriteJSONAtomic(r.lockFile(name), lockData, 0o644); err != nil {
		return nil, err
	}
	return rec, nil
}

// Heartbeat records liveness for name, clearing its missed-heartbeat count.
func (r *Registry) Heartbeat(name string) (*Record, error) {
	rec, err := r.read(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound{name}
	}
	rec.LastHeartbeat = nowISO()
	rec.MissedHeartbeats = 0
	rec.Status = StatusAlive
	if err := r.write(name, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MissHeartbeat increments name's missed-heartbeat count, marking it stuck
// once the count reaches StuckThreshold.
func (r *Registry) MissHeartbeat(name string) (*Record, error) {
	rec, err := r.read(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound{name}
	}
	rec.MissedHeartbeats++
	if rec.MissedHeartbeats >= StuckThreshold {
		rec.Status = StatusStuck
	}
	if err := r.write(name, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every registered agent, recomputing health first unless
// refresh is false.
func (r *Registry) List(refresh bool) ([]*Record, error) {
	if refresh {
		if _, err := r.CheckHealth(); err != nil {
			return nil, err
		}
	}
	return r.all()
}

// Status returns name's record with freshly recomputed health.
func (r *Registry) Status(name string) (*Record, error) {
	rec, err := r.read(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound{name}
	}
	newStatus := r.determineStatus(rec)
	if newStatus != rec.Status {
		rec.Status = newStatus
		if err := r.write(name, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// determineStatus recomputes status as a pure function of
// (window_exists, pane_pid_exists, pid_alive, ai_child_present,
// missed_heartbeats), matching _determine_status.
func (r *Registry) determineStatus(rec *Record) Status {
	exists, err := r.proc.WindowExists(rec.Window)
	if err != nil || !exists {
		return StatusDead
	}

	panePID, err := r.proc.PanePID(rec.Window)
	if err != nil {
		return StatusDead
	}

	if !processAlive(panePID) {
		return StatusDead
	}

	if !r.hasAIChild(panePID) {
		return StatusDead
	}

	if rec.MissedHeartbeats >= StuckThreshold {
		return StatusStuck
	}
	return StatusAlive
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// hasAIChild reports whether a process matching aiProcessName runs as a
// child of pid, the liveness signal that a pane's shell hosts a running
// agent rather than having returned to a bare prompt.
func (r *Registry) hasAIChild(pid int) bool {
	cmd := exec.Command("pgrep", "-P", fmt.Sprintf("%d", pid), "-f", r.aiProcessName)
	return cmd.Run() == nil
}

// CheckHealth recomputes status for every registered agent and reports
// what changed.
type HealthResult struct {
	Name             string `json:"name"`
	TaskID           string `json:"task_id"`
	Status           Status `json:"status"`
	OldStatus        Status `json:"old_status"`
	Changed          bool   `json:"changed"`
	MissedHeartbeats int    `json:"missed_heartbeats"`
}

func (r *Registry) CheckHealth() ([]HealthResult, error) {
	records, err := r.all()
	if err != nil {
		return nil, err
	}
	results := make([]HealthResult, 0, len(records))
	for _, rec := range records {
		old := rec.Status
		newStatus := r.determineStatus(rec)
		if newStatus != old {
			rec.Status = newStatus
			if err := r.write(rec.Name, rec); err != nil {
				return nil, err
			}
		}
		results = append(results, HealthResult{
			Name:             rec.Name,
			TaskID:           rec.TaskID,
			Status:           newStatus,
			OldStatus:        old,
			Changed:          newStatus != old,
			MissedHeartbeats: rec.MissedHeartbeats,
		})
	}
	return results, nil
}

// Kill gracefully stops name: sends /exit into its pane, then SIGTERMs its
// known pid as a fallback, marks it dead, and drops its lock file.
func (r *Registry) Kill(name string) (*Record, error) {
	rec, err := r.read(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound{name}
	}

	_ = r.proc.SendKeys(rec.Window, "/exit")

	if rec.PID > 0 && processAlive(rec.PID) {
		if proc, err := os.FindProcess(rec.PID); err == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}

	rec.Status = StatusDead
	if err := r.write(name, rec); err != nil {
		return nil, err
	}
	_ = os.Remove(r.lockFile(name))
	return rec, nil
}

// PromptPath resolves the respawn prompt file for name: <name>.md, falling
// back to <task_id>.md.
func (r *Registry) PromptPath(promptsDir string, rec *Record) (string, bool) {
	candidate := filepath.Join(promptsDir, rec.Name+".md")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}
	if rec.TaskID != "" {
		candidate = filepath.Join(promptsDir, rec.TaskID+".md")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return candidate, false
}

// Respawn tears down name's window and lock, then invokes the spawn helper
// with its working directory and prompt file. promptsDir is where respawn
// prompt files live (<stateDir>/prompts).
func (r *Registry) Respawn(name, promptsDir string) (*Record, error) {
	rec, err := r.read(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound{name}
	}

	if rec.PID > 0 && processAlive(rec.PID) {
		if proc, err := os.FindProcess(rec.PID); err == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}

	if exists, _ := r.proc.WindowExists(rec.Window); exists {
		_ = r.proc.KillWindow(rec.Window)
	}
	_ = os.Remove(r.lockFile(name))

	promptFile, found := r.PromptPath(promptsDir, rec)
	if !found {
		rec.Status = StatusDead
		_ = r.write(name, rec)
		return rec, fmt.Errorf("cannot respawn %q: no prompt file found at %s", name, promptFile)
	}

	workingDir := rec.WorkingDir
	if workingDir == "" {
		workingDir = "."
	}

	cmd := exec.Command(r.spawnHelper, r.session, name, workingDir, promptFile, "--skip-permissions")
	if err := cmd.Run(); err != nil {
		return rec, fmt.Errorf("spawn helper failed for %q: %w", name, err)
	}

	now := nowISO()
	rec.Status = StatusAlive
	rec.LastHeartbeat = now
	rec.StartedAt = now
	rec.MissedHeartbeats = 0
	if err := r.write(name, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Deregister removes name's health file and lock file.
func (r *Registry) Deregister(name string) error {
	path := r.file(name)
	if _, err := os.Stat(path); err != nil {
		return ErrNotFound{name}
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	_ = os.Remove(r.lockFile(name))
	return nil
}
