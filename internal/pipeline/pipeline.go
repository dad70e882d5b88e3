// Package pipeline implements the fixed task pipeline stage machine layered
// over the task store: stage<->role bijection, claim/release/reject
// semantics, and the reject allow-list. Grounded on claw_town_roles.py.
package pipeline

import (
	"fmt"

	"github.com/clawtown/clawtown/internal/cwerr"
	"github.com/clawtown/clawtown/internal/taskstore"
)

// Stages is the fixed, ordered pipeline every task moves through.
var Stages = []string{
	"pm", "tech-lead", "intern", "code-review", "perf-check", "qa-test", "design-audit", "done",
}

// StageToRole maps each stage to the role that handles it.
var StageToRole = map[string]string{
	"pm":           "pm",
	"tech-lead":    "tech-lead",
	"intern":       "intern",
	"code-review":  "code-reviewer",
	"perf-check":   "perf-checker",
	"qa-test":      "qa-tester",
	"design-audit": "design-auditor",
}

// RoleToStage is the reverse of StageToRole.
var RoleToStage = func() map[string]string {
	m := map[string]string{}
	for stage, role := range StageToRole {
		m[role] = stage
	}
	return m
}()

// RejectAllowed lists, for each stage, the earlier stages it may reject back
// to. All other backward transitions are illegal.
var RejectAllowed = map[string][]string{
	"code-review":  {"intern"},
	"perf-check":   {"intern"},
	"qa-test":      {"intern"},
	"design-audit": {"intern"},
	"intern":       {"pm", "tech-lead"},
	"tech-lead":    {"pm"},
}

func stageIndex(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// NextStage returns the stage after current, or "" if current is "done" or
// unrecognized.
func NextStage(current string) string {
	idx := stageIndex(current)
	if idx < 0 || idx+1 >= len(Stages) {
		return ""
	}
	return Stages[idx+1]
}

// IsValidStage reports whether stage is one of the fixed pipeline stages.
func IsValidStage(stage string) bool {
	return stageIndex(stage) >= 0
}

// IsValidRole reports whether role handles one of the pipeline stages.
func IsValidRole(role string) bool {
	_, ok := RoleToStage[role]
	return ok
}

// Pipeline layers stage-machine operations over a task store.
type Pipeline struct {
	store *taskstore.Store
}

// New returns a Pipeline backed by store.
func New(store *taskstore.Store) *Pipeline {
	return &Pipeline{store: store}
}

// Claim assigns task to role, requiring the task be at the stage role
// handles and currently unowned.
func (p *Pipeline) Claim(taskRaw, role string) (*taskstore.Task, error) {
	if !IsValidRole(role) {
		return nil, cwerr.Validation(sortedRoles(), "unknown role %q", role)
	}
	task, err := p.store.Get(taskRaw)
	if err != nil {
		return nil, err
	}
	expected := RoleToStage[role]
	if task.Stage != expected {
		return nil, cwerr.Validation(nil,
			"task %s is at stage %q, but role %q handles stage %q", task.TNumber, task.Stage, role, expected)
	}
	if task.Owner != "" {
		return nil, cwerr.Validation(nil, "task %s is already owned by %q", task.TNumber, task.Owner)
	}
	owner := role
	inProgress := string(taskstore.StatusInProgress)
	updated, _, err := p.store.Update(task.TNumber, taskstore.UpdateFields{
		Owner:  &owner,
		Status: &inProgress,
	})
	return updated, err
}

// Release clears the task's owner and advances it to the next stage. The
// final stage closes the task.
func (p *Pipeline) Release(taskRaw string) (*taskstore.Task, error) {
	task, err := p.store.Get(taskRaw)
	if err != nil {
		return nil, err
	}
	if task.Owner == "" {
		return nil, cwerr.Validation(nil, "task %s has no owner to release", task.TNumber)
	}

	newStage := NextStage(task.Stage)
	if newStage == "" {
		if task.Stage != "done" && !IsValidStage(task.Stage) {
			return nil, cwerr.Validation(nil, "task %s is at unknown stage %q, cannot advance", task.TNumber, task.Stage)
		}
		newStage = "done"
	}

	status := string(taskstore.StatusOpen)
	if newStage == "done" {
		status = string(taskstore.StatusClosed)
	}
	none := "none"
	return updateTask(p.store, task.TNumber, &newStage, &none, &status)
}

// SetStage is an admin override: sets stage directly and clears owner.
func (p *Pipeline) SetStage(taskRaw, stage string) (*taskstore.Task, error) {
	if !IsValidStage(stage) {
		return nil, cwerr.Validation(Stages, "unknown stage %q", stage)
	}
	task, err := p.store.Get(taskRaw)
	if err != nil {
		return nil, err
	}
	none := "none"
	return updateTask(p.store, task.TNumber, &stage, &none, nil)
}

// Reject moves a task backward to targetStage, only along edges in
// RejectAllowed, clearing owner, setting status open, and appending a
// REJECTED-prefixed comment with reason.
func (p *Pipeline) Reject(taskRaw, targetStage, reason string) (*taskstore.Task, error) {
	if !IsValidStage(targetStage) {
		return nil, cwerr.Validation(Stages, "unknown stage %q", targetStage)
	}
	task, err := p.store.Get(taskRaw)
	if err != nil {
		return nil, err
	}

	allowed := RejectAllowed[task.Stage]
	ok := false
	for _, s := range allowed {
		if s == targetStage {
			ok = true
			break
		}
	}
	if !ok {
		return nil, cwerr.Validation(allowed, "stage %q cannot reject to %q", task.Stage, targetStage)
	}
	if stageIndex(targetStage) >= stageIndex(task.Stage) {
		return nil, cwerr.Validation(nil, "cannot reject forward: %q is not before %q", targetStage, task.Stage)
	}

	owner := task.Owner
	if owner == "" {
		owner = "unknown"
	}
	status := string(taskstore.StatusOpen)
	none := "none"
	updated, err := updateTask(p.store, task.TNumber, &targetStage, &none, &status)
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("Rejected from %s back to %s (by %s): %s", task.Stage, targetStage, owner, reason)
	updated, _, err = p.store.Comment(task.TNumber, content, "REJECTED")
	_ = err
	return updated, nil
}

func updateTask(store *taskstore.Store, tn string, stage, owner, status *string) (*taskstore.Task, error) {
	updated, _, err := store.Update(tn, taskstore.UpdateFields{Stage: stage, Owner: owner, Status: status})
	return updated, err
}

func sortedRoles() []string {
	var roles []string
	for r := range RoleToStage {
		roles = append(roles, r)
	}
	return roles
}

// Entry is a summarized pipeline-stage position for the `pipeline` command.
type Entry struct {
	Stage    string `json:"stage"`
	Role     string `json:"role"`
	Position int    `json:"position"`
}

// Describe returns the ordered stage/role/position table.
func Describe() []Entry {
	var out []Entry
	for i, s := range Stages {
		out = append(out, Entry{Stage: s, Role: StageToRole[s], Position: i})
	}
	return out
}
