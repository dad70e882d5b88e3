package taskstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clawtown/clawtown/internal/cwerr"
	"github.com/clawtown/clawtown/internal/lock"
	"github.com/clawtown/clawtown/internal/util"
)

// Direction selects which edge a DAG walk follows.
type Direction string

const (
	DirectionDependents   Direction = "dependents"
	DirectionDependencies Direction = "dependencies"
)

// Store is a file-backed task store rooted at a .tasks/ directory. Every
// write is serialized per T-number via a dedicated lock file; ID allocation
// is serialized separately via the counter lock.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (typically paths.GetTasksDir(project)).
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) taskPath(tn string) string {
	return filepath.Join(s.dir, tn+".json")
}

func (s *Store) taskLockPath(tn string) string {
	return filepath.Join(s.dir, "."+tn+".lock")
}

func (s *Store) counterPath() string {
	return filepath.Join(s.dir, "counter.json")
}

func (s *Store) counterLockPath() string {
	return filepath.Join(s.dir, ".counter.lock")
}

type counterDoc struct {
	NextID int `json:"next_id"`
}

// nextID allocates the next task ID, serialized by the counter lock, and
// writes the incremented counter back atomically.
func (s *Store) nextID() (int, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating tasks dir: %w", err)
	}
	release, err := lock.Acquire(s.counterLockPath())
	if err != nil {
		return 0, fmt.Errorf("acquiring counter lock: %w", err)
	}
	defer release()

	var doc counterDoc
	if err := util.ReadJSON(s.counterPath(), &doc); err != nil {
		if !os.IsNotExist(err) {
			// Corrupted counter behaves like absent, per spec §7.
			doc = counterDoc{}
		}
	}
	if doc.NextID == 0 {
		doc.NextID = 1
	}
	next := doc.NextID
	if err := util.WriteJSONAtomic(s.counterPath(), counterDoc{NextID: next + 1}, 0o644); err != nil {
		return 0, fmt.Errorf("writing counter: %w", err)
	}
	return next, nil
}

// writeTask stamps updated_at and writes the task file under its own lock.
func (s *Store) writeTask(t *Task) error {
	release, err := lock.Acquire(s.taskLockPath(t.TNumber))
	if err != nil {
		return fmt.Errorf("locking task %s: %w", t.TNumber, err)
	}
	defer release()

	t.UpdatedAt = nowISO()
	return util.WriteJSONAtomic(s.taskPath(t.TNumber), t, 0o644)
}

// readTaskLocked reads a task file under its own lock, so a concurrent
// read-modify-write elsewhere cannot observe a half-written file.
func (s *Store) readTaskLocked(tn string) (*Task, error) {
	release, err := lock.Acquire(s.taskLockPath(tn))
	if err != nil {
		return nil, fmt.Errorf("locking task %s: %w", tn, err)
	}
	defer release()
	return s.readTaskFile(tn)
}

func (s *Store) readTaskFile(tn string) (*Task, error) {
	var t Task
	if err := util.ReadJSON(s.taskPath(tn), &t); err != nil {
		if os.IsNotExist(err) {
			return nil, cwerr.NotFound("task %s not found", tn)
		}
		return nil, fmt.Errorf("reading task %s: %w", tn, err)
	}
	return &t, nil
}

// Create allocates the next T-number and writes a new open task. The
// "claw-town" tag is always present, matching the original's default tagging.
func (s *Store) Create(title, description string, tags []string, initialStatus string, priority string) (*Task, error) {
	id, err := s.nextID()
	if err != nil {
		return nil, err
	}
	tn := FormatTNumber(id)
	now := nowISO()

	merged := append([]string(nil), tags...)
	found := false
	for _, t := range merged {
		if t == "claw-town" {
			found = true
			break
		}
	}
	if !found {
		merged = append(merged, "claw-town")
	}

	status := StatusOpen
	if initialStatus != "" {
		if st, ok := NormalizeStatus(initialStatus); ok {
			status = st
		}
	}

	task := &Task{
		TNumber:     tn,
		Title:       title,
		Description: description,
		Status:      status,
		Tags:        merged,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		Blocking:    []string{},
		BlockedBy:   []string{},
		Comments:    []Comment{},
	}
	if err := s.writeTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// Get returns the task identified by the given T-number in any accepted
// syntax ("T001", "T1", "1").
func (s *Store) Get(raw string) (*Task, error) {
	tn, _, err := ParseTNumber(raw)
	if err != nil {
		return nil, cwerr.Validation(nil, "%s", err.Error())
	}
	return s.readTaskLocked(tn)
}

// UpdateFields holds the optional fields a caller may change via Update.
// A nil pointer means "leave unchanged"; Owner uses the sentinel "none" to
// clear, matching the original CLI's convention.
type UpdateFields struct {
	Status      *string
	Title       *string
	Description *string
	Tags        []string
	Priority    *string
	Stage       *string
	Owner       *string
}

// Update applies the given fields to a task and returns the names actually
// changed. Returns a validation error if nothing was provided.
func (s *Store) Update(raw string, fields UpdateFields) (*Task, []string, error) {
	tn, _, err := ParseTNumber(raw)
	if err != nil {
		return nil, nil, cwerr.Validation(nil, "%s", err.Error())
	}

	release, err := lock.Acquire(s.taskLockPath(tn))
	if err != nil {
		return nil, nil, fmt.Errorf("locking task %s: %w", tn, err)
	}
	defer release()

	task, err := s.readTaskFile(tn)
	if err != nil {
		return nil, nil, err
	}

	var updated []string
	if fields.Status != nil {
		st, ok := NormalizeStatus(*fields.Status)
		if !ok {
			return nil, nil, cwerr.Validation(AllStatuses, "unknown status %q", *fields.Status)
		}
		task.Status = st
		updated = append(updated, "status")
	}
	if fields.Title != nil {
		task.Title = *fields.Title
		updated = append(updated, "title")
	}
	if fields.Description != nil {
		task.Description = *fields.Description
		updated = append(updated, "description")
	}
	if len(fields.Tags) > 0 {
		for _, tag := range fields.Tags {
			task.Tags = addUnique(task.Tags, tag)
		}
		updated = append(updated, "tags")
	}
	if fields.Priority != nil {
		task.Priority = *fields.Priority
		updated = append(updated, "priority")
	}
	if fields.Stage != nil {
		task.Stage = *fields.Stage
		updated = append(updated, "stage")
	}
	if fields.Owner != nil {
		if *fields.Owner == "none" {
			task.Owner = ""
		} else {
			task.Owner = *fields.Owner
		}
		updated = append(updated, "owner")
	}

	if len(updated) == 0 {
		return nil, nil, cwerr.Validation(
			[]string{"status", "title", "description", "tags", "stage", "owner"},
			"no fields to update",
		)
	}

	task.UpdatedAt = nowISO()
	if err := util.WriteJSONAtomic(s.taskPath(tn), task, 0o644); err != nil {
		return nil, nil, err
	}
	return task, updated, nil
}

// Close marks a task closed and stamps completed_at.
func (s *Store) Close(raw string) (*Task, error) {
	tn, _, err := ParseTNumber(raw)
	if err != nil {
		return nil, cwerr.Validation(nil, "%s", err.Error())
	}
	release, err := lock.Acquire(s.taskLockPath(tn))
	if err != nil {
		return nil, err
	}
	defer release()

	task, err := s.readTaskFile(tn)
	if err != nil {
		return nil, err
	}
	task.Status = StatusClosed
	task.CompletedAt = nowISO()
	task.UpdatedAt = task.CompletedAt
	if err := util.WriteJSONAtomic(s.taskPath(tn), task, 0o644); err != nil {
		return nil, err
	}
	return task, nil
}

// Reopen clears completed_at and sets status (default in_progress).
func (s *Store) Reopen(raw, status string) (*Task, error) {
	tn, _, err := ParseTNumber(raw)
	if err != nil {
		return nil, cwerr.Validation(nil, "%s", err.Error())
	}
	release, err := lock.Acquire(s.taskLockPath(tn))
	if err != nil {
		return nil, err
	}
	defer release()

	task, err := s.readTaskFile(tn)
	if err != nil {
		return nil, err
	}
	target := StatusInProgress
	if status != "" {
		st, ok := NormalizeStatus(status)
		if !ok {
			return nil, cwerr.Validation(AllStatuses, "unknown status %q", status)
		}
		target = st
	}
	task.Status = target
	task.CompletedAt = ""
	task.UpdatedAt = nowISO()
	if err := util.WriteJSONAtomic(s.taskPath(tn), task, 0o644); err != nil {
		return nil, err
	}
	return task, nil
}

// AddBlocking records that blocker blocks blocked: blocker.blocking gains
// blocked, and blocked.blocked_by gains blocker. The two writes happen under
// separate per-task locks; this is safe because both lists are idempotent
// sets and callers must not hold other locks across this call.
func (s *Store) AddBlocking(blockerRaw, blockedRaw string) error {
	blocker, _, err := ParseTNumber(blockerRaw)
	if err != nil {
		return cwerr.Validation(nil, "%s", err.Error())
	}
	blocked, _, err := ParseTNumber(blockedRaw)
	if err != nil {
		return cwerr.Validation(nil, "%s", err.Error())
	}

	if err := s.mutate(blocker, func(t *Task) { t.Blocking = addUnique(t.Blocking, blocked) }); err != nil {
		return err
	}
	return s.mutate(blocked, func(t *Task) { t.BlockedBy = addUnique(t.BlockedBy, blocker) })
}

func (s *Store) mutate(tn string, fn func(*Task)) error {
	release, err := lock.Acquire(s.taskLockPath(tn))
	if err != nil {
		return err
	}
	defer release()

	task, err := s.readTaskFile(tn)
	if err != nil {
		return err
	}
	fn(task)
	task.UpdatedAt = nowISO()
	return util.WriteJSONAtomic(s.taskPath(tn), task, 0o644)
}

// Comment appends a comment with a monotonically increasing per-task ID.
func (s *Store) Comment(raw, content, prefix string) (*Task, int, error) {
	tn, _, err := ParseTNumber(raw)
	if err != nil {
		return nil, 0, cwerr.Validation(nil, "%s", err.Error())
	}
	release, err := lock.Acquire(s.taskLockPath(tn))
	if err != nil {
		return nil, 0, err
	}
	defer release()

	task, err := s.readTaskFile(tn)
	if err != nil {
		return nil, 0, err
	}
	id := len(task.Comments) + 1
	c := Comment{ID: id, Content: content, CreatedAt: nowISO()}
	if prefix != "" {
		c.Prefix = strings.ToUpper(prefix)
	}
	task.Comments = append(task.Comments, c)
	task.UpdatedAt = nowISO()
	if err := util.WriteJSONAtomic(s.taskPath(tn), task, 0o644); err != nil {
		return nil, 0, err
	}
	return task, id, nil
}

// Comments returns a task's comments, optionally filtered by prefix. The
// legacy "[PREFIX] ..." content convention is matched in addition to the
// structured prefix field, mirroring the original's dual check.
func (s *Store) Comments(raw, prefix string) (*Task, []Comment, error) {
	task, err := s.Get(raw)
	if err != nil {
		return nil, nil, err
	}
	if prefix == "" {
		return task, task.Comments, nil
	}
	want := strings.ToUpper(prefix)
	var out []Comment
	for _, c := range task.Comments {
		if c.Prefix == want || hasLegacyPrefix(c.Content, want) {
			out = append(out, c)
		}
	}
	return task, out, nil
}

func hasLegacyPrefix(content, prefix string) bool {
	bracket := "[" + prefix + "]"
	return len(content) >= len(bracket) && content[:len(bracket)] == bracket
}

// Assign sets assigned_to.
func (s *Store) Assign(raw, user string) (*Task, error) {
	tn, _, err := ParseTNumber(raw)
	if err != nil {
		return nil, cwerr.Validation(nil, "%s", err.Error())
	}
	var out *Task
	err = s.mutate(tn, func(t *Task) { t.AssignedTo = user; out = t })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// All reads every task file in the store, skipping unparsable files (a
// malformed task file is treated as absent, per spec §7).
func (s *Store) All() ([]*Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tasks []*Task
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) < 6 || name[0] != 'T' {
			continue
		}
		if filepath.Ext(name) != ".json" {
			continue
		}
		tn := name[:len(name)-len(".json")]
		t, err := s.readTaskFile(tn)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Search returns tasks whose tags intersect the given set.
func (s *Store) Search(tags []string) ([]*Task, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, t := range tags {
		want[t] = true
	}
	var out []*Task
	for _, t := range all {
		for _, tag := range t.Tags {
			if want[tag] {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// DAGNode is one entry in a walk_dag result.
type DAGNode struct {
	TNumber   string   `json:"t_number"`
	Title     string   `json:"title"`
	Status    Status   `json:"status"`
	Blocks    []string `json:"blocks"`
	BlockedBy []string `json:"blocked_by"`
}

// WalkDAG performs a BFS from root following the requested direction,
// deduplicating via a visited set and honoring an optional max depth.
// direct_only restricts the result to the root and its immediate neighbors.
func (s *Store) WalkDAG(rootRaw string, direction Direction, maxDepth int, directOnly bool) ([]DAGNode, error) {
	root, _, err := ParseTNumber(rootRaw)
	if err != nil {
		return nil, cwerr.Validation(nil, "%s", err.Error())
	}
	rootTask, err := s.readTaskLocked(root)
	if err != nil {
		return nil, err
	}

	related := rootTask.Blocking
	if direction == DirectionDependencies {
		related = rootTask.BlockedBy
	}

	if directOnly {
		nodes := []DAGNode{toNode(root, rootTask)}
		for _, rel := range related {
			t, err := s.readTaskLocked(rel)
			if err != nil {
				continue
			}
			nodes = append(nodes, DAGNode{TNumber: rel, Title: t.Title, Status: t.Status})
		}
		return nodes, nil
	}

	visited := map[string]bool{}
	type item struct {
		tn    string
		depth int
	}
	queue := []item{{root, 0}}
	var nodes []DAGNode
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.tn] {
			continue
		}
		if maxDepth > 0 && cur.depth > maxDepth {
			continue
		}
		visited[cur.tn] = true

		t, err := s.readTaskLocked(cur.tn)
		if err != nil {
			continue
		}
		nodes = append(nodes, toNode(cur.tn, t))

		next := t.Blocking
		if direction == DirectionDependencies {
			next = t.BlockedBy
		}
		for _, rel := range next {
			if !visited[rel] {
				queue = append(queue, item{rel, cur.depth + 1})
			}
		}
	}
	return nodes, nil
}

func toNode(tn string, t *Task) DAGNode {
	return DAGNode{TNumber: tn, Title: t.Title, Status: t.Status, Blocks: t.Blocking, BlockedBy: t.BlockedBy}
}

// ListDependents returns the tasks this one blocks.
func (s *Store) ListDependents(raw string) ([]DAGNode, error) {
	task, err := s.Get(raw)
	if err != nil {
		return nil, err
	}
	return s.resolveList(task.Blocking)
}

// ListDependencies returns the tasks blocking this one.
func (s *Store) ListDependencies(raw string) ([]DAGNode, error) {
	task, err := s.Get(raw)
	if err != nil {
		return nil, err
	}
	return s.resolveList(task.BlockedBy)
}

func (s *Store) resolveList(tns []string) ([]DAGNode, error) {
	var out []DAGNode
	for _, tn := range tns {
		t, err := s.readTaskLocked(tn)
		if err != nil {
			continue
		}
		out = append(out, DAGNode{TNumber: tn, Title: t.Title, Status: t.Status})
	}
	return out, nil
}
