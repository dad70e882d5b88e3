// Package taskgraph implements the locked, atomic tasks.json document: a
// mix of cached remote-sourced fields and supervisor-owned operational
// fields, with one-way schema migration applied on every load. Grounded on
// claw_town_tasks_json.py.
package taskgraph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/clawtown/clawtown/internal/lock"
	"github.com/clawtown/clawtown/internal/util"
)

// OperationalStatus is the task-graph's own status vocabulary — distinct
// from taskstore.Status and pipeline stage, per the spec's three-vocabulary
// rule.
type OperationalStatus string

const (
	StatusOrchestrator OperationalStatus = "orchestrator"
	StatusWorking      OperationalStatus = "working"
	StatusIdle         OperationalStatus = "idle"
	StatusStuck        OperationalStatus = "stuck"
	StatusPending      OperationalStatus = "pending"
	StatusCompleted    OperationalStatus = "completed"
)

// ValidStatuses lists every known operational status.
var ValidStatuses = []string{
	string(StatusOrchestrator), string(StatusWorking), string(StatusIdle),
	string(StatusStuck), string(StatusPending), string(StatusCompleted),
}

func isValidStatus(s string) bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CreatedBy records who caused a known_tasks entry to be added.
type CreatedBy string

const (
	CreatedByClawTown CreatedBy = "claw-town"
	CreatedByHuman    CreatedBy = "human"
)

// Entry is one known_tasks value: cached fields (source of truth is the
// task store) plus operational fields (supervisor-owned).
type Entry struct {
	// Cached
	Title      *string  `json:"title"`
	BlockedBy  []string `json:"blocked_by"`
	LastSynced *string  `json:"last_synced"`
	// Operational
	Status      OperationalStatus `json:"status"`
	Name        *string           `json:"name"`
	AgentWindow *string           `json:"agent_window"`
	CreatedBy   CreatedBy         `json:"created_by"`
}

// Document is the full tasks.json shape.
type Document struct {
	Project       string           `json:"project"`
	RootTask      *string          `json:"root_task"`
	WorkingDir    *string          `json:"working_dir"`
	GSDURL        *string          `json:"gsd_url"`
	GSDProjectID  *string          `json:"gsd_project_id"`
	KnownTasks    map[string]*Entry `json:"known_tasks"`
	LastDAGWalk   *string          `json:"last_dag_walk"`
	LastGSDPoll   *string          `json:"last_gsd_poll"`
}

func emptyDocument(project string) *Document {
	return &Document{Project: project, KnownTasks: map[string]*Entry{}}
}

// Graph is a locked, file-backed tasks.json accessor rooted at a project's
// state directory.
type Graph struct {
	path     string
	lockPath string
	project  string
}

// New returns a Graph rooted at <stateDir>/tasks.json.
func New(stateDir, project string) *Graph {
	return &Graph{
		path:     filepath.Join(stateDir, "tasks.json"),
		lockPath: filepath.Join(stateDir, ".tasks.json.lock"),
		project:  project,
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func strp(s string) *string { return &s }

// rawDoc is used during migration since legacy documents may carry fields
// (numeric-ID known_tasks keys, a top-level "tasks" array, renamed entry
// fields) the Document struct no longer models directly.
type rawDoc struct {
	Project      string                     `json:"project"`
	RootTask     *string                    `json:"root_task"`
	WorkingDir   *string                    `json:"working_dir"`
	GSDURL       *string                    `json:"gsd_url"`
	GSDProjectID *string                    `json:"gsd_project_id"`
	KnownTasks   map[string]json.RawMessage `json:"known_tasks"`
	Tasks        []json.RawMessage          `json:"tasks"`
	LastDAGWalk  *string                    `json:"last_dag_walk"`
	LastGSDPoll  *string                    `json:"last_gsd_poll"`
}

type rawEntry map[string]json.RawMessage

func decodeRawEntry(raw json.RawMessage) rawEntry {
	var m rawEntry
	_ = json.Unmarshal(raw, &m)
	if m == nil {
		m = rawEntry{}
	}
	return m
}

func (e rawEntry) str(key string) (string, bool) {
	v, ok := e[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func (e rawEntry) strList(key string) []string {
	v, ok := e[key]
	if !ok {
		return nil
	}
	var s []string
	_ = json.Unmarshal(v, &s)
	return s
}

// migrateEntry applies field renames and defaults to a single known_tasks
// value: window->agent_window, state/agent_state->status, drop agent.
func migrateEntry(raw rawEntry) *Entry {
	status, hasStatus := raw.str("status")
	if !hasStatus {
		if s, ok := raw.str("agent_state"); ok {
			status, hasStatus = s, true
		} else if s, ok := raw.str("state"); ok {
			status, hasStatus = s, true
		}
	}
	if !hasStatus || !isValidStatus(status) {
		status = string(StatusPending)
	}

	agentWindow, hasWindow := raw.str("agent_window")
	if !hasWindow {
		if w, ok := raw.str("window"); ok {
			agentWindow, hasWindow = w, true
		}
	}

	createdBy, ok := raw.str("created_by")
	if !ok || (createdBy != string(CreatedByHuman) && createdBy != string(CreatedByClawTown)) {
		createdBy = string(CreatedByClawTown)
	}

	e := &Entry{
		BlockedBy: raw.strList("blocked_by"),
		Status:    OperationalStatus(status),
		CreatedBy: CreatedBy(createdBy),
	}
	if title, ok := raw.str("title"); ok {
		e.Title = strp(title)
	}
	if name, ok := raw.str("name"); ok {
		e.Name = strp(name)
	}
	if hasWindow {
		e.AgentWindow = strp(agentWindow)
	}
	if ls, ok := raw.str("last_synced"); ok {
		e.LastSynced = strp(ls)
	}
	if e.BlockedBy == nil {
		e.BlockedBy = []string{}
	}
	return e
}

// migrate normalizes a raw document in memory: renames fields, re-keys
// numeric-ID entries to their discoverable T-number (dropping those
// without one), and promotes a legacy top-level tasks[] array. Idempotent:
// migrating an already-normalized document is a no-op.
func migrate(raw *rawDoc) *Document {
	doc := &Document{
		Project:      raw.Project,
		RootTask:     raw.RootTask,
		WorkingDir:   raw.WorkingDir,
		GSDURL:       raw.GSDURL,
		GSDProjectID: raw.GSDProjectID,
		LastDAGWalk:  raw.LastDAGWalk,
		LastGSDPoll:  raw.LastGSDPoll,
		KnownTasks:   map[string]*Entry{},
	}
	if doc.Project == "" {
		doc.Project = "unknown"
	}

	for key, rawVal := range raw.KnownTasks {
		entry := decodeRawEntry(rawVal)
		if len(key) > 0 && key[0] == 'T' {
			doc.KnownTasks[key] = migrateEntry(entry)
			continue
		}
		tn, ok := entry.str("t_number")
		if !ok {
			tn, ok = entry.str("task_number")
		}
		if ok && len(tn) > 0 && tn[0] == 'T' {
			doc.KnownTasks[tn] = migrateEntry(entry)
		}
		// else: dropped — no discoverable T-number, per spec open question #2.
	}

	for _, rawVal := range raw.Tasks {
		entry := decodeRawEntry(rawVal)
		tn, ok := entry.str("t_number")
		if !ok {
			tn, ok = entry.str("task_number")
		}
		if !ok {
			if id, ok2 := entry.str("id"); ok2 && len(id) > 0 && id[0] == 'T' {
				tn, ok = id, true
			}
		}
		if ok {
			if _, exists := doc.KnownTasks[tn]; !exists {
				doc.KnownTasks[tn] = migrateEntry(entry)
			}
		}
	}

	return doc
}

// Load reads tasks.json, migrating any legacy schema in memory. Returns an
// empty document if the file is absent.
func (g *Graph) Load() (*Document, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(g.project), nil
		}
		return nil, err
	}
	var raw rawDoc
	if err := json.Unmarshal(data, &raw); err != nil {
		// Malformed JSON on any state file is treated as empty/absent
		// per spec §7; the next Save replaces it with the normalized form.
		return emptyDocument(g.project), nil
	}
	return migrate(&raw), nil
}

// Save writes doc atomically, serialized by the graph lock.
func (g *Graph) Save(doc *Document) error {
	release, err := lock.Acquire(g.lockPath)
	if err != nil {
		return err
	}
	defer release()
	return util.WriteJSONAtomic(g.path, doc, 0o644)
}

// LockedUpdate loads, passes the document to fn for in-place mutation, and
// saves the result — all under a single exclusive lock acquisition, with
// guaranteed release on every exit path including a panic in fn.
func (g *Graph) LockedUpdate(fn func(*Document)) error {
	release, err := lock.Acquire(g.lockPath)
	if err != nil {
		return err
	}
	defer release()

	data, err := os.ReadFile(g.path)
	var doc *Document
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		doc = emptyDocument(g.project)
	} else {
		var raw rawDoc
		if err := json.Unmarshal(data, &raw); err != nil {
			doc = emptyDocument(g.project)
		} else {
			doc = migrate(&raw)
		}
	}

	fn(doc)

	return util.WriteJSONAtomic(g.path, doc, 0o644)
}

// AddTask inserts a new known_tasks entry with operational fields. No-op if
// the key already exists.
func (g *Graph) AddTask(tn, title string, blockedBy []string, status OperationalStatus, createdBy CreatedBy) error {
	return g.LockedUpdate(func(d *Document) {
		if _, exists := d.KnownTasks[tn]; exists {
			return
		}
		entry := &Entry{BlockedBy: blockedBy, Status: status, CreatedBy: createdBy}
		if blockedBy == nil {
			entry.BlockedBy = []string{}
		}
		if title != "" {
			entry.Title = strp(title)
		}
		d.KnownTasks[tn] = entry
	})
}

// UpdateAgent sets operational fields: agent_window, status, name. Returns
// false if the task is not present.
func (g *Graph) UpdateAgent(tn string, agentWindow, name *string, status OperationalStatus) (bool, error) {
	found := false
	err := g.LockedUpdate(func(d *Document) {
		entry, ok := d.KnownTasks[tn]
		if !ok {
			return
		}
		found = true
		if agentWindow != nil {
			entry.AgentWindow = agentWindow
		}
		if name != nil {
			entry.Name = name
		}
		if status != "" {
			entry.Status = status
		}
	})
	return found, err
}

// UpdateCachedFields overwrites title/status/blocked_by from the sync
// engine — cached fields are always overwritten without question — and
// stamps last_synced. Returns false if the task is not present.
func (g *Graph) UpdateCachedFields(tn string, title *string, status *string, blockedBy []string) (bool, error) {
	found := false
	now := nowISO()
	err := g.LockedUpdate(func(d *Document) {
		entry, ok := d.KnownTasks[tn]
		if !ok {
			return
		}
		found = true
		if title != nil {
			entry.Title = title
		}
		if status != nil {
			entry.Status = OperationalStatus(*status)
		}
		if blockedBy != nil {
			entry.BlockedBy = blockedBy
		}
		entry.LastSynced = strp(now)
	})
	return found, err
}

// RemoveTask deletes a known_tasks entry. Returns false if absent.
func (g *Graph) RemoveTask(tn string) (bool, error) {
	found := false
	err := g.LockedUpdate(func(d *Document) {
		if _, ok := d.KnownTasks[tn]; ok {
			delete(d.KnownTasks, tn)
			found = true
		}
	})
	return found, err
}

// AddBlockingRelationships appends blocker to each target's cached
// blocked_by list, skipping (and reporting) targets absent from the graph.
func (g *Graph) AddBlockingRelationships(blocker string, targets []string) ([]string, error) {
	var warnings []string
	err := g.LockedUpdate(func(d *Document) {
		for _, target := range targets {
			entry, ok := d.KnownTasks[target]
			if !ok {
				warnings = append(warnings, "target task "+target+" not found in tasks.json, skipping")
				continue
			}
			present := false
			for _, b := range entry.BlockedBy {
				if b == blocker {
					present = true
					break
				}
			}
			if !present {
				entry.BlockedBy = append(entry.BlockedBy, blocker)
			}
		}
	})
	return warnings, err
}

// SetRootTask sets the orchestration root.
func (g *Graph) SetRootTask(tn string) error {
	return g.LockedUpdate(func(d *Document) { d.RootTask = strp(tn) })
}

// SetWorkingDir sets the working directory agents are spawned into.
func (g *Graph) SetWorkingDir(dir string) error {
	return g.LockedUpdate(func(d *Document) { d.WorkingDir = strp(dir) })
}

// SetGSDConfig sets the (stubbed) remote tracker hook fields.
func (g *Graph) SetGSDConfig(url, projectID *string) error {
	return g.LockedUpdate(func(d *Document) {
		if url != nil {
			d.GSDURL = url
		}
		if projectID != nil {
			d.GSDProjectID = projectID
		}
	})
}

// UpdateDAGWalkTimestamp records that a DAG walk just completed.
func (g *Graph) UpdateDAGWalkTimestamp() error {
	now := nowISO()
	return g.LockedUpdate(func(d *Document) { d.LastDAGWalk = strp(now) })
}

// Initialize creates a fresh tasks.json (or backfills missing metadata on
// an existing one) and returns the resulting document.
func (g *Graph) Initialize(rootTask, workingDir, gsdURL, gsdProjectID string) (*Document, error) {
	existing, err := os.Stat(g.path)
	if err == nil && existing != nil {
		doc, err := g.Load()
		if err != nil {
			return nil, err
		}
		changed := false
		if rootTask != "" && (doc.RootTask == nil || *doc.RootTask == "") {
			doc.RootTask = strp(rootTask)
			changed = true
		}
		if workingDir != "" && (doc.WorkingDir == nil || *doc.WorkingDir == "") {
			doc.WorkingDir = strp(workingDir)
			changed = true
		}
		if gsdURL != "" && (doc.GSDURL == nil || *doc.GSDURL == "") {
			doc.GSDURL = strp(gsdURL)
			changed = true
		}
		if gsdProjectID != "" && (doc.GSDProjectID == nil || *doc.GSDProjectID == "") {
			doc.GSDProjectID = strp(gsdProjectID)
			changed = true
		}
		if changed {
			if err := g.Save(doc); err != nil {
				return nil, err
			}
		}
		return doc, nil
	}

	doc := emptyDocument(g.project)
	if rootTask != "" {
		doc.RootTask = strp(rootTask)
	}
	if workingDir != "" {
		doc.WorkingDir = strp(workingDir)
	}
	if gsdURL != "" {
		doc.GSDURL = strp(gsdURL)
	}
	if gsdProjectID != "" {
		doc.GSDProjectID = strp(gsdProjectID)
	}
	if rootTask != "" {
		doc.KnownTasks[rootTask] = &Entry{
			BlockedBy:   []string{},
			Status:      StatusOrchestrator,
			AgentWindow: strp("claw-town-" + g.project + ":orchestrator"),
			CreatedBy:   CreatedByClawTown,
		}
	}
	if err := g.Save(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateTaskFull runs the full task-creation flow described in spec §4.3:
// create via the task store, wire blocking relationships both directions,
// and insert the cache/operational entry into the graph. The taskstore and
// blocking-link calls are injected so this package has no import cycle on
// taskstore.
type CreateDeps struct {
	Create      func(title, description string, tags []string) (tnumber string, err error)
	AddBlocking func(blocker, blocked string) error
}

// CreateTaskFull mirrors create_task_full in claw_town_tasks_json.py.
func (g *Graph) CreateTaskFull(deps CreateDeps, project, title, description string, blockedBy, blocking []string, name string, tags []string) (string, []string, error) {
	tagSet := append([]string{"claw-town", "claw-town-" + project}, tags...)
	tn, err := deps.Create(title, description, tagSet)
	if err != nil {
		return "", nil, err
	}

	var warnings []string
	for _, blocker := range blockedBy {
		if blocker == "" {
			continue
		}
		if err := deps.AddBlocking(blocker, tn); err != nil {
			warnings = append(warnings, "failed to add blocking "+blocker+" -> "+tn+": "+err.Error())
		}
	}
	for _, target := range blocking {
		if target == "" {
			continue
		}
		if err := deps.AddBlocking(tn, target); err != nil {
			warnings = append(warnings, "failed to add blocking "+tn+" -> "+target+": "+err.Error())
		}
	}

	status := StatusPending
	var namePtr *string
	if name != "" {
		namePtr = strp(name)
	}
	if err := g.AddTask(tn, title, blockedBy, status, CreatedByClawTown); err != nil {
		return tn, warnings, err
	}
	if namePtr != nil {
		_, _ = g.UpdateAgent(tn, nil, namePtr, "")
	}

	if len(blocking) > 0 {
		more, err := g.AddBlockingRelationships(tn, blocking)
		if err != nil {
			return tn, warnings, err
		}
		warnings = append(warnings, more...)
	}

	return tn, warnings, nil
}
