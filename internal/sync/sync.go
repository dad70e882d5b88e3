// Package sync implements the local, file-based discovery loop: it reads
// every task file directly from the task store, diffs the result against
// the task graph's cached view, and writes the changes back. No remote API
// calls are made anywhere in this package. Grounded on claw_town_sync.go.
package sync

import (
	"sort"
	"time"

	"github.com/clawtown/clawtown/internal/eventlog"
	"github.com/clawtown/clawtown/internal/taskgraph"
	"github.com/clawtown/clawtown/internal/taskstore"
)

// DAGMaxDepth bounds the local DAG walk, matching the original's constant.
const DAGMaxDepth = 5

// NewTaskChange describes a task discovered locally but absent from the graph.
type NewTaskChange struct {
	TNumber   string `json:"t_number"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	CreatedBy string `json:"created_by"`
}

// RemovedTaskChange describes a task present in the graph whose local file
// has disappeared.
type RemovedTaskChange struct {
	TNumber string `json:"t_number"`
	Reason  string `json:"reason"`
}

// StatusChange describes a task whose local status no longer matches the
// sync cache's last-seen value.
type StatusChange struct {
	TNumber   string `json:"t_number"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// BlockedByChange describes a task whose local blocked_by list no longer
// matches the graph's cached copy.
type BlockedByChange struct {
	TNumber      string   `json:"t_number"`
	OldBlockedBy []string `json:"old_blocked_by"`
	NewBlockedBy []string `json:"new_blocked_by"`
}

// NewlyUnblocked describes a task all of whose blockers just closed.
type NewlyUnblocked struct {
	TNumber string `json:"t_number"`
	Title   string `json:"title"`
}

// Changes is the full diff produced by one sync cycle.
type Changes struct {
	NewTasks         []NewTaskChange     `json:"new_tasks"`
	RemovedTasks     []RemovedTaskChange `json:"removed_tasks"`
	StatusChanges    []StatusChange      `json:"status_changes"`
	BlockedByChanges []BlockedByChange   `json:"blocked_by_changes"`
	NewlyUnblocked   []NewlyUnblocked    `json:"newly_unblocked"`
}

func emptyChanges() Changes {
	return Changes{
		NewTasks:         []NewTaskChange{},
		RemovedTasks:     []RemovedTaskChange{},
		StatusChanges:    []StatusChange{},
		BlockedByChanges: []BlockedByChange{},
		NewlyUnblocked:   []NewlyUnblocked{},
	}
}

func (c Changes) hasAny() bool {
	return len(c.NewTasks) > 0 || len(c.RemovedTasks) > 0 || len(c.StatusChanges) > 0 ||
		len(c.BlockedByChanges) > 0 || len(c.NewlyUnblocked) > 0
}

// Report is the structured result of one sync cycle.
type Report struct {
	Timestamp string   `json:"timestamp"`
	RootTask  string   `json:"root_task"`
	Error     string   `json:"error,omitempty"`
	Changes   Changes  `json:"changes"`
	DAGSize   int      `json:"dag_size"`
	Errors    []string `json:"errors,omitempty"`
}

// cacheEntry is the only field the sync cache persists per task.
type cacheEntry struct {
	Status string `json:"status"`
}

// Engine ties a task store, task graph, and event log together for one
// project's sync cycles.
type Engine struct {
	store *taskstore.Store
	graph *taskgraph.Graph
	cache *cacheStore
	log   *eventlog.Log
}

// New returns an Engine. cachePath is typically <state_dir>/.sync_cache.json.
func New(store *taskstore.Store, graph *taskgraph.Graph, cachePath string, log *eventlog.Log) *Engine {
	return &Engine{store: store, graph: graph, cache: newCacheStore(cachePath), log: log}
}

// Run executes one sync cycle: read every local task file, diff against the
// graph's known_tasks and the sync cache, write the resulting changes back
// into the graph, persist the new cache, and log the outcome.
func (e *Engine) Run() (Report, error) {
	ts := time.Now().UTC().Format(time.RFC3339)

	doc, err := e.graph.Load()
	if err != nil {
		return Report{}, err
	}
	if doc.RootTask == nil || *doc.RootTask == "" {
		return Report{
			Timestamp: ts,
			Changes:   emptyChanges(),
			Error:     "No root_task configured in tasks.json",
		}, nil
	}
	rootTask := *doc.RootTask

	cache, err := e.cache.load()
	if err != nil {
		cache = map[string]cacheEntry{}
	}

	localTasks, err := e.store.All()
	if err != nil {
		return Report{}, err
	}
	localByT := map[string]*taskstore.Task{}
	for _, t := range localTasks {
		localByT[t.TNumber] = t
	}

	changes := emptyChanges()

	knownSet := map[string]bool{}
	for tn := range doc.KnownTasks {
		knownSet[tn] = true
	}
	localSet := map[string]bool{}
	for tn := range localByT {
		localSet[tn] = true
	}

	var newT []string
	for tn := range localSet {
		if !knownSet[tn] {
			newT = append(newT, tn)
		}
	}
	sort.Strings(newT)
	for _, tn := range newT {
		t := localByT[tn]
		changes.NewTasks = append(changes.NewTasks, NewTaskChange{
			TNumber: tn, Title: t.Title, Source: "local", CreatedBy: "human",
		})
	}

	var removedT []string
	for tn := range knownSet {
		if !localSet[tn] && tn != rootTask {
			removedT = append(removedT, tn)
		}
	}
	sort.Strings(removedT)
	for _, tn := range removedT {
		if _, ok := cache[tn]; ok {
			changes.RemovedTasks = append(changes.RemovedTasks, RemovedTaskChange{TNumber: tn, Reason: "file_deleted"})
		}
	}

	var toCheck []string
	for tn := range knownSet {
		if localSet[tn] {
			toCheck = append(toCheck, tn)
		}
	}
	sort.Strings(toCheck)

	closed := map[string]bool{}
	for _, tn := range toCheck {
		cached, hasCached := cache[tn]
		oldStatus := cached.Status
		currentStatus := string(localByT[tn].Status)

		if currentStatus != "" && oldStatus != "" && currentStatus != oldStatus {
			changes.StatusChanges = append(changes.StatusChanges, StatusChange{
				TNumber: tn, OldStatus: oldStatus, NewStatus: currentStatus,
			})
			if currentStatus == string(taskstore.StatusClosed) {
				closed[tn] = true
			}
		}

		if currentStatus == string(taskstore.StatusClosed) && (!hasCached || oldStatus == "") {
			if entry := doc.KnownTasks[tn]; entry == nil || entry.Status != taskgraph.StatusCompleted {
				closed[tn] = true
			}
		}

		remoteBlockedBy := sortedCopy(localByT[tn].BlockedBy)
		var localBlockedBy []string
		if entry := doc.KnownTasks[tn]; entry != nil {
			localBlockedBy = sortedCopy(entry.BlockedBy)
		}
		if !equalStrings(remoteBlockedBy, localBlockedBy) {
			changes.BlockedByChanges = append(changes.BlockedByChanges, BlockedByChange{
				TNumber: tn, OldBlockedBy: localBlockedBy, NewBlockedBy: remoteBlockedBy,
			})
		}
	}

	var remaining []string
	for tn := range localSet {
		if !closed[tn] {
			remaining = append(remaining, tn)
		}
	}
	sort.Strings(remaining)
	for _, tn := range remaining {
		t := localByT[tn]
		if len(t.BlockedBy) == 0 {
			continue
		}
		allClosed := true
		hasNewlyClosed := false
		for _, blocker := range t.BlockedBy {
			bt, ok := localByT[blocker]
			if !ok || bt.Status != taskstore.StatusClosed {
				allClosed = false
				break
			}
			if closed[blocker] {
				hasNewlyClosed = true
			}
		}
		if allClosed && hasNewlyClosed {
			changes.NewlyUnblocked = append(changes.NewlyUnblocked, NewlyUnblocked{TNumber: tn, Title: t.Title})
		}
	}

	newCache := map[string]cacheEntry{}
	for tn, t := range localByT {
		newCache[tn] = cacheEntry{Status: string(t.Status)}
	}
	if err := e.cache.save(newCache); err != nil {
		return Report{}, err
	}

	for _, nt := range changes.NewTasks {
		t := localByT[nt.TNumber]
		initial := taskgraph.StatusPending
		if t.Status == taskstore.StatusClosed {
			initial = taskgraph.StatusCompleted
		}
		if err := e.graph.AddTask(nt.TNumber, nt.Title, t.BlockedBy, initial, taskgraph.CreatedByHuman); err != nil {
			return Report{}, err
		}
	}

	for tn := range closed {
		entry := doc.KnownTasks[tn]
		if entry != nil && entry.Status != taskgraph.StatusCompleted {
			completed := string(taskgraph.StatusCompleted)
			if _, err := e.graph.UpdateCachedFields(tn, nil, &completed, nil); err != nil {
				return Report{}, err
			}
		}
	}

	for _, bc := range changes.BlockedByChanges {
		if _, err := e.graph.UpdateCachedFields(bc.TNumber, nil, nil, bc.NewBlockedBy); err != nil {
			return Report{}, err
		}
	}

	for tn, t := range localByT {
		entry := doc.KnownTasks[tn]
		if entry == nil {
			continue
		}
		existingTitle := ""
		if entry.Title != nil {
			existingTitle = *entry.Title
		}
		if t.Title != "" && existingTitle != t.Title {
			title := t.Title
			if _, err := e.graph.UpdateCachedFields(tn, &title, nil, nil); err != nil {
				return Report{}, err
			}
		}
	}

	if err := e.graph.UpdateDAGWalkTimestamp(); err != nil {
		return Report{}, err
	}

	if e.log != nil {
		if changes.hasAny() {
			one, full := buildSummary(changes)
			_ = e.log.Append(eventlog.TypeTaskSync, one, full)
		} else {
			_ = e.log.Append(eventlog.TypeTaskSync, "No changes", "")
		}
	}

	return Report{
		Timestamp: ts,
		RootTask:  rootTask,
		Changes:   changes,
		DAGSize:   len(localTasks),
	}, nil
}

func sortedCopy(items []string) []string {
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
