package taskgraph

import (
	"testing"

	"github.com/clawtown/clawtown/internal/taskstore"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return New(t.TempDir(), "demo")
}

func TestInitializeCreatesRootTask(t *testing.T) {
	g := newTestGraph(t)
	doc, err := g.Initialize("T001", "/work", "", "")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if doc.RootTask == nil || *doc.RootTask != "T001" {
		t.Errorf("RootTask = %v, want T001", doc.RootTask)
	}
	entry, ok := doc.KnownTasks["T001"]
	if !ok {
		t.Fatal("expected root task entry in known_tasks")
	}
	if entry.Status != StatusOrchestrator {
		t.Errorf("root entry status = %q, want orchestrator", entry.Status)
	}
}

func TestInitializeBackfillsWithoutOverwriting(t *testing.T) {
	g := newTestGraph(t)
	if _, err := g.Initialize("T001", "", "", ""); err != nil {
		t.Fatalf("Initialize #1: %v", err)
	}
	doc, err := g.Initialize("T999", "/later", "", "")
	if err != nil {
		t.Fatalf("Initialize #2: %v", err)
	}
	if *doc.RootTask != "T001" {
		t.Errorf("RootTask = %q, want unchanged T001", *doc.RootTask)
	}
	if *doc.WorkingDir != "/later" {
		t.Errorf("WorkingDir = %q, want backfilled /later", *doc.WorkingDir)
	}
}

func TestAddTaskIsNoOpIfPresent(t *testing.T) {
	g := newTestGraph(t)
	if err := g.AddTask("T001", "first", nil, StatusPending, CreatedByHuman); err != nil {
		t.Fatalf("AddTask #1: %v", err)
	}
	if err := g.AddTask("T001", "second", nil, StatusWorking, CreatedByClawTown); err != nil {
		t.Fatalf("AddTask #2: %v", err)
	}
	doc, err := g.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry := doc.KnownTasks["T001"]
	if *entry.Title != "first" || entry.Status != StatusPending {
		t.Errorf("entry = %+v, want unchanged first insert", entry)
	}
}

func TestUpdateAgentMissingTaskReturnsFalse(t *testing.T) {
	g := newTestGraph(t)
	found, err := g.UpdateAgent("T999", nil, nil, StatusWorking)
	if err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	if found {
		t.Error("expected found=false for missing task")
	}
}

func TestUpdateAgentSetsFields(t *testing.T) {
	g := newTestGraph(t)
	if err := g.AddTask("T001", "t", nil, StatusPending, CreatedByHuman); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	window := "claw-town-demo:T001"
	name := "agent-1"
	found, err := g.UpdateAgent("T001", &window, &name, StatusWorking)
	if err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	doc, _ := g.Load()
	entry := doc.KnownTasks["T001"]
	if *entry.AgentWindow != window || *entry.Name != name || entry.Status != StatusWorking {
		t.Errorf("entry = %+v", entry)
	}
}

func TestRemoveTask(t *testing.T) {
	g := newTestGraph(t)
	if err := g.AddTask("T001", "t", nil, StatusPending, CreatedByHuman); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	found, err := g.RemoveTask("T001")
	if err != nil || !found {
		t.Fatalf("RemoveTask: found=%v err=%v", found, err)
	}
	found, err = g.RemoveTask("T001")
	if err != nil || found {
		t.Fatalf("RemoveTask again: found=%v err=%v, want false", found, err)
	}
}

func TestCreateTaskFullWiresStoreAndGraph(t *testing.T) {
	g := newTestGraph(t)
	store := taskstore.New(t.TempDir())

	blocker, err := store.Create("blocker", "", nil, "", "")
	if err != nil {
		t.Fatalf("Create blocker: %v", err)
	}
	if err := g.AddTask(blocker.TNumber, "blocker", nil, StatusPending, CreatedByHuman); err != nil {
		t.Fatalf("AddTask blocker: %v", err)
	}

	deps := CreateDeps{
		Create: func(title, description string, tags []string) (string, error) {
			task, err := store.Create(title, description, tags, "", "")
			if err != nil {
				return "", err
			}
			return task.TNumber, nil
		},
		AddBlocking: store.AddBlocking,
	}

	tn, warnings, err := g.CreateTaskFull(deps, "demo", "new task", "desc", []string{blocker.TNumber}, nil, "agent-2", nil)
	if err != nil {
		t.Fatalf("CreateTaskFull: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}

	task, err := store.Get(tn)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if len(task.BlockedBy) != 1 || task.BlockedBy[0] != blocker.TNumber {
		t.Errorf("task.BlockedBy = %v, want [%s]", task.BlockedBy, blocker.TNumber)
	}

	doc, err := g.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry, ok := doc.KnownTasks[tn]
	if !ok {
		t.Fatalf("graph missing known_tasks entry for %s", tn)
	}
	if entry.Name == nil || *entry.Name != "agent-2" {
		t.Errorf("entry.Name = %v, want agent-2", entry.Name)
	}
}

func TestCreateTaskFullWarnsOnMissingBlockingTarget(t *testing.T) {
	g := newTestGraph(t)
	store := taskstore.New(t.TempDir())

	deps := CreateDeps{
		Create: func(title, description string, tags []string) (string, error) {
			task, err := store.Create(title, description, tags, "", "")
			if err != nil {
				return "", err
			}
			return task.TNumber, nil
		},
		AddBlocking: store.AddBlocking,
	}

	_, warnings, err := g.CreateTaskFull(deps, "demo", "t", "", []string{"T999"}, nil, "", nil)
	if err != nil {
		t.Fatalf("CreateTaskFull: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one for the missing blocker", warnings)
	}
}
