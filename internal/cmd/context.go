package cmd

import (
	"github.com/clawtown/clawtown/internal/eventlog"
	"github.com/clawtown/clawtown/internal/paths"
	"github.com/clawtown/clawtown/internal/pipeline"
	"github.com/clawtown/clawtown/internal/taskgraph"
	"github.com/clawtown/clawtown/internal/taskstore"
)

// appContext bundles the stores every command needs, all rooted at the
// current --project's resolved directories.
type appContext struct {
	Project  string
	StateDir string
	TasksDir string

	Store    *taskstore.Store
	Graph    *taskgraph.Graph
	Pipeline *pipeline.Pipeline
	EventLog *eventlog.Log
}

// newAppContext resolves --project into concrete stores. Every command's
// RunE calls this first.
func newAppContext() *appContext {
	project := projectFlag
	stateDir := paths.GetStateDir(project)
	tasksDir := paths.GetTasksDir(project)
	store := taskstore.New(tasksDir)
	return &appContext{
		Project:  project,
		StateDir: stateDir,
		TasksDir: tasksDir,
		Store:    store,
		Graph:    taskgraph.New(stateDir, project),
		Pipeline: pipeline.New(store),
		EventLog: eventlog.New(stateDir),
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
