package cmd

import (
	"github.com/spf13/cobra"

	"github.com/clawtown/clawtown/internal/cwerr"
	"github.com/clawtown/clawtown/internal/taskgraph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect and mutate the locked tasks.json task graph document",
	RunE:  requireSubcommand,
}

var graphShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current tasks.json document",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		doc, err := ctx.Graph.Load()
		if err != nil {
			return err
		}
		return printJSON(doc)
	},
}

var (
	graphInitRootTask   string
	graphInitWorkingDir string
	graphInitGSDURL     string
	graphInitGSDProject string
)

var graphInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize (or backfill) a project's tasks.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		doc, err := ctx.Graph.Initialize(graphInitRootTask, graphInitWorkingDir, graphInitGSDURL, graphInitGSDProject)
		if err != nil {
			return err
		}
		return printJSON(doc)
	},
}

var (
	graphAddTitle     string
	graphAddBlockedBy string
	graphAddStatus    string
	graphAddCreatedBy string
)

var graphAddCmd = &cobra.Command{
	Use:   "add <T>",
	Short: "Insert a known_tasks entry directly (admin operation)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		status := taskgraph.OperationalStatus(graphAddStatus)
		if status == "" {
			status = taskgraph.StatusPending
		}
		createdBy := taskgraph.CreatedBy(graphAddCreatedBy)
		if createdBy == "" {
			createdBy = taskgraph.CreatedByHuman
		}
		if err := ctx.Graph.AddTask(args[0], graphAddTitle, splitCSV(graphAddBlockedBy), status, createdBy); err != nil {
			return err
		}
		doc, err := ctx.Graph.Load()
		if err != nil {
			return err
		}
		return printJSON(doc.KnownTasks[args[0]])
	},
}

var (
	graphCreateTitle       string
	graphCreateDescription string
	graphCreateBlockedBy   string
	graphCreateBlocking    string
	graphCreateName        string
	graphCreateTags        string
)

var graphCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task and wire it into the graph in one step",
	RunE: func(cmd *cobra.Command, args []string) error {
		if graphCreateTitle == "" {
			return cwerr.Validation(nil, "--title is required")
		}
		ctx := newAppContext()
		deps := taskgraph.CreateDeps{
			Create: func(title, description string, tags []string) (string, error) {
				task, err := ctx.Store.Create(title, description, tags, "", "")
				if err != nil {
					return "", err
				}
				return task.TNumber, nil
			},
			AddBlocking: ctx.Store.AddBlocking,
		}
		tn, warnings, err := ctx.Graph.CreateTaskFull(deps, ctx.Project, graphCreateTitle, graphCreateDescription,
			splitCSV(graphCreateBlockedBy), splitCSV(graphCreateBlocking), graphCreateName, splitCSV(graphCreateTags))
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"t_number": tn, "warnings": warnings})
	},
}

var (
	graphUpdateAgentWindow string
	graphUpdateName        string
	graphUpdateStatus      string
)

var graphUpdateCmd = &cobra.Command{
	Use:   "update <T>",
	Short: "Update a known_tasks entry's operational fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		var agentWindow, name *string
		if cmd.Flags().Changed("agent-window") {
			agentWindow = &graphUpdateAgentWindow
		}
		if cmd.Flags().Changed("name") {
			name = &graphUpdateName
		}
		found, err := ctx.Graph.UpdateAgent(args[0], agentWindow, name, taskgraph.OperationalStatus(graphUpdateStatus))
		if err != nil {
			return err
		}
		if !found {
			return cwerr.NotFound("task %s not found in tasks.json", args[0])
		}
		doc, err := ctx.Graph.Load()
		if err != nil {
			return err
		}
		return printJSON(doc.KnownTasks[args[0]])
	},
}

var (
	graphSyncCacheTitle     string
	graphSyncCacheStatus    string
	graphSyncCacheBlockedBy string
)

var graphSyncCacheCmd = &cobra.Command{
	Use:   "sync-cache <T>",
	Short: "Overwrite a known_tasks entry's cached fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		var title, status *string
		if cmd.Flags().Changed("title") {
			title = &graphSyncCacheTitle
		}
		if cmd.Flags().Changed("status") {
			status = &graphSyncCacheStatus
		}
		var blockedBy []string
		if cmd.Flags().Changed("blocked-by") {
			blockedBy = splitCSV(graphSyncCacheBlockedBy)
			if blockedBy == nil {
				blockedBy = []string{}
			}
		}
		found, err := ctx.Graph.UpdateCachedFields(args[0], title, status, blockedBy)
		if err != nil {
			return err
		}
		if !found {
			return cwerr.NotFound("task %s not found in tasks.json", args[0])
		}
		doc, err := ctx.Graph.Load()
		if err != nil {
			return err
		}
		return printJSON(doc.KnownTasks[args[0]])
	},
}

var graphRemoveCmd = &cobra.Command{
	Use:   "remove <T>",
	Short: "Remove a known_tasks entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		found, err := ctx.Graph.RemoveTask(args[0])
		if err != nil {
			return err
		}
		if !found {
			return cwerr.NotFound("task %s not found in tasks.json", args[0])
		}
		return printJSON(map[string]string{"removed": args[0]})
	},
}

var graphPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List known_tasks entries with operational status pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listByStatus(taskgraph.StatusPending)
	},
}

var graphWorkingCmd = &cobra.Command{
	Use:   "working",
	Short: "List known_tasks entries with operational status working",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listByStatus(taskgraph.StatusWorking)
	},
}

func listByStatus(status taskgraph.OperationalStatus) error {
	ctx := newAppContext()
	doc, err := ctx.Graph.Load()
	if err != nil {
		return err
	}
	out := map[string]*taskgraph.Entry{}
	for tn, entry := range doc.KnownTasks {
		if entry.Status == status {
			out[tn] = entry
		}
	}
	return printJSON(out)
}

func init() {
	graphInitCmd.Flags().StringVar(&graphInitRootTask, "root-task", "", "root T-number")
	graphInitCmd.Flags().StringVar(&graphInitWorkingDir, "working-dir", "", "working directory agents are spawned into")
	graphInitCmd.Flags().StringVar(&graphInitGSDURL, "gsd-url", "", "remote tracker URL (stub)")
	graphInitCmd.Flags().StringVar(&graphInitGSDProject, "gsd-project-id", "", "remote tracker project id (stub)")

	graphAddCmd.Flags().StringVar(&graphAddTitle, "title", "", "cached title")
	graphAddCmd.Flags().StringVar(&graphAddBlockedBy, "blocked-by", "", "comma-separated T-numbers")
	graphAddCmd.Flags().StringVar(&graphAddStatus, "status", "", "operational status")
	graphAddCmd.Flags().StringVar(&graphAddCreatedBy, "created-by", "", "claw-town|human")

	graphCreateCmd.Flags().StringVar(&graphCreateTitle, "title", "", "task title")
	graphCreateCmd.Flags().StringVar(&graphCreateDescription, "description", "", "task description")
	graphCreateCmd.Flags().StringVar(&graphCreateBlockedBy, "blocked-by", "", "comma-separated T-numbers that block the new task")
	graphCreateCmd.Flags().StringVar(&graphCreateBlocking, "blocking", "", "comma-separated T-numbers the new task blocks")
	graphCreateCmd.Flags().StringVar(&graphCreateName, "name", "", "assigned agent name")
	graphCreateCmd.Flags().StringVar(&graphCreateTags, "tags", "", "comma-separated extra tags")

	graphUpdateCmd.Flags().StringVar(&graphUpdateAgentWindow, "agent-window", "", "tmux window target")
	graphUpdateCmd.Flags().StringVar(&graphUpdateName, "name", "", "assigned agent name")
	graphUpdateCmd.Flags().StringVar(&graphUpdateStatus, "status", "", "operational status")

	graphSyncCacheCmd.Flags().StringVar(&graphSyncCacheTitle, "title", "", "cached title")
	graphSyncCacheCmd.Flags().StringVar(&graphSyncCacheStatus, "status", "", "cached status")
	graphSyncCacheCmd.Flags().StringVar(&graphSyncCacheBlockedBy, "blocked-by", "", "comma-separated T-numbers")

	graphCmd.AddCommand(graphShowCmd, graphInitCmd, graphAddCmd, graphCreateCmd, graphUpdateCmd,
		graphSyncCacheCmd, graphRemoveCmd, graphPendingCmd, graphWorkingCmd)
	rootCmd.AddCommand(graphCmd)
}
