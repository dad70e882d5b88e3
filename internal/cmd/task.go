package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/clawtown/clawtown/internal/cwerr"
	"github.com/clawtown/clawtown/internal/taskstore"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage individual tasks (create, update, comment, walk the DAG)",
	RunE:  requireSubcommand,
}

// create
var (
	taskCreateDescription string
	taskCreateTags        string
	taskCreatePriority    string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new task, allocating the next T-number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Store.Create(args[0], taskCreateDescription, splitCSV(taskCreateTags), "", taskCreatePriority)
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

// get
var taskGetCmd = &cobra.Command{
	Use:   "get <T>",
	Short: "Show a single task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Store.Get(args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

// update
var (
	taskUpdateStatus      string
	taskUpdateTitle       string
	taskUpdateDescription string
	taskUpdateTags        string
	taskUpdatePriority    string
	taskUpdateStage       string
	taskUpdateOwner       string
)

var taskUpdateCmd = &cobra.Command{
	Use:   "update <T>",
	Short: "Update one or more fields of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		fields := taskstore.UpdateFields{}
		if cmd.Flags().Changed("status") {
			fields.Status = &taskUpdateStatus
		}
		if cmd.Flags().Changed("title") {
			fields.Title = &taskUpdateTitle
		}
		if cmd.Flags().Changed("description") {
			fields.Description = &taskUpdateDescription
		}
		if taskUpdateTags != "" {
			fields.Tags = splitCSV(taskUpdateTags)
		}
		if cmd.Flags().Changed("priority") {
			fields.Priority = &taskUpdatePriority
		}
		if cmd.Flags().Changed("stage") {
			fields.Stage = &taskUpdateStage
		}
		if cmd.Flags().Changed("owner") {
			fields.Owner = &taskUpdateOwner
		}
		task, _, err := ctx.Store.Update(args[0], fields)
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

// close / reopen
var taskCloseCmd = &cobra.Command{
	Use:   "close <T>",
	Short: "Close a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Store.Close(args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var taskReopenStatus string

var taskReopenCmd = &cobra.Command{
	Use:   "reopen <T>",
	Short: "Reopen a closed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Store.Reopen(args[0], taskReopenStatus)
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

// comment / comments
var taskCommentContent string
var taskCommentPrefix string

var taskCommentCmd = &cobra.Command{
	Use:   "comment <T>",
	Short: "Append a comment to a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if taskCommentContent == "" {
			return cwerr.Validation(nil, "--content is required")
		}
		ctx := newAppContext()
		task, id, err := ctx.Store.Comment(args[0], taskCommentContent, taskCommentPrefix)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"task": task, "comment_id": id})
	},
}

var taskCommentsPrefix string

var taskCommentsCmd = &cobra.Command{
	Use:   "comments <T>",
	Short: "List a task's comments, optionally filtered by prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		_, comments, err := ctx.Store.Comments(args[0], taskCommentsPrefix)
		if err != nil {
			return err
		}
		return printJSON(comments)
	},
}

// walk-dag
var (
	walkDAGRoot       string
	walkDAGDirection  string
	walkDAGDirectOnly bool
	walkDAGMaxDepth   int
)

var taskWalkDAGCmd = &cobra.Command{
	Use:   "walk-dag",
	Short: "Walk the dependency graph from a root task",
	RunE: func(cmd *cobra.Command, args []string) error {
		if walkDAGRoot == "" {
			return cwerr.Validation(nil, "--root is required")
		}
		ctx := newAppContext()
		maxDepth := 0
		if cmd.Flags().Changed("max-depth") {
			maxDepth = walkDAGMaxDepth
		}
		direction := taskstore.Direction(walkDAGDirection)
		if direction == "" {
			direction = taskstore.DirectionDependents
		}
		nodes, err := ctx.Store.WalkDAG(walkDAGRoot, direction, maxDepth, walkDAGDirectOnly)
		if err != nil {
			return err
		}
		return printJSON(nodes)
	},
}

var taskListDependentsCmd = &cobra.Command{
	Use:   "list-dependents <T>",
	Short: "List tasks this task blocks (direct)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		nodes, err := ctx.Store.ListDependents(args[0])
		if err != nil {
			return err
		}
		return printJSON(nodes)
	},
}

var taskListDependenciesCmd = &cobra.Command{
	Use:   "list-dependencies <T>",
	Short: "List tasks blocking this task (direct)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		nodes, err := ctx.Store.ListDependencies(args[0])
		if err != nil {
			return err
		}
		return printJSON(nodes)
	},
}

// search
var taskSearchTags string

var taskSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search tasks by tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		tasks, err := ctx.Store.Search(splitCSV(taskSearchTags))
		if err != nil {
			return err
		}
		return printJSON(tasks)
	},
}

// assign
var taskAssignUser string

var taskAssignCmd = &cobra.Command{
	Use:   "assign <T>",
	Short: "Assign a task to a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if taskAssignUser == "" {
			return cwerr.Validation(nil, "--user is required")
		}
		ctx := newAppContext()
		task, err := ctx.Store.Assign(args[0], taskAssignUser)
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

// add-blocking
var (
	addBlockingBlocker string
	addBlockingBlocked string
)

var taskAddBlockingCmd = &cobra.Command{
	Use:   "add-blocking",
	Short: "Record that --blocker blocks --blocked",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addBlockingBlocker == "" || addBlockingBlocked == "" {
			return cwerr.Validation(nil, "--blocker and --blocked are required")
		}
		ctx := newAppContext()
		if err := ctx.Store.AddBlocking(addBlockingBlocker, addBlockingBlocked); err != nil {
			return err
		}
		return printJSON(map[string]string{"blocker": addBlockingBlocker, "blocked": addBlockingBlocked})
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskCreateDescription, "description", "", "task description")
	taskCreateCmd.Flags().StringVar(&taskCreateTags, "tags", "", "comma-separated tags")
	taskCreateCmd.Flags().StringVar(&taskCreatePriority, "priority", "", "task priority")

	taskUpdateCmd.Flags().StringVar(&taskUpdateStatus, "status", "", "new status ("+strings.Join(taskstore.AllStatuses, ", ")+")")
	taskUpdateCmd.Flags().StringVar(&taskUpdateTitle, "title", "", "new title")
	taskUpdateCmd.Flags().StringVar(&taskUpdateDescription, "description", "", "new description")
	taskUpdateCmd.Flags().StringVar(&taskUpdateTags, "tags", "", "comma-separated tags to add")
	taskUpdateCmd.Flags().StringVar(&taskUpdatePriority, "priority", "", "new priority")
	taskUpdateCmd.Flags().StringVar(&taskUpdateStage, "stage", "", "new pipeline stage")
	taskUpdateCmd.Flags().StringVar(&taskUpdateOwner, "owner", "", "new owner (\"none\" to clear)")

	taskReopenCmd.Flags().StringVar(&taskReopenStatus, "status", "", "status to reopen into (default in_progress)")

	taskCommentCmd.Flags().StringVar(&taskCommentContent, "content", "", "comment text")
	taskCommentCmd.Flags().StringVar(&taskCommentPrefix, "prefix", "", "short tag, e.g. FINDINGS, LEARNINGS, REJECTED")

	taskCommentsCmd.Flags().StringVar(&taskCommentsPrefix, "prefix", "", "filter to comments with this prefix")

	taskWalkDAGCmd.Flags().StringVar(&walkDAGRoot, "root", "", "root T-number")
	taskWalkDAGCmd.Flags().StringVar(&walkDAGDirection, "direction", "dependents", "dependents|dependencies")
	taskWalkDAGCmd.Flags().BoolVar(&walkDAGDirectOnly, "direct-only", false, "only root + direct neighbors")
	taskWalkDAGCmd.Flags().IntVar(&walkDAGMaxDepth, "max-depth", 0, "maximum walk depth")

	taskSearchCmd.Flags().StringVar(&taskSearchTags, "tags", "", "comma-separated tags, any match")

	taskAssignCmd.Flags().StringVar(&taskAssignUser, "user", "", "user to assign")

	taskAddBlockingCmd.Flags().StringVar(&addBlockingBlocker, "blocker", "", "T-number that blocks")
	taskAddBlockingCmd.Flags().StringVar(&addBlockingBlocked, "blocked", "", "T-number being blocked")

	taskCmd.AddCommand(taskCreateCmd, taskGetCmd, taskUpdateCmd, taskCloseCmd, taskReopenCmd,
		taskCommentCmd, taskCommentsCmd, taskWalkDAGCmd, taskListDependentsCmd, taskListDependenciesCmd,
		taskSearchCmd, taskAssignCmd, taskAddBlockingCmd)
	rootCmd.AddCommand(taskCmd)
}
