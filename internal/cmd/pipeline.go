package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/clawtown/clawtown/internal/cwerr"
	"github.com/clawtown/clawtown/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Show the fixed stage/role pipeline table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(pipeline.Describe())
	},
}

var listAvailableCmd = &cobra.Command{
	Use:   "list-available <role>",
	Short: "List unclaimed tasks sitting at the stage a role handles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := args[0]
		if !pipeline.IsValidRole(role) {
			return cwerr.Validation(nil, "unknown role %q", role)
		}
		stage := pipeline.RoleToStage[role]
		ctx := newAppContext()
		tasks, err := ctx.Store.All()
		if err != nil {
			return err
		}
		var out []any
		for _, t := range tasks {
			if t.Stage == stage && t.Owner == "" {
				out = append(out, t)
			}
		}
		return printJSON(out)
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim <T> <role>",
	Short: "Claim a task for a role at its current stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Pipeline.Claim(args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <T>",
	Short: "Release a claimed task, advancing it to the next stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Pipeline.Release(args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var stageCmd = &cobra.Command{
	Use:   "stage <T>",
	Short: "Show a task's current pipeline stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Store.Get(args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"t_number": task.TNumber, "stage": task.Stage, "owner": task.Owner})
	},
}

var setStageCmd = &cobra.Command{
	Use:   "set-stage <T> <stage>",
	Short: "Admin override: force a task's stage, clearing its owner",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Pipeline.SetStage(args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Print every open task grouped by pipeline stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		tasks, err := ctx.Store.All()
		if err != nil {
			return err
		}
		board := map[string][]string{}
		for _, s := range pipeline.Stages {
			board[s] = []string{}
		}
		for _, t := range tasks {
			if t.Status == "closed" {
				continue
			}
			stage := t.Stage
			if stage == "" {
				stage = pipeline.Stages[0]
			}
			board[stage] = append(board[stage], t.TNumber)
		}
		for s := range board {
			sort.Strings(board[s])
		}
		return printJSON(board)
	},
}

var rejectReason string

var rejectCmd = &cobra.Command{
	Use:   "reject <T> <target_stage>",
	Short: "Reject a task back to an earlier stage along the allow-list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		task, err := ctx.Pipeline.Reject(args[0], args[1], rejectReason)
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

func init() {
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "reason recorded in the REJECTED comment")

	rootCmd.AddCommand(pipelineCmd, listAvailableCmd, claimCmd, releaseCmd, stageCmd, setStageCmd, boardCmd, rejectCmd)
}
