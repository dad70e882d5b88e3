// Package cmd provides the clawtown CLI: one cobra subcommand per file,
// grouped by noun (task, graph, pipeline, agent, events) plus the
// top-level sync/watch/dag/dashboard verbs, matching the teacher's
// cmd/gt + internal/cmd layout (one file per command, init() registers
// with rootCmd).
package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/clawtown/clawtown/internal/cwerr"
)

var projectFlag string

var rootCmd = &cobra.Command{
	Use:   "clawtown",
	Short: "Claw Town multi-agent orchestration supervisor",
	Long: `Claw Town coordinates a fleet of long-running interactive AI agent
sessions hosted in terminal multiplexer windows: it detects agent lifecycle
state, delivers messages reliably, nudges and restarts stalled agents, keeps
a local task graph in sync with on-disk task files, and journals every
state transition.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          requireSubcommand,
}

// requireSubcommand is RunE for parent commands that do nothing on their
// own — they exist purely to group subcommands, matching the teacher's
// `gt config`/`gt rig` pattern.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "default", "project name")
}

// Execute runs the root command and returns the process exit code per
// spec.md §6: 0 on success, 1 on any surfaced error (not-found, validation,
// or otherwise), with a single-line {"error": ...} already written to
// stderr by the time it returns.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return cwerr.ExitJSON(err)
	}
	return 0
}

// printJSON writes v to stdout as indented JSON, the CLI's default output
// shape for structured results.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
