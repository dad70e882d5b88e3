package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clawtown/clawtown/internal/paths"
	"github.com/clawtown/clawtown/internal/procadapter"
	"github.com/clawtown/clawtown/internal/registry"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage per-agent health records in the registry",
	RunE:  requireSubcommand,
}

func newRegistry(project string) *registry.Registry {
	stateDir := paths.GetStateDir(project)
	session := "claw-town-" + project
	proc := procadapter.New()
	spawnHelper := os.Getenv("SCRIPTS_DIR")
	if spawnHelper != "" {
		spawnHelper = filepath.Join(spawnHelper, "spawn_agent.sh")
	} else {
		spawnHelper = "spawn_agent.sh"
	}
	return registry.New(stateDir, session, proc, spawnHelper)
}

var (
	agentRegisterTaskID     string
	agentRegisterWindow     string
	agentRegisterPID        int
	agentRegisterAgentMode  string
	agentRegisterRole       string
	agentRegisterWorkingDir string
)

var agentRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new agent health record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		rec, err := reg.Register(args[0], agentRegisterTaskID, agentRegisterWindow, agentRegisterPID,
			agentRegisterAgentMode, agentRegisterRole, agentRegisterWorkingDir)
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var agentHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <name>",
	Short: "Record a liveness heartbeat for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		rec, err := reg.Heartbeat(args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var agentMissHeartbeatCmd = &cobra.Command{
	Use:   "miss-heartbeat <name>",
	Short: "Record a missed heartbeat for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		rec, err := reg.MissHeartbeat(args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var agentListNoRefresh bool

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		records, err := reg.List(!agentListNoRefresh)
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show an agent's recomputed health status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		rec, err := reg.Status(args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var agentKillCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Gracefully stop an agent and mark it dead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		rec, err := reg.Kill(args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var agentRespawnCmd = &cobra.Command{
	Use:   "respawn <name>",
	Short: "Tear down and relaunch an agent from its prompt file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		stateDir := paths.GetStateDir(projectFlag)
		rec, err := reg.Respawn(args[0], filepath.Join(stateDir, "prompts"))
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var agentCheckHealthCmd = &cobra.Command{
	Use:   "check-health",
	Short: "Recompute health for every registered agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		results, err := reg.CheckHealth()
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var agentDeregisterCmd = &cobra.Command{
	Use:   "deregister <name>",
	Short: "Remove an agent's health record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := newRegistry(projectFlag)
		if err := reg.Deregister(args[0]); err != nil {
			return err
		}
		return printJSON(map[string]string{"deregistered": args[0]})
	},
}

func init() {
	agentRegisterCmd.Flags().StringVar(&agentRegisterTaskID, "task-id", "", "T-number this agent is working")
	agentRegisterCmd.Flags().StringVar(&agentRegisterWindow, "window", "", "tmux window target (defaults to name)")
	agentRegisterCmd.Flags().IntVar(&agentRegisterPID, "pid", 0, "pane process id")
	agentRegisterCmd.Flags().StringVar(&agentRegisterAgentMode, "agent-mode", "", "agent mode (default headless)")
	agentRegisterCmd.Flags().StringVar(&agentRegisterRole, "role", "", "pipeline role")
	agentRegisterCmd.Flags().StringVar(&agentRegisterWorkingDir, "working-dir", "", "working directory")

	agentListCmd.Flags().BoolVar(&agentListNoRefresh, "no-refresh", false, "skip recomputing health before listing")

	agentCmd.AddCommand(agentRegisterCmd, agentHeartbeatCmd, agentMissHeartbeatCmd, agentListCmd,
		agentStatusCmd, agentKillCmd, agentRespawnCmd, agentCheckHealthCmd, agentDeregisterCmd)
	rootCmd.AddCommand(agentCmd)
}
