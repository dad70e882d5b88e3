package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/clawtown/clawtown/internal/activitylog"
	"github.com/clawtown/clawtown/internal/cwconfig"
	"github.com/clawtown/clawtown/internal/outbox"
	"github.com/clawtown/clawtown/internal/procadapter"
	"github.com/clawtown/clawtown/internal/registry"
	"github.com/clawtown/clawtown/internal/supervisor"
	"github.com/clawtown/clawtown/internal/sync"
)

var (
	dashboardSession            string
	dashboardOrchestratorWindow string
	dashboardWorkingDir         string
	dashboardAICommand          string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run the supervisor loop: capture panes, classify agents, nudge, restart, sync",
	Long: `Run the Claw Town supervisor's main loop at its ~2s tick cadence until
SIGTERM, SIGHUP, or SIGINT. Each tick drains the message broker, reloads
the task graph, captures and classifies every agent pane, dispatches
completion/new-task events, runs the nudge/restart escalation pipeline,
checks agent health, and fires the periodic checkpoint/learn/sync hooks.`,
	RunE: runDashboard,
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardSession, "session", "", "tmux session name (default claw-town-<project>)")
	dashboardCmd.Flags().StringVar(&dashboardOrchestratorWindow, "orchestrator-window", "orchestrator", "tmux window hosting the orchestrator")
	dashboardCmd.Flags().StringVar(&dashboardWorkingDir, "working-dir", "", "working directory relaunched agents are spawned into")
	dashboardCmd.Flags().StringVar(&dashboardAICommand, "ai-command", "claude", "command used to relaunch a restarted session")
	rootCmd.AddCommand(dashboardCmd)
}

// scriptHook invokes <SCRIPTS_DIR>/<name> if SCRIPTS_DIR is set and the
// script exists, otherwise it is a silent no-op — matching the spec's
// "external checkpoint tool"/"external learn tool" hooks, which are out of
// this repo's scope to implement and are invoked, not reimplemented.
func scriptHook(name string) func() error {
	return func() error {
		dir := os.Getenv("SCRIPTS_DIR")
		if dir == "" {
			return nil
		}
		script := filepath.Join(dir, name)
		if _, err := os.Stat(script); err != nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return exec.CommandContext(ctx, script).Run()
	}
}

func runDashboard(cmd *cobra.Command, args []string) error {
	project := projectFlag
	ctx := newAppContext()

	session := dashboardSession
	if session == "" {
		session = "claw-town-" + project
	}
	workingDir := dashboardWorkingDir
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}

	proc := procadapter.New()
	act := activitylog.New(ctx.StateDir)
	cfg := cwconfig.Load(ctx.StateDir)

	acks := outbox.NewAckStore(ctx.StateDir)
	ob, err := outbox.New(ctx.StateDir, proc, acks)
	if err != nil {
		return fmt.Errorf("initializing outbox: %w", err)
	}
	spawnHelper := os.Getenv("SCRIPTS_DIR")
	if spawnHelper != "" {
		spawnHelper = filepath.Join(spawnHelper, "spawn_agent.sh")
	} else {
		spawnHelper = "spawn_agent.sh"
	}
	reg := registry.New(ctx.StateDir, session, proc, spawnHelper)
	se := sync.New(ctx.Store, ctx.Graph, filepath.Join(ctx.StateDir, ".sync_cache.json"), ctx.EventLog)

	// Startup hygiene: clear stale pending messages per spec.md §4.5.
	cleared, err := ob.ClearStaleOnStartup()
	if err != nil {
		act.Log("startup hygiene failed: %v", err)
	} else if cleared > 0 {
		act.Log("[STARTUP] Cleared %d stale messages", cleared)
	}

	sup := supervisor.New(proc, ob, ctx.Graph, ctx.Store, reg, ctx.EventLog, act, se, cfg,
		ctx.StateDir, project, session, dashboardOrchestratorWindow, workingDir, dashboardAICommand)
	sup.Hooks = supervisor.Hooks{
		Checkpoint: scriptHook("checkpoint.sh"),
		Learn:      scriptHook("learn.sh"),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	// Start and stop banners are printed only when stdout is an interactive
	// terminal; in any other context (cron, CI, a piped log) the loop runs
	// silently. Keyboard input is not read: shutdown comes only from signals.
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		fmt.Println("claw-town dashboard running; press Ctrl-C to stop")
	}

	ticker := time.NewTicker(supervisor.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCtx.Done():
			sup.Shutdown()
			if interactive {
				fmt.Println("\nclaw-town dashboard stopped")
			}
			return nil
		case <-ticker.C:
			sup.Tick()
		}
	}
}
