package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawtown/clawtown/internal/sync"
)

var syncPretty bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle: diff on-disk task files against tasks.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		engine := sync.New(ctx.Store, ctx.Graph, filepath.Join(ctx.StateDir, ".sync_cache.json"), ctx.EventLog)
		report, err := engine.Run()
		if err != nil {
			return err
		}
		if syncPretty {
			fmt.Println(sync.SummarizeWatch(report))
			return nil
		}
		return printJSON(report)
	},
}

var watchInterval int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run sync repeatedly until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		engine := sync.New(ctx.Store, ctx.Graph, filepath.Join(ctx.StateDir, ".sync_cache.json"), ctx.EventLog)

		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		defer stop()

		interval := time.Duration(watchInterval) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		engine.RunWatch(sigCtx, interval, func(r sync.WatchReport) {
			if r.Err != nil {
				fmt.Fprintf(os.Stderr, "[ERROR] sync: %v\n", r.Err)
				return
			}
			fmt.Println(sync.SummarizeWatch(r.Report))
		})
		return nil
	},
}

var dagCmd = &cobra.Command{
	Use:   "dag",
	Short: "Walk the dependency graph from the configured root task",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		engine := sync.New(ctx.Store, ctx.Graph, filepath.Join(ctx.StateDir, ".sync_cache.json"), ctx.EventLog)
		result, err := engine.RunDAG()
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPretty, "pretty", false, "print the one-line summary instead of JSON")
	watchCmd.Flags().IntVar(&watchInterval, "interval", 30, "seconds between sync cycles")

	rootCmd.AddCommand(syncCmd, watchCmd, dagCmd)
}
