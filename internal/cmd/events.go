package cmd

import (
	"github.com/spf13/cobra"

	"github.com/clawtown/clawtown/internal/cwerr"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Append to and query the append-only event log",
	RunE:  requireSubcommand,
}

var (
	eventLogType    string
	eventLogSummary string
	eventLogDetails string
)

var eventsLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Append one event to events.jsonl",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventLogType == "" || eventLogSummary == "" {
			return cwerr.Validation(nil, "--type and --summary are required")
		}
		ctx := newAppContext()
		if err := ctx.EventLog.Append(eventLogType, eventLogSummary, eventLogDetails); err != nil {
			return err
		}
		return printJSON(map[string]string{"logged": eventLogType})
	},
}

var (
	eventReadSince string
	eventReadType  string
	eventReadLimit int
)

var eventsReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read recent events, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext()
		limit := eventReadLimit
		if limit <= 0 {
			limit = 50
		}
		events := ctx.EventLog.Read(eventReadSince, eventReadType, limit)
		return printJSON(events)
	},
}

var eventLastType string

var eventsLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the most recent event of a given type",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventLastType == "" {
			return cwerr.Validation(nil, "--type is required")
		}
		ctx := newAppContext()
		ev, ok := ctx.EventLog.LastOfType(eventLastType)
		if !ok {
			return cwerr.NotFound("no event of type %q found", eventLastType)
		}
		return printJSON(ev)
	},
}

func init() {
	eventsLogCmd.Flags().StringVar(&eventLogType, "type", "", "event type")
	eventsLogCmd.Flags().StringVar(&eventLogSummary, "summary", "", "one-line summary")
	eventsLogCmd.Flags().StringVar(&eventLogDetails, "details", "", "optional multi-line details")

	eventsReadCmd.Flags().StringVar(&eventReadSince, "since", "", "ISO8601 timestamp lower bound")
	eventsReadCmd.Flags().StringVar(&eventReadType, "type", "", "filter to this event type")
	eventsReadCmd.Flags().IntVar(&eventReadLimit, "limit", 50, "maximum events returned")

	eventsLastCmd.Flags().StringVar(&eventLastType, "type", "", "event type")

	eventsCmd.AddCommand(eventsLogCmd, eventsReadCmd, eventsLastCmd)
	rootCmd.AddCommand(eventsCmd)
}
