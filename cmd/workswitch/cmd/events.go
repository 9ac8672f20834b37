package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"workswitch/internal/client"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		err := newClient().Events(ctx, func(ev client.Event) error {
			printEvent(out, ev)
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func printEvent(out io.Writer, ev client.Event) {
	ts := ev.At.Local().Format("15:04:05")
	switch ev.Kind {
	case "progress":
		fmt.Fprintf(out, "%s %s [%d/%d] %s\n", ts, ev.ProfileName, ev.Current, ev.Total, ev.StepName)
	case "step_error":
		fmt.Fprintf(out, "%s %s step %q failed: %s\n", ts, ev.ProfileName, ev.StepName, ev.Error)
	case "scheduled_launch_started":
		fmt.Fprintf(out, "%s scheduled launch of %s\n", ts, ev.ProfileName)
	case "config_changed":
		fmt.Fprintf(out, "%s profiles reloaded\n", ts)
	default:
		fmt.Fprintf(out, "%s %s %s\n", ts, ev.ProfileName, ev.Kind)
	}
}
