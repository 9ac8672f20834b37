package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"workswitch/internal/client"
)

var (
	activateWait     bool
	activateInterval time.Duration
)

var activateCmd = &cobra.Command{
	Use:   "activate <profile-id>",
	Short: "Launch a profile",
	Long: `Launch the enabled steps of a profile.

The daemon runs the activation in the background. With --wait the command
follows its progress and prints the result once it completes or is cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate,
}

func init() {
	rootCmd.AddCommand(activateCmd)

	activateCmd.Flags().BoolVarP(&activateWait, "wait", "w", false, "Wait for the activation to finish")
	activateCmd.Flags().DurationVar(&activateInterval, "interval", 500*time.Millisecond, "Polling interval with --wait")
}

func runActivate(cmd *cobra.Command, args []string) error {
	c := newClient()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	launched, err := c.Activate(ctx, args[0])
	if err != nil {
		if client.IsCode(err, "already_running") {
			return fmt.Errorf("another activation is in progress; run 'workswitch cancel' first")
		}
		return err
	}
	fmt.Fprintf(out, "Activating %s (%s)\n", launched.ProfileName, launched.ActivationID)
	if !activateWait {
		return nil
	}
	return waitActivation(ctx, c, out, launched.ActivationID, activateInterval)
}

// waitActivation polls the live status until the activation leaves the run
// slot, then prints its history record.
func waitActivation(ctx context.Context, c *client.Client, out io.Writer, id string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastStep := 0
	for {
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		a := status.Activation
		if !status.Running || a == nil || a.ActivationID != id {
			break
		}
		if a.Current != lastStep && a.Current > 0 {
			fmt.Fprintf(out, "  [%d/%d] %s\n", a.Current, a.Total, a.StepName)
			lastStep = a.Current
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	rec, err := c.Activation(ctx, id)
	if err != nil {
		return err
	}
	printActivationDetail(out, rec)
	return nil
}
