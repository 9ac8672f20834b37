package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"workswitch/internal/client"
)

var (
	historyProfile string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history [activation-id]",
	Short: "Show recent activations",
	Long: `Show recent activations, newest first.

With an activation ID, shows that activation's step results.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVarP(&historyProfile, "profile", "p", "", "Only show activations of this profile")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of activations to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	c := newClient()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		rec, err := c.Activation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printActivationDetail(out, rec)
		return nil
	}

	list, err := c.Activations(cmd.Context(), historyProfile, historyLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No activations recorded.")
		return nil
	}
	for _, a := range list {
		fmt.Fprintf(out, "%s  %-9s  %-9s  %s  %d steps, %d failed  %s\n",
			a.StartedAt, a.Status, a.Trigger, a.ProfileName, a.StepsTotal, a.StepsFailed, a.ID)
	}
	return nil
}

func printActivationDetail(out io.Writer, a *client.Activation) {
	fmt.Fprintf(out, "%s %s: %s (%d steps, %d failed)\n", a.ProfileName, a.ID, a.Status, a.StepsTotal, a.StepsFailed)
	for _, s := range a.Steps {
		line := fmt.Sprintf("  %d. %s  %s", s.Position, s.StepName, s.Status)
		if s.Error != nil {
			line += ": " + *s.Error
		}
		fmt.Fprintln(out, line)
	}
}
