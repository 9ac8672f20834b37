package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running activation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if statusJSON {
			data, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		a := status.Activation
		if !status.Running || a == nil {
			fmt.Fprintln(out, "Idle")
			return nil
		}
		fmt.Fprintf(out, "Running %s (%s)\n", a.ProfileName, a.ActivationID)
		if a.Current > 0 {
			fmt.Fprintf(out, "  step %d/%d: %s\n", a.Current, a.Total, a.StepName)
		}
		fmt.Fprintf(out, "  started %s\n", a.StartedAt)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output as JSON")
}
