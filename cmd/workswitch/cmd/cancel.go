package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the running activation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Cancel(cmd.Context())
		if err != nil {
			return err
		}
		if !res.Running {
			fmt.Fprintln(cmd.OutOrStdout(), "No activation is running.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cancel requested; remaining steps will be skipped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
