package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"workswitch/internal/client"
)

var profilesCmd = &cobra.Command{
	Use:     "profiles",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	Args:    cobra.NoArgs,
	RunE:    runProfiles,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	profiles, err := newClient().Profiles(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No profiles configured.")
		return nil
	}
	for _, p := range profiles {
		printProfile(out, p)
	}
	return nil
}

func printProfile(out io.Writer, p client.Profile) {
	enabled := 0
	for _, s := range p.Steps {
		if s.Enabled {
			enabled++
		}
	}
	fmt.Fprintf(out, "%s  %s  (%d/%d steps)\n", p.ID, p.Name, enabled, len(p.Steps))
	if p.Description != "" {
		fmt.Fprintf(out, "    %s\n", p.Description)
	}
	if s := p.Schedule; s != nil && s.Enabled {
		switch {
		case s.Invalid != "":
			fmt.Fprintf(out, "    schedule: invalid (%s)\n", s.Invalid)
		case s.NextRun != nil:
			fmt.Fprintf(out, "    schedule: %s %s, next %s\n", s.Time, formatDays(s.Days), *s.NextRun)
		default:
			fmt.Fprintf(out, "    schedule: %s %s\n", s.Time, formatDays(s.Days))
		}
	}
}

var dayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func formatDays(days []int) string {
	if len(days) == 0 {
		return "daily"
	}
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(dayNames) {
			names = append(names, dayNames[d])
		}
	}
	return strings.Join(names, ",")
}
