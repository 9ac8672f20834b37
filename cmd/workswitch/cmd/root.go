// Package cmd implements the workswitch command line client.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"workswitch/internal/client"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	serverURL string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "workswitch",
	Short: "Control a running workswitchd",
	Long: `workswitch talks to the workswitchd daemon over HTTP.

Profiles are ordered lists of apps, terminals, folders and URLs. Activating a
profile launches its enabled steps one after another; only one activation
runs at a time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultServer := os.Getenv("WORKSWITCH_SERVER")
	if defaultServer == "" {
		defaultServer = client.DefaultServer
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "daemon base URL (env WORKSWITCH_SERVER)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("WORKSWITCH_AUTH_TOKEN"), "bearer token (env WORKSWITCH_AUTH_TOKEN)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("workswitch {{.Version}}\n")
}

func newClient() *client.Client {
	return client.New(serverURL, authToken)
}
