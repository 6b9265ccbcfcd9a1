// Package cmd implements the opsd command line: the daemon itself plus the
// operator commands that drive it over the HTTP API.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// apiAddr is the daemon API base URL used by the client commands.
	apiAddr string
)

var rootCmd = &cobra.Command{
	Use:   "opsd",
	Short: "Robotic observatory operations supervisor",
	Long: `opsd supervises a robotic observatory: it keeps the dome state machine
reconciled against the scheduled window and the environment verdict, runs
the nightly action queue, and exposes an HTTP API for the schedule
generator, the web dashboard and the data pipeline.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://localhost:9002",
		"base URL of the running opsd daemon")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
