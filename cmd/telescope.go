package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashford-obs/opsd/internal/modes"
)

var telescopeCmd = &cobra.Command{
	Use:     "tel <automatic|manual>",
	Aliases: []string{"telescope"},
	Short:   "Set the telescope scheduler mode",
	Long: `Set the action scheduler mode. Automatic lets the scheduler run the
queued actions; manual aborts the active action, clears the queue and
returns the telescope to the operator. A scheduler in the error state
only accepts manual.`,
	Args: cobra.ExactArgs(1),
	RunE: runTelescopeMode,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Abort the active action and clear the queue",
	Long: `Abort the active observing action and clear the queued actions. The
scheduler stays in its current mode and parks the telescope once the
active action has released it.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(telescopeCmd)
	rootCmd.AddCommand(stopCmd)
}

func runTelescopeMode(_ *cobra.Command, args []string) error {
	mode, ok := modes.Parse(args[0])
	if !ok || mode == modes.Error {
		return fmt.Errorf("mode must be automatic or manual, got %q", args[0])
	}

	result, err := newAPIClient().command("/telescope/mode", map[string]string{"mode": mode.String()})
	if err != nil {
		fatal(err)
	}
	finish(result)
	return nil
}

func runStop(_ *cobra.Command, _ []string) error {
	result, err := newAPIClient().command("/telescope/stop", nil)
	if err != nil {
		fatal(err)
	}
	finish(result)
	return nil
}
