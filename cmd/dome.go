package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashford-obs/opsd/internal/modes"
)

var domeCmd = &cobra.Command{
	Use:   "dome <automatic|manual>",
	Short: "Set the dome operations mode",
	Long: `Set the dome controller mode. Automatic hands the dome to the
supervisor, which arms the hardware watchdog; manual disarms it and
returns control to the operator. A controller in the error state only
accepts manual.`,
	Args: cobra.ExactArgs(1),
	RunE: runDomeMode,
}

func init() {
	rootCmd.AddCommand(domeCmd)
}

func runDomeMode(_ *cobra.Command, args []string) error {
	mode, ok := modes.Parse(args[0])
	if !ok || mode == modes.Error {
		return fmt.Errorf("mode must be automatic or manual, got %q", args[0])
	}

	result, err := newAPIClient().command("/dome/mode", map[string]string{"mode": mode.String()})
	if err != nil {
		fatal(err)
	}
	finish(result)
	return nil
}
