package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <file>",
	Short: "Submit a nightly schedule",
	Long: `Submit a JSON schedule descriptor to the daemon. The descriptor names
the observing night, an optional dome window and the ordered action list.
The exit code is the daemon's result code; validation messages are
printed to stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedule,
}

var scheduleClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the scheduled dome window",
	Args:  cobra.NoArgs,
	RunE:  runScheduleClear,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleClearCmd)
}

func runSchedule(_ *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading schedule: %w", err)
	}

	// Schedule bodies are submitted verbatim; the daemon's parser owns
	// validation so its messages match what the night scheduler sees.
	c := newAPIClient()
	resp, err := c.client.Post(c.base+"/schedule", "application/json", bytes.NewReader(raw))
	if err != nil {
		fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatal(fmt.Errorf("daemon returned %d", resp.StatusCode))
	}

	var result commandResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fatal(fmt.Errorf("decoding response: %w", err))
	}
	finish(result)
	return nil
}

func runScheduleClear(_ *cobra.Command, _ []string) error {
	result, err := newAPIClient().command("/schedule/clear", nil)
	if err != nil {
		fatal(err)
	}
	finish(result)
	return nil
}
