package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashford-obs/opsd/internal/ops"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the supervisor status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	var status ops.StatusSnapshot
	if err := newAPIClient().get("/status", &status); err != nil {
		return err
	}

	fmt.Println("Night:", status.Night)

	if status.Dome != nil {
		fmt.Printf("Dome:  %s (%s)", status.Dome.Status, status.Dome.Mode)
		if status.Dome.Mode != status.Dome.RequestedMode {
			fmt.Printf(" (requested %s)", status.Dome.RequestedMode)
		}
		fmt.Println()
		if status.Dome.OpenAt != nil && status.Dome.CloseAt != nil {
			fmt.Printf("       window %s to %s\n",
				status.Dome.OpenAt.Format(time.RFC3339),
				status.Dome.CloseAt.Format(time.RFC3339))
		} else {
			fmt.Println("       no window scheduled")
		}
	}

	fmt.Printf("Tel:   %s", status.Telescope.Mode)
	if status.Telescope.Mode != status.Telescope.RequestedMode {
		fmt.Printf(" (requested %s)", status.Telescope.RequestedMode)
	}
	fmt.Println()
	for i, row := range status.Telescope.Schedule {
		marker := "  "
		if i == 0 {
			marker = "> "
		}
		fmt.Printf("       %s%s", marker, row.Name)
		if len(row.Tasks) > 0 {
			fmt.Printf(": %v", row.Tasks)
		}
		fmt.Println()
	}

	env := status.Environment
	if env.Safe {
		fmt.Println("Env:   SAFE")
	} else if len(env.UnsafeConditions) > 0 {
		fmt.Println("Env:   UNSAFE:", env.UnsafeConditions)
	} else {
		fmt.Println("Env:   UNSAFE (no data)")
	}

	groups := make([]string, 0, len(env.Conditions))
	for label := range env.Conditions {
		groups = append(groups, label)
	}
	sort.Strings(groups)
	for _, label := range groups {
		fmt.Printf("       %s:", label)
		watchers := make([]string, 0, len(env.Conditions[label]))
		for w := range env.Conditions[label] {
			watchers = append(watchers, w)
		}
		sort.Strings(watchers)
		for _, w := range watchers {
			fmt.Printf(" %s=%s", w, env.Conditions[label][w])
		}
		fmt.Println()
	}
	return nil
}
