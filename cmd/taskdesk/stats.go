package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"taskdesk/internal/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats [assignee]",
	Short: "Show task statistics",
	Long:  `Shows system-wide task statistics, or per-assignee statistics when an assignee name is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return runUserStats(args[0])
	}

	raw, err := apiGet("/api/stats")
	if err != nil {
		return err
	}
	var stats models.TaskStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return err
	}

	fmt.Printf("Total tasks:  %d\n", stats.Total)
	fmt.Printf("  New:         %d\n", stats.New)
	fmt.Printf("  In progress: %d\n", stats.InProgress)
	fmt.Printf("  Completed:   %d\n", stats.Completed)
	fmt.Printf("  Returned:    %d\n", stats.Returned)
	fmt.Printf("  Cancelled:   %d\n", stats.Cancelled)
	fmt.Printf("  Expired:     %d\n", stats.Expired)
	return nil
}

func runUserStats(assignee string) error {
	raw, err := apiGet("/api/stats/user/" + url.PathEscape(assignee))
	if err != nil {
		return err
	}
	var stats models.UserStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return err
	}

	fmt.Printf("Assignee:  %s\n", stats.Assignee)
	fmt.Printf("Total:     %d\n", stats.TotalTasks)
	fmt.Printf("Completed: %d\n", stats.CompletedTasks)
	fmt.Printf("Pending:   %d\n", stats.PendingTasks)
	return nil
}
