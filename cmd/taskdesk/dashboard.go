package main

import (
	"github.com/spf13/cobra"

	"taskdesk/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the interactive task dashboard",
	RunE:  runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	return tui.New(apiAddr, bearerToken()).Run()
}
