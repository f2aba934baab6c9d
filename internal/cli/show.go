package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crosschain-router/internal/app"
)

var (
	showLimit    int
	showReceipts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent route snapshots or transfer receipts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Receipts: showReceipts,
		}

		return getApp().Show(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showReceipts, "receipts", false, "Show transfer receipts instead of route snapshots")
}
