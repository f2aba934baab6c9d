package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crosschain-router/internal/app"
)

var tickCount int

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Evaluate standing alerts once (or --count times)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tickCount <= 0 {
			return fmt.Errorf("--count must be greater than zero")
		}
		return getApp().Tick(cmd.Context(), app.TickOptions{Count: tickCount})
	},
}

func init() {
	tickCmd.Flags().IntVar(&tickCount, "count", 1, "Number of evaluations, one scheduler interval apart")
}
