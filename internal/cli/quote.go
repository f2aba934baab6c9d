package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crosschain-router/internal/app"
)

var quoteOpts app.QuoteOptions

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Print ranked routes for a transfer without executing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if quoteOpts.Source == "" || quoteOpts.Destination == "" {
			return fmt.Errorf("--from and --to must be provided")
		}
		return getApp().Quote(cmd.Context(), quoteOpts, cmd.OutOrStdout())
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteOpts.Source, "from", "", "Source network")
	quoteCmd.Flags().StringVar(&quoteOpts.Destination, "to", "", "Destination network")
	quoteCmd.Flags().StringVar(&quoteOpts.Asset, "asset", "USDC", "Asset symbol")
	quoteCmd.Flags().StringVar(&quoteOpts.Amount, "amount", "", "Amount to move")
	quoteCmd.Flags().StringVar(&quoteOpts.Policy, "policy", "cheapest", "Ranking policy: cheapest, fastest, safest, balanced")
}
