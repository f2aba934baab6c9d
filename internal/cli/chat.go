package cli

import (
	"github.com/spf13/cobra"

	"crosschain-router/internal/app"
)

var (
	chatSession string
	chatWallet  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the router interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ChatOptions{
			SessionID: chatSession,
			Wallet:    chatWallet,
		}
		return getApp().Chat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session id to resume (random when empty)")
	chatCmd.Flags().StringVar(&chatWallet, "wallet", "", "Sender wallet address")
}
