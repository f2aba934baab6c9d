package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crosschain-router/internal/app"
	"crosschain-router/internal/config"
	"crosschain-router/internal/logging"
)

var (
	cfgFile     string
	logLevel    string
	homeNetwork string
	broadcast   bool
	appHandle   *app.App
)

var rootCmd = &cobra.Command{
	Use:   "routerd",
	Short: "Route, validate and execute cross-chain transfers from chat intents",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if homeNetwork != "" {
			cfg.API.HomeNetwork = homeNetwork
		}
		// --broadcast 只能关闭 dry_run，私钥仍需在配置中提供
		if broadcast {
			cfg.Signer.DryRun = false
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&homeNetwork, "home-network", "", "Network assumed when a request names no source")
	rootCmd.PersistentFlags().BoolVar(&broadcast, "broadcast", false, "Sign and broadcast transfers even if signer.dry_run is set")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
