package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vitos/crypto_paper_agent/internal/config"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/logger"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "agent",
	Short:         "Leveraged paper-trading agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log, err = logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan, trade and serve the HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd.Context())
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the persisted balance, positions and history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resetAccount(cmd.Context())
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted account as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printState(cmd.Context(), cmd.OutOrStdout())
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(runCmd, resetCmd, stateCmd)

	err := rootCmd.ExecuteContext(context.Background())
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
