package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "strategist",
	Short: "Ward-level strategic analysis orchestration",
	Long:  "Classifies analysis requests, routes them across reasoning and web-intelligence providers behind per-provider circuit breakers, merges responses into a consensus result, and streams progress to clients.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
