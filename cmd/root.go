package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "queryarc",
	Short: "Web-content LLM readiness analysis and answer-presence runs",
	Long:  "Fetches pages, scores their LLM readiness with a validated, deterministic rescore, and measures whether models mention a brand when asked topic questions.",
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
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
