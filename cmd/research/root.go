package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/bootstrap"
	"github.com/Kocoro-lab/deepresearch/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Deep research workflow runner",
	Long: `research turns a question into a cited long-form report.

A run plans subtopics, searches the web in parallel, summarizes findings,
drafts a report and revises it through automated peer review until the
reviewer is satisfied or the revision budget is spent.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: $"+config.PathEnv+")")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads configuration and builds a logger that writes to stderr,
// keeping stdout for the report.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Observability.Logging.Format == "" || cfg.Observability.Logging.Format == "json" {
		cfg.Observability.Logging.Format = "console"
	}
	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func main() {
	Execute()
}
