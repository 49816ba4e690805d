package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/store-agent/backend/internal/bootstrap"
	"github.com/store-agent/backend/pkg/config"
	"github.com/store-agent/backend/pkg/logger"
)

var (
	cfg        *config.Config
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "inquiryctl",
	Short: "Operate the store inquiry pipeline from the command line",
	Long: `Asks questions, ingests manuals and policies, lists inquiry history and
evaluates routing against a labelled dataset, using the same configuration as
the API server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var (
			c   *config.Config
			err error
		)
		if configPath != "" {
			c, err = config.LoadFile(configPath)
		} else {
			c, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		// Command output owns stdout.
		if err := logger.Init(level, "console", "stderr"); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level override")
}

func buildApp(ctx context.Context) (*bootstrap.App, error) {
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline: %w", err)
	}
	return app, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
