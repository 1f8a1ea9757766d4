// Package cmd wires the evalkit-engine command line: the HTTP API server,
// the import worker, the reconciliation sweeper and schema migrations.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/config"
	"github.com/evalkit-dev/evalkit-engine/pkg/metrics"
)

// RootCommand creates and returns the root command.
func RootCommand(version string) *cobra.Command {
	a := &app{}
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "evalkit-engine",
		Short:         "Dataset upload and import service",
		Version:       version,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file (environment variables override it)")

	rootCmd.AddCommand(
		serveCommand(a),
		workerCommand(a),
		sweepCommand(a),
		migrateCommand(a),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.initialize(configPath, version)
	}
	return rootCmd
}

// initialize loads configuration and builds the logger and metrics. It runs
// before every subcommand.
func (a *app) initialize(configPath, version string) error {
	cfg, err := config.LoadFile(configPath, version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger

	if cfg.Metrics.Enabled {
		m, err := metrics.New()
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		a.metrics = m
	}

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("queue_driver", cfg.Queue.Driver),
		zap.String("bucket", cfg.Storage.Bucket),
	)
	return nil
}
