// Package cmd defines and implements the CLI commands for the jobradar
// executable.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobradar/internal/config"
	"jobradar/internal/logging"
	"jobradar/internal/metrics"
	"jobradar/internal/model"
	"jobradar/internal/snapshot"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobradar",
		Short: "Aggregates data-role job postings from vendor snapshot APIs.",
		Long: `jobradar scrapes LinkedIn and Indeed job postings through a snapshot
vendor, deduplicates them across platforms, and enriches them with
LLM-extracted structure. The serve command runs the full service;
scrape and sweep run one-off passes for operations work.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

// setup loads the configuration and builds the process-wide logger. Every
// subcommand calls it first.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	return cfg, logger, nil
}

// snapshotFactory builds per-source vendor clients. With vendor.mock set it
// serves records from a local fixture file instead.
func snapshotFactory(cfg config.Config, logger *zap.Logger) snapshot.Factory {
	return func(source model.Source) (snapshot.Client, error) {
		if cfg.Vendor.Mock {
			return snapshot.NewMock(source, cfg.Vendor.MockFixturePath)
		}
		dataset := cfg.Vendor.LinkedInDatasetID
		if source == model.SourceIndeed {
			dataset = cfg.Vendor.IndeedDatasetID
		}
		return snapshot.NewBrightData(snapshot.BrightDataConfig{
			BaseURL:         cfg.Vendor.BaseURL,
			APIToken:        cfg.Vendor.APIToken,
			DatasetID:       dataset,
			Source:          source,
			TriggerTimeout:  time.Duration(cfg.Vendor.TriggerTimeoutSec) * time.Second,
			DownloadTimeout: time.Duration(cfg.Vendor.DownloadTimeoutSec) * time.Second,
		}, logger.Named("snapshot"))
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jobradar: %v\n", err)
		os.Exit(1)
	}
}
