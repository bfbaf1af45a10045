package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobradar/internal/clock/system"
	"jobradar/internal/ingest"
	"jobradar/internal/model"
	"jobradar/internal/orchestrator"
	"jobradar/internal/store"
)

func newScrapeCmd() *cobra.Command {
	var (
		source   string
		search   string
		location string
		lookback int
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs a single scrape to completion",
		Long: `Triggers one vendor snapshot for the given search and processes every
returned record, then exits. Useful for backfills and for smoke-testing
a vendor configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			src := model.Source(source)
			if !src.Valid() {
				return fmt.Errorf("invalid source %q: must be linkedin or indeed", source)
			}
			if search == "" {
				return fmt.Errorf("--search is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := store.New(ctx, store.Config{
				DSN:      cfg.DB.DSN,
				MaxConns: cfg.DB.MaxConns,
				MinConns: cfg.DB.MinConns,
			})
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()

			clk := system.New()
			processor := ingest.New(st, clk, logger.Named("ingest"))
			orch := orchestrator.New(
				st, processor, snapshotFactory(cfg, logger), clk,
				logger.Named("orchestrator"),
				cfg.PollInterval(), cfg.SnapshotDeadline(),
				cfg.Retry.MaxRetriesPerRun,
			)

			params := orchestrator.Params{
				SearchText:   search,
				LocationText: location,
				Source:       src,
				Trigger:      model.TriggerManual,
			}
			if lookback > 0 {
				params.LookbackDays = &lookback
			}
			result, err := orch.ExecuteScrapeRun(ctx, params)
			if err != nil {
				return fmt.Errorf("execute scrape run: %w", err)
			}

			logger.Info("scrape finished",
				zap.String("run_id", result.RunID.String()),
				zap.String("status", string(result.Status)),
				zap.Int("jobs_found", result.JobsFound),
				zap.Int("jobs_new", result.JobsNew),
				zap.Int("jobs_updated", result.JobsUpdated),
				zap.Int("jobs_error", result.JobsError),
			)
			if result.Status == model.RunFailed {
				return fmt.Errorf("scrape run failed: %s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "linkedin", "platform to scrape (linkedin or indeed)")
	cmd.Flags().StringVar(&search, "search", "", "search text, e.g. \"data engineer\"")
	cmd.Flags().StringVar(&location, "location", "", "location text, e.g. \"Gent\"")
	cmd.Flags().IntVar(&lookback, "lookback", 0, "override the lookback window in days")
	return cmd
}
