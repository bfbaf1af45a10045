package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobradar/internal/clock/system"
	"jobradar/internal/store"
	"jobradar/internal/sweeper"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Runs a single lifecycle sweep",
		Long: `Marks active postings that have not been observed within the configured
threshold as inactive, then exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

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

			sweep := sweeper.New(
				st, system.New(), logger.Named("sweeper"),
				time.Duration(cfg.Sweep.TickHours)*time.Hour,
				cfg.SweepThreshold(), store.PageSize,
			)
			n, err := sweep.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			logger.Info("sweep finished", zap.Int64("postings_marked_inactive", n))
			return nil
		},
	}
}
