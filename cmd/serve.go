package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobradar/internal/api"
	"jobradar/internal/clock/system"
	"jobradar/internal/enrich"
	"jobradar/internal/ingest"
	"jobradar/internal/orchestrator"
	"jobradar/internal/retry"
	"jobradar/internal/scheduler"
	"jobradar/internal/store"
	"jobradar/internal/sweeper"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the full aggregation service",
		Long: `Starts the scheduler, the retry service, the three enrichment workers,
the lifecycle sweeper, and the operator HTTP API, and blocks until
SIGINT or SIGTERM.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	clk := system.New()
	processor := ingest.New(st, clk, logger.Named("ingest"))
	orch := orchestrator.New(
		st, processor, snapshotFactory(cfg, logger), clk,
		logger.Named("orchestrator"),
		cfg.PollInterval(), cfg.SnapshotDeadline(),
		cfg.Retry.MaxRetriesPerRun,
	)

	sched := scheduler.New(
		st, orch, clk, logger.Named("scheduler"),
		time.Duration(cfg.Scrape.MinIntervalHours)*time.Hour,
		time.Duration(cfg.Scrape.SchedulerGraceMins)*time.Minute,
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	retrySvc := retry.New(
		st, orch, clk, logger.Named("retry"),
		time.Duration(cfg.Retry.TickMinutes)*time.Minute,
		time.Duration(cfg.Retry.StuckAfterMins)*time.Minute,
		time.Duration(cfg.Retry.BackoffHours)*time.Hour,
	)

	llm := enrich.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second)
	tick := time.Duration(cfg.Enrich.TickSeconds) * time.Second
	window := cfg.EnrichRetryWindow()
	_, titleWorker := enrich.NewClassifier(
		llm, st, clk, logger.Named("enrich"),
		enrich.PromptRef{ID: cfg.LLM.TitlePromptID, Version: cfg.LLM.TitlePromptVersion},
		tick, cfg.Enrich.BatchSize, window,
	)
	_, jobWorker := enrich.NewJobEnricher(
		llm, st, clk, logger.Named("enrich"),
		enrich.PromptRef{ID: cfg.LLM.JobPromptID, Version: cfg.LLM.JobPromptVersion},
		tick, cfg.Enrich.BatchSize, window,
		time.Duration(cfg.Enrich.JobDelaySeconds)*time.Second,
	)
	_, companyWorker := enrich.NewCompanyEnricher(
		llm, st, clk, logger.Named("enrich"),
		enrich.PromptRef{ID: cfg.LLM.CompanyPromptID, Version: cfg.LLM.CompanyPromptVersion},
		tick, cfg.Enrich.BatchSize, window,
		time.Duration(cfg.Enrich.CompanyDelaySecs)*time.Second,
	)

	sweep := sweeper.New(
		st, clk, logger.Named("sweeper"),
		time.Duration(cfg.Sweep.TickHours)*time.Hour,
		cfg.SweepThreshold(), store.PageSize,
	)

	go func() { _ = retrySvc.Run(ctx) }()
	go func() { _ = titleWorker.Run(ctx) }()
	go func() { _ = jobWorker.Run(ctx) }()
	go func() { _ = companyWorker.Run(ctx) }()
	go func() { _ = sweep.Run(ctx) }()

	apiServer := api.NewServer(st, orch, sched, clk, logger.Named("api"), cfg)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
