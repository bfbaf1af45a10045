// Package retry promotes failed and stuck scrape runs into bounded retry
// attempts. One cooperative loop owns both scans: due pending_retry rows are
// resumed through the orchestrator, and runs stuck in running state are
// reaped into a new retry or a permanent failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/model"
	"jobradar/internal/orchestrator"
	"jobradar/internal/store"
)

// Store is the slice of the gateway the retry service needs.
type Store interface {
	ListDueRetries(ctx context.Context, now time.Time) ([]model.ScrapeRun, error)
	ListStuckRuns(ctx context.Context, startedBefore time.Time) ([]model.ScrapeRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (model.ScrapeRun, error)
	CreateRun(ctx context.Context, run model.ScrapeRun) error
	UpdateRun(ctx context.Context, id uuid.UUID, patch store.RunPatch) error
}

// Runner resumes an existing run row; satisfied by the orchestrator.
type Runner interface {
	Resume(ctx context.Context, run model.ScrapeRun) orchestrator.RunResult
}

// Service is the retry loop.
type Service struct {
	store  Store
	runner Runner
	clock  clock.Clock
	logger *zap.Logger

	tick       time.Duration
	stuckAfter time.Duration
	backoff    time.Duration
}

// New builds a retry service. stuckAfter is how long a run may sit in
// running state before it is reaped; backoff is the gap between retry-service
// attempts.
func New(st Store, runner Runner, clk clock.Clock, logger *zap.Logger, tick, stuckAfter, backoff time.Duration) *Service {
	return &Service{
		store:      st,
		runner:     runner,
		clock:      clk,
		logger:     logger,
		tick:       tick,
		stuckAfter: stuckAfter,
		backoff:    backoff,
	}
}

// Run ticks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("retry service started", zap.Duration("tick", s.tick))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry service stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass of both scans. Errors are logged, never returned; the
// next tick simply tries again.
func (s *Service) Tick(ctx context.Context) {
	if err := s.promoteDueRetries(ctx); err != nil {
		s.logger.Error("retry promotion failed", zap.Error(err))
	}
	if err := s.ReapStuck(ctx); err != nil {
		s.logger.Error("stuck-run scan failed", zap.Error(err))
	}
}

// promoteDueRetries flips due pending_retry runs to running and resumes each
// with its original parameters, sequentially.
func (s *Service) promoteDueRetries(ctx context.Context) error {
	due, err := s.store.ListDueRetries(ctx, s.clock.Now())
	if err != nil {
		return fmt.Errorf("list due retries: %w", err)
	}

	for _, run := range due {
		logger := s.logger.With(
			zap.String("run_id", run.ID.String()),
			zap.Int("retry_count", run.RetryCount),
		)

		status := model.RunRunning
		if err := s.store.UpdateRun(ctx, run.ID, store.RunPatch{Status: &status, ClearRetry: true}); err != nil {
			logger.Error("failed to promote retry", zap.Error(err))
			continue
		}
		run.Status = model.RunRunning
		run.NextRetryAt = nil

		logger.Info("resuming retried run")
		res := s.runner.Resume(ctx, run)
		logger.Info("retried run finished", zap.String("status", string(res.Status)))
	}
	return nil
}

// ReapStuck fails runs stuck in running state and, while the retry budget
// lasts, chains a fresh pending_retry row back to the lineage root.
func (s *Service) ReapStuck(ctx context.Context) error {
	now := s.clock.Now()
	stuck, err := s.store.ListStuckRuns(ctx, now.Add(-s.stuckAfter))
	if err != nil {
		return fmt.Errorf("list stuck runs: %w", err)
	}

	for _, run := range stuck {
		logger := s.logger.With(
			zap.String("run_id", run.ID.String()),
			zap.Int("retry_count", run.RetryCount),
		)

		if run.RetryCount >= run.MaxRetries {
			msg := fmt.Sprintf("run stuck for over %s; retry budget of %d exhausted", s.stuckAfter, run.MaxRetries)
			if err := s.failRun(ctx, run, msg, now); err != nil {
				logger.Error("failed to permanently fail stuck run", zap.Error(err))
			} else {
				logger.Warn("stuck run permanently failed")
			}
			continue
		}

		msg := fmt.Sprintf("run stuck for over %s; scheduling retry %d of %d", s.stuckAfter, run.RetryCount+1, run.MaxRetries)
		if err := s.failRun(ctx, run, msg, now); err != nil {
			logger.Error("failed to fail stuck run", zap.Error(err))
			continue
		}

		root, err := s.lineageRoot(ctx, run)
		if err != nil {
			logger.Error("failed to resolve retry lineage", zap.Error(err))
			continue
		}

		nextRetryAt := now.Add(s.backoff)
		retry := model.ScrapeRun{
			ID:            uuid.New(),
			QueryID:       run.QueryID,
			JobTypeID:     run.JobTypeID,
			SearchText:    run.SearchText,
			LocationText:  run.LocationText,
			Source:        run.Source,
			Status:        model.RunPendingRetry,
			Trigger:       run.Trigger,
			StartedAt:     now,
			RetryCount:    run.RetryCount + 1,
			MaxRetries:    run.MaxRetries,
			OriginalRunID: &root,
			NextRetryAt:   &nextRetryAt,
			Metadata: model.RunMetadata{
				DateRange:    run.Metadata.DateRange,
				LookbackDays: run.Metadata.LookbackDays,
				QueryParams:  run.Metadata.QueryParams,
			},
		}
		if err := s.store.CreateRun(ctx, retry); err != nil {
			logger.Error("failed to create retry run", zap.Error(err))
			continue
		}
		logger.Info("stuck run rescheduled",
			zap.String("retry_run_id", retry.ID.String()),
			zap.Time("next_retry_at", nextRetryAt),
		)
	}
	return nil
}

func (s *Service) failRun(ctx context.Context, run model.ScrapeRun, msg string, now time.Time) error {
	status := model.RunFailed
	meta := run.Metadata
	meta.ErrorType = "stuck"
	return s.store.UpdateRun(ctx, run.ID, store.RunPatch{
		Status:      &status,
		CompletedAt: &now,
		Error:       &msg,
		Metadata:    &meta,
	})
}

// lineageRoot walks original_run_id back to the first run of the chain. The
// walk is bounded by the retry budget to survive corrupted chains.
func (s *Service) lineageRoot(ctx context.Context, run model.ScrapeRun) (uuid.UUID, error) {
	current := run
	for hops := 0; hops <= run.MaxRetries; hops++ {
		if current.OriginalRunID == nil {
			return current.ID, nil
		}
		parent, err := s.store.GetRun(ctx, *current.OriginalRunID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Dangling pointer; treat the referenced id as the root.
				return *current.OriginalRunID, nil
			}
			return uuid.Nil, err
		}
		current = parent
	}
	return uuid.Nil, fmt.Errorf("retry chain for run %s exceeds budget", run.ID)
}
