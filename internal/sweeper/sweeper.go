// Package sweeper soft-deletes postings that have not been observed for
// longer than the inactivity threshold. The transition is one-way; a swept
// posting only comes back through the ingestion pipeline creating a new row.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/metrics"
)

// Store is the slice of the gateway the sweeper needs.
type Store interface {
	ListActivePostingsLastSeenBefore(ctx context.Context, cutoff time.Time, offset int) ([]uuid.UUID, error)
	MarkPostingsInactive(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error)
}

// Sweeper is the lifecycle loop.
type Sweeper struct {
	store     Store
	clock     clock.Clock
	logger    *zap.Logger
	tick      time.Duration
	threshold time.Duration
	pageSize  int
}

// New builds a sweeper. threshold is the last-seen age beyond which a posting
// goes inactive; pageSize matches the store's natural scan page.
func New(st Store, clk clock.Clock, logger *zap.Logger, tick, threshold time.Duration, pageSize int) *Sweeper {
	return &Sweeper{
		store:     st,
		clock:     clk,
		logger:    logger,
		tick:      tick,
		threshold: threshold,
		pageSize:  pageSize,
	}
}

// Run sweeps on every tick until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("lifecycle sweeper started",
		zap.Duration("tick", s.tick),
		zap.Duration("threshold", s.threshold),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep scans stale active postings page by page and bulk-transitions them to
// inactive. Returns the number of postings swept.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	cutoff := now.Add(-s.threshold)

	var swept int64
	offset := 0
	for {
		ids, err := s.store.ListActivePostingsLastSeenBefore(ctx, cutoff, offset)
		if err != nil {
			return swept, fmt.Errorf("scan stale postings: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		n, err := s.store.MarkPostingsInactive(ctx, ids, now)
		if err != nil {
			return swept, fmt.Errorf("mark postings inactive: %w", err)
		}
		swept += n
		metrics.AddPostingsMarkedInactive(int(n))

		// A short page ends the scan. Marked rows drop out of the predicate,
		// so the offset stays put.
		if len(ids) < s.pageSize {
			break
		}
	}

	if swept > 0 {
		s.logger.Info("postings marked inactive",
			zap.Int64("count", swept),
			zap.Time("cutoff", cutoff),
		)
	}
	return swept, nil
}
