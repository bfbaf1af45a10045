package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker is the shared auto-pickup loop. Each kind supplies a pass that
// fetches its pending batch and processes it; the loop only owns the cadence
// and the guarantee that a failing pass never stops the service.
type Worker struct {
	name   string
	tick   time.Duration
	logger *zap.Logger
	pass   func(ctx context.Context) (int, error)
}

// Run ticks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	w.logger.Info("enrichment worker started",
		zap.String("worker", w.name),
		zap.Duration("tick", w.tick),
	)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("enrichment worker stopped", zap.String("worker", w.name))
			return ctx.Err()
		case <-ticker.C:
			n, err := w.pass(ctx)
			if err != nil {
				w.logger.Error("enrichment pass failed",
					zap.String("worker", w.name),
					zap.Error(err),
				)
				continue
			}
			if n > 0 {
				w.logger.Info("enrichment pass finished",
					zap.String("worker", w.name),
					zap.Int("processed", n),
				)
			}
		}
	}
}
