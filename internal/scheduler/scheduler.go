// Package scheduler maps stored search queries onto recurring cron triggers.
// Every firing executes a scrape run with trigger=scheduled; queries are
// registered at boot and re-registered when an operator changes them.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/daterange"
	"jobradar/internal/model"
	"jobradar/internal/orchestrator"
)

// Store is the slice of the gateway the scheduler needs.
type Store interface {
	ListScheduledQueries(ctx context.Context) ([]model.SearchQuery, error)
	GetLastCompletedRun(ctx context.Context, searchText, locationText string, source model.Source) (model.ScrapeRun, error)
	UpdateQueryRunTimes(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) error
}

// Runner executes one scrape run; satisfied by the orchestrator.
type Runner interface {
	ExecuteScrapeRun(ctx context.Context, p orchestrator.Params) (orchestrator.RunResult, error)
}

// Scheduler owns the cron instance and the query → entry mapping.
type Scheduler struct {
	store       Store
	runner      Runner
	clock       clock.Clock
	logger      *zap.Logger
	minInterval time.Duration
	grace       time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[uuid.UUID]cron.EntryID
	baseCtx context.Context
}

// New builds a scheduler. minInterval suppresses firings that would start a
// second run for the same query too soon; grace bounds how stale a missed
// firing may be and still run at boot.
func New(st Store, runner Runner, clk clock.Clock, logger *zap.Logger, minInterval, grace time.Duration) *Scheduler {
	return &Scheduler{
		store:       st,
		runner:      runner,
		clock:       clk,
		logger:      logger,
		minInterval: minInterval,
		grace:       grace,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		entries: map[uuid.UUID]cron.EntryID{},
		baseCtx: context.Background(),
	}
}

// Start loads every active scheduled query, registers its trigger, fires any
// firing missed within the grace window, and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	queries, err := s.store.ListScheduledQueries(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled queries: %w", err)
	}

	now := s.clock.Now()
	for _, q := range queries {
		if err := s.Register(ctx, q); err != nil {
			s.logger.Warn("skipping unschedulable query",
				zap.String("query_id", q.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if q.NextRunAt != nil && q.NextRunAt.Before(now) && now.Sub(*q.NextRunAt) <= s.grace {
			q := q
			go s.fire(ctx, q)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("queries", len(queries)))
	return nil
}

// Stop halts the cron loop and waits for in-flight firings to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Register adds or replaces the trigger for a query. Queries that are
// inactive or unscheduled are deregistered instead. Firings run under the
// scheduler's lifecycle context, never under the caller's: registrations
// arrive from short-lived HTTP requests and must outlive them.
func (s *Scheduler) Register(_ context.Context, q model.SearchQuery) error {
	if !q.IsActive || !q.Schedule.Enabled {
		s.Deregister(q.ID)
		return nil
	}

	spec, err := CronSpec(q.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[q.ID]; ok {
		s.cron.Remove(old)
	}
	id, err := s.cron.AddFunc(spec, func() {
		s.fire(s.firingContext(), q)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.entries[q.ID] = id

	s.logger.Info("query scheduled",
		zap.String("query_id", q.ID.String()),
		zap.String("spec", spec),
	)
	return nil
}

// firingContext returns the context cron firings run under: the context
// passed to Start, or Background before Start.
func (s *Scheduler) firingContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// Deregister removes the trigger for a query, if any.
func (s *Scheduler) Deregister(queryID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[queryID]; ok {
		s.cron.Remove(id)
		delete(s.entries, queryID)
		s.logger.Info("query deschedule", zap.String("query_id", queryID.String()))
	}
}

// Reload re-syncs the cron entries with the store. Used after bulk query
// changes instead of registering each edit separately.
func (s *Scheduler) Reload(ctx context.Context) error {
	queries, err := s.store.ListScheduledQueries(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled queries: %w", err)
	}

	keep := map[uuid.UUID]bool{}
	for _, q := range queries {
		keep[q.ID] = true
		if err := s.Register(ctx, q); err != nil {
			s.logger.Warn("skipping unschedulable query",
				zap.String("query_id", q.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.mu.Lock()
	for id, entry := range s.entries {
		if !keep[id] {
			s.cron.Remove(entry)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// fire executes one scheduled firing. Never panics the loop; every failure
// is logged and swallowed.
func (s *Scheduler) fire(ctx context.Context, q model.SearchQuery) {
	logger := s.logger.With(
		zap.String("query_id", q.ID.String()),
		zap.String("search_text", q.SearchText),
		zap.String("source", string(q.Source)),
	)

	now := s.clock.Now()
	var lastCompleted *time.Time
	if last, err := s.store.GetLastCompletedRun(ctx, q.SearchText, q.LocationText, q.Source); err == nil {
		lastCompleted = last.CompletedAt
	}
	if !daterange.ShouldTrigger(lastCompleted, s.minInterval, now) {
		logger.Info("firing skipped, a run completed within the minimum interval")
		return
	}

	res, err := s.runner.ExecuteScrapeRun(ctx, orchestrator.Params{
		SearchText:   q.SearchText,
		LocationText: q.LocationText,
		Source:       q.Source,
		Trigger:      model.TriggerScheduled,
		QueryID:      &q.ID,
		JobTypeID:    q.JobTypeID,
		LookbackDays: q.LookbackDays,
	})
	if err != nil {
		logger.Error("scheduled run could not start", zap.Error(err))
		return
	}
	logger.Info("scheduled run finished",
		zap.String("run_id", res.RunID.String()),
		zap.String("status", string(res.Status)),
	)

	if err := s.store.UpdateQueryRunTimes(ctx, q.ID, s.clock.Now(), s.nextRun(q.ID)); err != nil {
		logger.Warn("failed to patch query run times", zap.Error(err))
	}
}

// nextRun reads the next firing time off the live cron entry.
func (s *Scheduler) nextRun(queryID uuid.UUID) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[queryID]
	if !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// CronSpec translates a query schedule into a cron expression. Daily and
// weekly kinds need a valid "HH:MM" time of day; interval needs a positive
// hour count.
func CronSpec(sch model.Schedule) (string, error) {
	switch sch.Kind {
	case model.ScheduleDaily:
		hh, mm, err := parseTimeOfDay(sch.TimeOfDay)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * *", mm, hh), nil
	case model.ScheduleInterval:
		if sch.IntervalHours <= 0 {
			return "", fmt.Errorf("interval schedule needs positive interval_hours, got %d", sch.IntervalHours)
		}
		return fmt.Sprintf("@every %dh", sch.IntervalHours), nil
	case model.ScheduleWeekly:
		if len(sch.DaysOfWeek) == 0 {
			return "", fmt.Errorf("weekly schedule needs at least one day of week")
		}
		hh, mm, err := parseTimeOfDay(sch.TimeOfDay)
		if err != nil {
			return "", err
		}
		days := make([]string, 0, len(sch.DaysOfWeek))
		for _, d := range sch.DaysOfWeek {
			if d < time.Sunday || d > time.Saturday {
				return "", fmt.Errorf("invalid day of week %d", d)
			}
			days = append(days, strconv.Itoa(int(d)))
		}
		return fmt.Sprintf("%d %d * * %s", mm, hh, strings.Join(days, ",")), nil
	default:
		return "", fmt.Errorf("unknown schedule kind %q", sch.Kind)
	}
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time_of_day %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time_of_day %q has an invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time_of_day %q has an invalid minute", s)
	}
	return hour, minute, nil
}
