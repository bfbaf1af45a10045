// Package orchestrator drives one scrape run end to end: pick the discovery
// window, create the run row, trigger the vendor snapshot, wait for it to
// build, feed every record through the processor, and close the run with its
// counts. The orchestrator never retries itself; failed runs are picked up by
// the retry service.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/daterange"
	"jobradar/internal/metrics"
	"jobradar/internal/model"
	"jobradar/internal/snapshot"
	"jobradar/internal/store"
)

// errorDetailCap bounds how many per-record errors a run keeps in metadata.
const errorDetailCap = 20

// RunStore is the slice of the gateway the orchestrator needs.
type RunStore interface {
	CreateRun(ctx context.Context, run model.ScrapeRun) error
	UpdateRun(ctx context.Context, id uuid.UUID, patch store.RunPatch) error
	GetLastCompletedRun(ctx context.Context, searchText, locationText string, source model.Source) (model.ScrapeRun, error)
}

// Processor ingests one vendor record for a run.
type Processor interface {
	Process(ctx context.Context, runID uuid.UUID, jobTypeID *uuid.UUID, rec snapshot.JobRecord) model.ProcessingResult
}

// Params identifies one scrape to execute.
type Params struct {
	SearchText   string
	LocationText string
	Source       model.Source
	Trigger      model.TriggerKind
	QueryID      *uuid.UUID
	JobTypeID    *uuid.UUID
	LookbackDays *int
}

// RunResult is the outcome handed back to the caller.
type RunResult struct {
	RunID       uuid.UUID
	Status      model.RunStatus
	JobsFound   int
	JobsNew     int
	JobsUpdated int
	JobsError   int
	Error       string
}

// Orchestrator executes scrape runs against a vendor client.
type Orchestrator struct {
	runs      RunStore
	processor Processor
	clients   snapshot.Factory
	clock     clock.Clock
	logger     *zap.Logger
	pollEvery  time.Duration
	deadline   time.Duration
	maxRetries int
}

// New builds an orchestrator. pollEvery is the snapshot polling cadence;
// deadline bounds how long a snapshot may build; maxRetries is the retry
// budget stamped on every new run (<= 0 falls back to the model default).
func New(runs RunStore, processor Processor, clients snapshot.Factory, clk clock.Clock, logger *zap.Logger, pollEvery, deadline time.Duration, maxRetries int) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	return &Orchestrator{
		runs:       runs,
		processor:  processor,
		clients:    clients,
		clock:      clk,
		logger:     logger,
		pollEvery:  pollEvery,
		deadline:   deadline,
		maxRetries: maxRetries,
	}
}

// ExecuteScrapeRun creates a fresh run row and drives it to a terminal state.
// The error return covers only the inability to create the run row; scrape
// failures land in the run itself and in the result.
func (o *Orchestrator) ExecuteScrapeRun(ctx context.Context, p Params) (RunResult, error) {
	now := o.clock.Now()

	var lastCompleted *time.Time
	last, err := o.runs.GetLastCompletedRun(ctx, p.SearchText, p.LocationText, p.Source)
	switch {
	case err == nil:
		lastCompleted = last.CompletedAt
	case errors.Is(err, store.ErrNotFound):
	default:
		return RunResult{}, fmt.Errorf("look up last completed run: %w", err)
	}

	choice := daterange.Choose(lastCompleted, p.LookbackDays, now, o.logger)

	run := model.ScrapeRun{
		ID:           uuid.New(),
		QueryID:      p.QueryID,
		JobTypeID:    p.JobTypeID,
		SearchText:   p.SearchText,
		LocationText: p.LocationText,
		Source:       p.Source,
		Status:       model.RunRunning,
		Trigger:      p.Trigger,
		StartedAt:    now,
		MaxRetries:   o.maxRetries,
		Metadata: model.RunMetadata{
			DateRange:    choice.Range,
			LookbackDays: choice.ExpectedDays,
			QueryParams: map[string]string{
				"search_text":   p.SearchText,
				"location_text": p.LocationText,
				"source":        string(p.Source),
			},
		},
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return RunResult{}, fmt.Errorf("create run: %w", err)
	}

	return o.execute(ctx, run), nil
}

// Resume drives an existing run row, already flipped to running by the retry
// service, through the scrape lifecycle with its original parameters.
func (o *Orchestrator) Resume(ctx context.Context, run model.ScrapeRun) RunResult {
	if run.Metadata.DateRange == "" {
		choice := daterange.Choose(nil, nil, o.clock.Now(), o.logger)
		run.Metadata.DateRange = choice.Range
		run.Metadata.LookbackDays = choice.ExpectedDays
	}
	return o.execute(ctx, run)
}

func (o *Orchestrator) execute(ctx context.Context, run model.ScrapeRun) RunResult {
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	started := o.clock.Now()
	logger := o.logger.With(
		zap.String("run_id", run.ID.String()),
		zap.String("source", string(run.Source)),
		zap.String("search_text", run.SearchText),
		zap.String("location_text", run.LocationText),
	)
	logger.Info("scrape run started",
		zap.String("date_range", string(run.Metadata.DateRange)),
		zap.String("trigger", string(run.Trigger)),
	)

	client, err := o.clients(run.Source)
	if err != nil {
		return o.fail(ctx, run, logger, fmt.Errorf("resolve vendor client: %w", err))
	}

	snapshotID, err := client.Trigger(ctx, run.SearchText, run.LocationText, run.Metadata.DateRange, 0)
	if err != nil {
		metrics.ObserveVendorRequest("trigger", "error")
		return o.fail(ctx, run, logger, fmt.Errorf("trigger snapshot: %w", err))
	}
	metrics.ObserveVendorRequest("trigger", "ok")

	// Persist the snapshot id before waiting so an interrupted run is still
	// attributable to its vendor-side snapshot.
	run.Metadata.SnapshotID = snapshotID
	meta := run.Metadata
	if err := o.runs.UpdateRun(ctx, run.ID, store.RunPatch{Metadata: &meta}); err != nil {
		return o.fail(ctx, run, logger, fmt.Errorf("persist snapshot id: %w", err))
	}
	logger.Info("snapshot triggered", zap.String("snapshot_id", snapshotID))

	waitStart := o.clock.Now()
	records, err := client.AwaitReady(ctx, snapshotID, o.pollEvery, o.deadline)
	metrics.ObserveSnapshotWait(string(run.Source), o.clock.Now().Sub(waitStart))
	if err != nil {
		metrics.ObserveVendorRequest("download", "error")
		return o.fail(ctx, run, logger, fmt.Errorf("await snapshot: %w", err))
	}
	metrics.ObserveVendorRequest("download", "ok")
	logger.Info("snapshot ready", zap.Int("records", len(records)))

	var (
		jobsNew     int
		jobsUpdated int
		jobsError   int
		details     []string
	)
	for _, rec := range records {
		res := o.processor.Process(ctx, run.ID, run.JobTypeID, rec)
		metrics.ObserveRecord(string(run.Source), string(res.Status))
		switch res.Status {
		case model.ProcessedNew:
			jobsNew++
		case model.ProcessedUpdated:
			jobsUpdated++
		case model.ProcessedError:
			jobsError++
			if len(details) < errorDetailCap {
				details = append(details, res.ErrorMessage)
			}
		}
	}

	now := o.clock.Now()
	run.Metadata.DurationS = now.Sub(started).Seconds()
	run.Metadata.JobsReturned = len(records)
	run.Metadata.JobsError = jobsError
	run.Metadata.ErrorDetails = details
	run.Metadata.BatchSummary = fmt.Sprintf("%d records: %d new, %d updated, %d errors",
		len(records), jobsNew, jobsUpdated, jobsError)

	jobsFound := len(records)
	status := model.RunCompleted
	finalMeta := run.Metadata
	patch := store.RunPatch{
		Status:      &status,
		CompletedAt: &now,
		JobsFound:   &jobsFound,
		JobsNew:     &jobsNew,
		JobsUpdated: &jobsUpdated,
		Metadata:    &finalMeta,
	}
	if err := o.runs.UpdateRun(ctx, run.ID, patch); err != nil {
		return o.fail(ctx, run, logger, fmt.Errorf("close run: %w", err))
	}

	metrics.ObserveRun(string(run.Source), string(model.RunCompleted))
	logger.Info("scrape run completed",
		zap.Int("jobs_found", jobsFound),
		zap.Int("jobs_new", jobsNew),
		zap.Int("jobs_updated", jobsUpdated),
		zap.Int("jobs_error", jobsError),
		zap.Float64("duration_s", run.Metadata.DurationS),
	)
	return RunResult{
		RunID:       run.ID,
		Status:      model.RunCompleted,
		JobsFound:   jobsFound,
		JobsNew:     jobsNew,
		JobsUpdated: jobsUpdated,
		JobsError:   jobsError,
	}
}

// fail moves the run to failed with the error and its classification. A
// failure while recording the failure is logged and otherwise dropped; the
// stuck-run scan will reap the row.
func (o *Orchestrator) fail(ctx context.Context, run model.ScrapeRun, logger *zap.Logger, cause error) RunResult {
	now := o.clock.Now()
	msg := cause.Error()
	status := model.RunFailed

	run.Metadata.ErrorType = classifyError(cause)
	run.Metadata.DurationS = now.Sub(run.StartedAt).Seconds()
	meta := run.Metadata

	patch := store.RunPatch{
		Status:      &status,
		CompletedAt: &now,
		Error:       &msg,
		Metadata:    &meta,
	}
	if err := o.runs.UpdateRun(ctx, run.ID, patch); err != nil {
		logger.Error("failed to record run failure", zap.Error(err))
	}

	metrics.ObserveRun(string(run.Source), string(model.RunFailed))
	logger.Error("scrape run failed",
		zap.String("error_type", run.Metadata.ErrorType),
		zap.Error(cause),
	)
	return RunResult{RunID: run.ID, Status: model.RunFailed, Error: msg}
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, snapshot.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, snapshot.ErrAuth):
		return "auth"
	case errors.Is(err, snapshot.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, snapshot.ErrTimeout):
		return "timeout"
	case errors.Is(err, snapshot.ErrBuildFailed):
		return "build_failed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
