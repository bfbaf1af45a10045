package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/metrics"
	"jobradar/internal/model"
	"jobradar/internal/store"
)

// rateLimitBackoffs are the in-invocation retry delays for a 429 from the
// model vendor.
var rateLimitBackoffs = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// JobStore is the slice of the gateway the job enricher needs.
type JobStore interface {
	FetchPendingJobEnrichments(ctx context.Context, limit int, retryWindow time.Duration, now time.Time) ([]store.PendingJob, error)
	SaveJobEnrichment(ctx context.Context, e model.JobEnrichment, at time.Time) error
	RecordJobEnrichmentError(ctx context.Context, postingID uuid.UUID, msg string, at time.Time) error
	MarkNeedsRanking(ctx context.Context, postingID uuid.UUID) error
}

// JobEnricher extracts the structured enrichment row from a posting's title,
// company, and description.
type JobEnricher struct {
	llm    LLM
	store  JobStore
	clock  clock.Clock
	logger *zap.Logger
	prompt PromptRef
	batch  int
	window time.Duration
	delay  time.Duration
	sleep  func(time.Duration)
}

// NewJobEnricher builds the job enricher and its worker loop. delay is the
// pause between entities.
func NewJobEnricher(llm LLM, st JobStore, clk clock.Clock, logger *zap.Logger, prompt PromptRef, tick time.Duration, batch int, window, delay time.Duration) (*JobEnricher, *Worker) {
	e := &JobEnricher{
		llm:    llm,
		store:  st,
		clock:  clk,
		logger: logger,
		prompt: prompt,
		batch:  batch,
		window: window,
		delay:  delay,
		sleep:  time.Sleep,
	}
	return e, &Worker{name: "job_enricher", tick: tick, logger: logger, pass: e.Pass}
}

// jobInput is the payload handed to the prompt.
type jobInput struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Description string `json:"description"`
}

// jobPayload mirrors the prompt-versioned output schema.
type jobPayload struct {
	RoleType      *string  `json:"role_type"`
	SeniorityTags []string `json:"seniority_tags"`
	ContractTags  []string `json:"contract_tags"`
	SummaryNL     *string  `json:"summary_nl"`
	SummaryFR     *string  `json:"summary_fr"`
	SummaryEN     *string  `json:"summary_en"`
	LongNL        *string  `json:"long_nl"`
	LongFR        *string  `json:"long_fr"`
	LongEN        *string  `json:"long_en"`
	MustLanguages []string `json:"must_languages"`
	NiceLanguages []string `json:"nice_languages"`
	MustEcosystem []string `json:"must_ecosystem"`
	NiceEcosystem []string `json:"nice_ecosystem"`
	MustSpoken    []string `json:"must_spoken"`
	NiceSpoken    []string `json:"nice_spoken"`
	Perks         []string `json:"perks"`
}

// Pass enriches one pending batch, pausing between entities.
func (e *JobEnricher) Pass(ctx context.Context) (int, error) {
	pending, err := e.store.FetchPendingJobEnrichments(ctx, e.batch, e.window, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("fetch pending job enrichments: %w", err)
	}

	for i, p := range pending {
		e.enrich(ctx, p)
		if i < len(pending)-1 {
			e.sleep(e.delay)
		}
	}
	return len(pending), nil
}

func (e *JobEnricher) enrich(ctx context.Context, p store.PendingJob) {
	logger := e.logger.With(
		zap.String("posting_id", p.JobPostingID.String()),
		zap.String("title", p.Title),
	)

	input, err := json.Marshal(jobInput{Title: p.Title, Company: p.CompanyName, Description: p.Description})
	if err != nil {
		e.recordError(ctx, p.JobPostingID, fmt.Sprintf("marshal input: %v", err), logger)
		return
	}

	out, err := e.generateWithBackoff(ctx, string(input))
	if err != nil {
		e.recordError(ctx, p.JobPostingID, err.Error(), logger)
		return
	}

	var payload jobPayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		e.recordError(ctx, p.JobPostingID, fmt.Sprintf("unparseable enrichment payload: %v", err), logger)
		return
	}
	if payload.RoleType == nil || *payload.RoleType == "" {
		e.recordError(ctx, p.JobPostingID, "enrichment payload missing role_type", logger)
		return
	}

	enrichment := model.JobEnrichment{
		JobPostingID:  p.JobPostingID,
		RoleType:      payload.RoleType,
		SeniorityTags: payload.SeniorityTags,
		ContractTags:  payload.ContractTags,
		SummaryNL:     payload.SummaryNL,
		SummaryFR:     payload.SummaryFR,
		SummaryEN:     payload.SummaryEN,
		LongNL:        payload.LongNL,
		LongFR:        payload.LongFR,
		LongEN:        payload.LongEN,
		MustLanguages: payload.MustLanguages,
		NiceLanguages: payload.NiceLanguages,
		MustEcosystem: payload.MustEcosystem,
		NiceEcosystem: payload.NiceEcosystem,
		MustSpoken:    payload.MustSpoken,
		NiceSpoken:    payload.NiceSpoken,
		Perks:         payload.Perks,
	}
	if err := e.store.SaveJobEnrichment(ctx, enrichment, e.clock.Now()); err != nil {
		logger.Error("failed to save job enrichment", zap.Error(err))
		metrics.ObserveEnrichment("job", "error")
		return
	}
	if err := e.store.MarkNeedsRanking(ctx, p.JobPostingID); err != nil {
		logger.Warn("failed to flag posting for ranking", zap.Error(err))
	}
	metrics.ObserveEnrichment("job", "ok")
	logger.Debug("posting enriched", zap.Stringp("role_type", payload.RoleType))
}

// generateWithBackoff retries rate-limit errors up to three times within the
// same invocation. Any other error surfaces immediately.
func (e *JobEnricher) generateWithBackoff(ctx context.Context, input string) (string, error) {
	out, err := e.llm.Generate(ctx, e.prompt, input)
	for attempt := 0; errors.Is(err, ErrRateLimited) && attempt < len(rateLimitBackoffs); attempt++ {
		e.logger.Warn("llm rate limited, backing off",
			zap.Duration("backoff", rateLimitBackoffs[attempt]),
			zap.Int("attempt", attempt+1),
		)
		e.sleep(rateLimitBackoffs[attempt])
		out, err = e.llm.Generate(ctx, e.prompt, input)
	}
	return out, err
}

func (e *JobEnricher) recordError(ctx context.Context, postingID uuid.UUID, msg string, logger *zap.Logger) {
	metrics.ObserveEnrichment("job", "error")
	logger.Warn("job enrichment failed", zap.String("error", msg))
	if err := e.store.RecordJobEnrichmentError(ctx, postingID, msg, e.clock.Now()); err != nil {
		logger.Error("failed to record enrichment error", zap.Error(err))
	}
}
