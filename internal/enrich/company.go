package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/metrics"
	"jobradar/internal/model"
	"jobradar/internal/store"
)

// CompanyStore is the slice of the gateway the company enricher needs.
type CompanyStore interface {
	FetchPendingCompanyEnrichments(ctx context.Context, limit int, retryWindow time.Duration, now time.Time) ([]store.PendingCompany, error)
	SaveCompanyProfile(ctx context.Context, p model.CompanyProfile, at time.Time) error
	RecordCompanyEnrichmentError(ctx context.Context, companyID uuid.UUID, msg string, at time.Time) error
}

// CompanyEnricher extracts the three-language company profile. The prompt has
// gone through several versions with different nesting for the size class;
// the persister accepts all of them.
type CompanyEnricher struct {
	llm    LLM
	store  CompanyStore
	clock  clock.Clock
	logger *zap.Logger
	prompt PromptRef
	batch  int
	window time.Duration
	delay  time.Duration
	sleep  func(time.Duration)
}

// NewCompanyEnricher builds the company enricher and its worker loop.
func NewCompanyEnricher(llm LLM, st CompanyStore, clk clock.Clock, logger *zap.Logger, prompt PromptRef, tick time.Duration, batch int, window, delay time.Duration) (*CompanyEnricher, *Worker) {
	e := &CompanyEnricher{
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
	return e, &Worker{name: "company_enricher", tick: tick, logger: logger, pass: e.Pass}
}

// companyInput is the payload handed to the prompt.
type companyInput struct {
	Name     string  `json:"name"`
	Industry *string `json:"industry,omitempty"`
}

// companyPayload mirrors the union of the historical output schemas.
type companyPayload struct {
	ProfileNL   *string         `json:"profile_nl"`
	ProfileFR   *string         `json:"profile_fr"`
	ProfileEN   *string         `json:"profile_en"`
	CategoryEn  *string         `json:"category_en"`
	Category    json.RawMessage `json:"category"`
	Maturity    json.RawMessage `json:"maturity"`
	Factlets    []string        `json:"factlets"`
	BelgianHint *string         `json:"belgian_presence"`
	HiringModel *string         `json:"hiring_model"`
}

// sizeClass normalizes the three historical shapes: a flat category_en, a
// maturity object with category_en, or a category object keyed by language.
func (p companyPayload) sizeClass() *string {
	if p.CategoryEn != nil && *p.CategoryEn != "" {
		return p.CategoryEn
	}
	if len(p.Maturity) > 0 {
		var m struct {
			CategoryEn *string `json:"category_en"`
		}
		if err := json.Unmarshal(p.Maturity, &m); err == nil && m.CategoryEn != nil && *m.CategoryEn != "" {
			return m.CategoryEn
		}
	}
	if len(p.Category) > 0 {
		var c struct {
			En *string `json:"en"`
		}
		if err := json.Unmarshal(p.Category, &c); err == nil && c.En != nil && *c.En != "" {
			return c.En
		}
		var s string
		if err := json.Unmarshal(p.Category, &s); err == nil && s != "" {
			return &s
		}
	}
	return nil
}

// Pass enriches one pending batch, pausing between entities.
func (e *CompanyEnricher) Pass(ctx context.Context) (int, error) {
	pending, err := e.store.FetchPendingCompanyEnrichments(ctx, e.batch, e.window, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("fetch pending company enrichments: %w", err)
	}

	for i, p := range pending {
		e.enrich(ctx, p)
		if i < len(pending)-1 {
			e.sleep(e.delay)
		}
	}
	return len(pending), nil
}

func (e *CompanyEnricher) enrich(ctx context.Context, p store.PendingCompany) {
	logger := e.logger.With(
		zap.String("company_id", p.CompanyID.String()),
		zap.String("company", p.CanonicalName),
	)

	input, err := json.Marshal(companyInput{Name: p.CanonicalName, Industry: p.Industry})
	if err != nil {
		e.recordError(ctx, p.CompanyID, fmt.Sprintf("marshal input: %v", err), logger)
		return
	}

	out, err := e.llm.Generate(ctx, e.prompt, string(input))
	if err != nil {
		e.recordError(ctx, p.CompanyID, err.Error(), logger)
		return
	}

	var payload companyPayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		e.recordError(ctx, p.CompanyID, fmt.Sprintf("unparseable profile payload: %v", err), logger)
		return
	}
	if payload.ProfileEN == nil || *payload.ProfileEN == "" {
		e.recordError(ctx, p.CompanyID, "profile payload missing profile_en", logger)
		return
	}

	profile := model.CompanyProfile{
		CompanyID:   p.CompanyID,
		ProfileNL:   payload.ProfileNL,
		ProfileFR:   payload.ProfileFR,
		ProfileEN:   payload.ProfileEN,
		SizeClass:   payload.sizeClass(),
		Factlets:    payload.Factlets,
		BelgianHint: payload.BelgianHint,
		HiringModel: payload.HiringModel,
	}
	if err := e.store.SaveCompanyProfile(ctx, profile, e.clock.Now()); err != nil {
		logger.Error("failed to save company profile", zap.Error(err))
		metrics.ObserveEnrichment("company", "error")
		return
	}
	metrics.ObserveEnrichment("company", "ok")
	logger.Debug("company enriched")
}

func (e *CompanyEnricher) recordError(ctx context.Context, companyID uuid.UUID, msg string, logger *zap.Logger) {
	metrics.ObserveEnrichment("company", "error")
	logger.Warn("company enrichment failed", zap.String("error", msg))
	if err := e.store.RecordCompanyEnrichmentError(ctx, companyID, msg, e.clock.Now()); err != nil {
		logger.Error("failed to record company enrichment error", zap.Error(err))
	}
}
