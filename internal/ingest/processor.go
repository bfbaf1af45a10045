// Package ingest turns raw vendor records into canonical store entities. One
// record flows through validation, company and location resolution, the dedup
// decision, and the audit trail; failures are absorbed per record so a bad
// row never aborts the batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/dedup"
	"jobradar/internal/model"
	"jobradar/internal/normalize"
	"jobradar/internal/snapshot"
	"jobradar/internal/store"
)

// Store is the slice of the gateway the processor needs.
type Store interface {
	UpsertCompany(ctx context.Context, name string, ids store.VendorIDs, logoURL, industry, website *string) (uuid.UUID, error)
	GetOrInsertLocation(ctx context.Context, raw string, parsed normalize.ParsedLocation) (uuid.UUID, error)
	FindPostingByDedupKey(ctx context.Context, key string) (model.JobPosting, error)
	InsertPosting(ctx context.Context, p model.JobPosting) error
	UpdatePosting(ctx context.Context, id uuid.UUID, patch store.PostingPatch) error
	AddSource(ctx context.Context, postingID uuid.UUID, source model.Source, vendorJobID string, seenAt time.Time) error
	HasSource(ctx context.Context, postingID uuid.UUID, source model.Source) (bool, error)
	TouchSource(ctx context.Context, postingID uuid.UUID, source model.Source, seenAt time.Time) error
	UpsertDescription(ctx context.Context, postingID uuid.UUID, text string, html *string) error
	InsertEnrichmentStub(ctx context.Context, postingID uuid.UUID) error
	InsertScrapeHistory(ctx context.Context, postingID, runID uuid.UUID, detectedAt time.Time) error
	AssignJobType(ctx context.Context, postingID, typeID uuid.UUID, via string) error
}

// Processor runs the per-record ingestion pipeline.
type Processor struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// New builds a record processor.
func New(st Store, clk clock.Clock, logger *zap.Logger) *Processor {
	return &Processor{store: st, clock: clk, logger: logger}
}

// Process ingests one vendor record for the given run. The returned result
// carries the outcome and, on success, the touched posting id. Errors are
// folded into the result rather than returned.
func (p *Processor) Process(ctx context.Context, runID uuid.UUID, jobTypeID *uuid.UUID, rec snapshot.JobRecord) model.ProcessingResult {
	if err := validate(rec); err != nil {
		return errorResult(err)
	}

	now := p.clock.Now()

	companyName := normalize.CompanyName(rec.CompanyName)
	companyID, err := p.store.UpsertCompany(ctx, companyName, vendorIDs(rec),
		strPtr(normalize.LogoURL(rec.CompanyLogoURL)), strPtr(rec.Industry),
		strPtr(normalize.CompanyURL(rec.CompanyURL)))
	if err != nil {
		return errorResult(fmt.Errorf("upsert company %q: %w", companyName, err))
	}

	rawLocation := rec.Location
	if rawLocation == "" {
		rawLocation = "Unknown"
	}
	locationID, err := p.store.GetOrInsertLocation(ctx, rawLocation, normalize.ParseLocation(rawLocation))
	if err != nil {
		return errorResult(fmt.Errorf("resolve location %q: %w", rawLocation, err))
	}

	key := dedup.Key(rec.Title, companyName)

	existing, err := p.store.FindPostingByDedupKey(ctx, key)
	switch {
	case err == nil:
		return p.reobserve(ctx, existing, rec, runID, jobTypeID, now)
	case errors.Is(err, store.ErrNotFound):
		return p.create(ctx, rec, key, companyID, locationID, runID, jobTypeID, now)
	default:
		return errorResult(fmt.Errorf("lookup dedup key: %w", err))
	}
}

// create inserts a canonical posting with its description, enrichment stub,
// source row, and history entry.
func (p *Processor) create(ctx context.Context, rec snapshot.JobRecord, key string, companyID, locationID uuid.UUID, runID uuid.UUID, jobTypeID *uuid.UUID, now time.Time) model.ProcessingResult {
	posting := model.JobPosting{
		ID:             uuid.New(),
		Source:         rec.Source,
		VendorJobID:    rec.VendorJobID,
		CompanyID:      companyID,
		LocationID:     locationID,
		Title:          rec.Title,
		EmploymentType: strPtr(rec.EmploymentType),
		Seniority:      strPtr(rec.Seniority),
		ApplicantCount: rec.ApplicantCount,
		ApplyAvailable: rec.ApplyAvailable,
		PostedAt:       rec.PostedAt,
		Salary:         normalize.ParseSalary(rec.SalaryText),
		JobURL:         rec.JobURL,
		ApplyURL:       strPtr(rec.ApplyURL),
		DedupKey:       key,
		IsActive:       true,
		LastSeenAt:     now,
		CreatedAt:      now,
	}

	if err := p.store.InsertPosting(ctx, posting); err != nil {
		if errors.Is(err, store.ErrConstraint) {
			// Another record in this batch won the insert race; fall back to
			// the re-observation path.
			won, lookupErr := p.store.FindPostingByDedupKey(ctx, key)
			if lookupErr != nil {
				return errorResult(fmt.Errorf("re-resolve posting after conflict: %w", lookupErr))
			}
			return p.reobserve(ctx, won, rec, runID, jobTypeID, now)
		}
		return errorResult(fmt.Errorf("insert posting: %w", err))
	}

	if text := normalize.CleanDescription(rec.DescriptionHTML); text != "" {
		if err := p.store.UpsertDescription(ctx, posting.ID, text, strPtr(rec.DescriptionHTML)); err != nil {
			return errorResult(fmt.Errorf("save description: %w", err))
		}
	}
	if err := p.store.InsertEnrichmentStub(ctx, posting.ID); err != nil {
		return errorResult(fmt.Errorf("create enrichment stub: %w", err))
	}
	if err := p.store.AddSource(ctx, posting.ID, rec.Source, rec.VendorJobID, now); err != nil {
		return errorResult(fmt.Errorf("add source: %w", err))
	}
	if err := p.finish(ctx, posting.ID, runID, jobTypeID, now); err != nil {
		return errorResult(err)
	}

	p.logger.Debug("posting created",
		zap.String("posting_id", posting.ID.String()),
		zap.String("source", string(rec.Source)),
		zap.String("title", rec.Title),
	)
	return model.ProcessingResult{Status: model.ProcessedNew, JobPostingID: posting.ID}
}

// reobserve handles a record whose dedup key already has a canonical posting.
// A re-observation always counts as updated even when no tracked field
// changed; the posting was seen again this run.
func (p *Processor) reobserve(ctx context.Context, existing model.JobPosting, rec snapshot.JobRecord, runID uuid.UUID, jobTypeID *uuid.UUID, now time.Time) model.ProcessingResult {
	hasSource, err := p.store.HasSource(ctx, existing.ID, rec.Source)
	if err != nil {
		return errorResult(fmt.Errorf("check source: %w", err))
	}
	if hasSource {
		if err := p.store.TouchSource(ctx, existing.ID, rec.Source, now); err != nil {
			return errorResult(fmt.Errorf("touch source: %w", err))
		}
	} else {
		if err := p.store.AddSource(ctx, existing.ID, rec.Source, rec.VendorJobID, now); err != nil {
			return errorResult(fmt.Errorf("merge source: %w", err))
		}
		p.logger.Info("cross-source merge",
			zap.String("posting_id", existing.ID.String()),
			zap.String("existing_source", string(existing.Source)),
			zap.String("new_source", string(rec.Source)),
		)
	}

	candidate := dedup.Candidate{
		Title:          rec.Title,
		ApplicantCount: rec.ApplicantCount,
		Salary:         normalize.ParseSalary(rec.SalaryText),
		EmploymentType: strPtr(rec.EmploymentType),
		Seniority:      strPtr(rec.Seniority),
		ApplyAvailable: rec.ApplyAvailable,
	}

	patch := store.PostingPatch{LastSeenAt: &now}
	if dedup.Changed(existing, candidate) {
		patch.Title = &candidate.Title
		patch.ApplicantCount = candidate.ApplicantCount
		patch.Salary = candidate.Salary
		patch.EmploymentType = candidate.EmploymentType
		patch.Seniority = candidate.Seniority
		patch.ApplyAvailable = &candidate.ApplyAvailable
	}
	if err := p.store.UpdatePosting(ctx, existing.ID, patch); err != nil {
		return errorResult(fmt.Errorf("update posting: %w", err))
	}

	if text := normalize.CleanDescription(rec.DescriptionHTML); text != "" {
		if err := p.store.UpsertDescription(ctx, existing.ID, text, strPtr(rec.DescriptionHTML)); err != nil {
			return errorResult(fmt.Errorf("save description: %w", err))
		}
	}
	if err := p.finish(ctx, existing.ID, runID, jobTypeID, now); err != nil {
		return errorResult(err)
	}

	return model.ProcessingResult{Status: model.ProcessedUpdated, JobPostingID: existing.ID}
}

// finish appends the audit entry and, when the run carries a job type,
// assigns it to the posting.
func (p *Processor) finish(ctx context.Context, postingID, runID uuid.UUID, jobTypeID *uuid.UUID, now time.Time) error {
	if err := p.store.InsertScrapeHistory(ctx, postingID, runID, now); err != nil {
		return fmt.Errorf("append scrape history: %w", err)
	}
	if jobTypeID != nil {
		if err := p.store.AssignJobType(ctx, postingID, *jobTypeID, "scrape"); err != nil {
			return fmt.Errorf("assign job type: %w", err)
		}
	}
	return nil
}

func validate(rec snapshot.JobRecord) error {
	if !rec.Source.Valid() {
		return fmt.Errorf("invalid source %q", rec.Source)
	}
	if rec.VendorJobID == "" {
		return fmt.Errorf("record missing vendor job id")
	}
	if rec.Title == "" {
		return fmt.Errorf("record %s missing title", rec.VendorJobID)
	}
	if rec.CompanyName == "" {
		return fmt.Errorf("record %s missing company name", rec.VendorJobID)
	}
	return nil
}

func vendorIDs(rec snapshot.JobRecord) store.VendorIDs {
	var ids store.VendorIDs
	if rec.CompanyVendorID == "" {
		return ids
	}
	switch rec.Source {
	case model.SourceLinkedIn:
		ids.LinkedIn = &rec.CompanyVendorID
	case model.SourceIndeed:
		ids.Indeed = &rec.CompanyVendorID
	}
	return ids
}

func errorResult(err error) model.ProcessingResult {
	return model.ProcessingResult{Status: model.ProcessedError, ErrorMessage: err.Error()}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
