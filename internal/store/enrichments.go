package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"jobradar/internal/model"
)

// PendingTitle is a posting awaiting title classification.
type PendingTitle struct {
	JobPostingID uuid.UUID
	Title        string
}

// PendingJob is a posting awaiting structured extraction.
type PendingJob struct {
	JobPostingID uuid.UUID
	Title        string
	CompanyName  string
	Description  string
}

// PendingCompany is a company awaiting profile extraction.
type PendingCompany struct {
	CompanyID     uuid.UUID
	CanonicalName string
	Industry      *string
}

// InsertEnrichmentStub creates the one-to-one enrichment row for a posting at
// ingestion time. Safe to call repeatedly.
func (s *Store) InsertEnrichmentStub(ctx context.Context, postingID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_enrichments (job_posting_id)
VALUES ($1)
ON CONFLICT (job_posting_id) DO NOTHING`,
		postingID,
	)
	return mapError("insert enrichment stub", err)
}

// FetchPendingTitleClassifications selects postings that were never
// classified, or whose last classification failure is older than the retry
// window. Entities inside the window stay invisible.
func (s *Store) FetchPendingTitleClassifications(ctx context.Context, limit int, retryWindow time.Duration, now time.Time) ([]PendingTitle, error) {
	cutoff := now.Add(-retryWindow)
	rows, err := s.pool.Query(ctx, `
SELECT id, title
FROM job_postings
WHERE title_class IS NULL
  AND (title_class_error IS NULL OR title_class_at < $1)
ORDER BY created_at
LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, mapError("fetch pending titles", err)
	}
	defer rows.Close()

	var out []PendingTitle
	for rows.Next() {
		var p PendingTitle
		if err := rows.Scan(&p.JobPostingID, &p.Title); err != nil {
			return nil, mapError("scan pending title", err)
		}
		out = append(out, p)
	}
	return out, mapError("fetch pending titles", rows.Err())
}

// SaveTitleClassification records a successful classification. The value is
// written exactly once; errors from earlier attempts are cleared.
func (s *Store) SaveTitleClassification(ctx context.Context, postingID uuid.UUID, class model.TitleClass, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE job_postings
SET title_class = $2, title_class_at = $3, title_class_error = NULL
WHERE id = $1 AND title_class IS NULL`,
		postingID, class, at,
	)
	return mapError("save title classification", err)
}

// RecordTitleClassificationError stores a failed classification attempt; the
// classification itself stays null.
func (s *Store) RecordTitleClassificationError(ctx context.Context, postingID uuid.UUID, msg string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE job_postings
SET title_class_error = $2, title_class_at = $3
WHERE id = $1`,
		postingID, msg, at,
	)
	return mapError("record title classification error", err)
}

// FetchPendingJobEnrichments selects enrichment rows never completed and not
// inside the retry window of their last failure.
func (s *Store) FetchPendingJobEnrichments(ctx context.Context, limit int, retryWindow time.Duration, now time.Time) ([]PendingJob, error) {
	cutoff := now.Add(-retryWindow)
	rows, err := s.pool.Query(ctx, `
SELECT e.job_posting_id, p.title, c.canonical_name, COALESCE(d.description_text, '')
FROM job_enrichments e
JOIN job_postings p ON p.id = e.job_posting_id
JOIN companies c ON c.id = p.company_id
LEFT JOIN job_descriptions d ON d.job_posting_id = e.job_posting_id
WHERE e.completed_at IS NULL
  AND (e.error IS NULL OR e.attempted_at < $1)
ORDER BY p.created_at
LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, mapError("fetch pending job enrichments", err)
	}
	defer rows.Close()

	var out []PendingJob
	for rows.Next() {
		var p PendingJob
		if err := rows.Scan(&p.JobPostingID, &p.Title, &p.CompanyName, &p.Description); err != nil {
			return nil, mapError("scan pending job enrichment", err)
		}
		out = append(out, p)
	}
	return out, mapError("fetch pending job enrichments", rows.Err())
}

// SaveJobEnrichment persists the structured extraction for a posting, sets
// completed_at and clears any earlier error.
func (s *Store) SaveJobEnrichment(ctx context.Context, e model.JobEnrichment, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE job_enrichments SET
	role_type = $2, seniority_tags = $3, contract_tags = $4,
	summary_nl = $5, summary_fr = $6, summary_en = $7,
	long_nl = $8, long_fr = $9, long_en = $10,
	must_languages = $11, nice_languages = $12,
	must_ecosystem = $13, nice_ecosystem = $14,
	must_spoken = $15, nice_spoken = $16,
	perks = $17,
	completed_at = $18, attempted_at = $18, error = NULL
WHERE job_posting_id = $1`,
		e.JobPostingID, e.RoleType, e.SeniorityTags, e.ContractTags,
		e.SummaryNL, e.SummaryFR, e.SummaryEN,
		e.LongNL, e.LongFR, e.LongEN,
		e.MustLanguages, e.NiceLanguages,
		e.MustEcosystem, e.NiceEcosystem,
		e.MustSpoken, e.NiceSpoken,
		e.Perks, at,
	)
	return mapError("save job enrichment", err)
}

// RecordJobEnrichmentError stores a failed extraction attempt; completed_at
// stays null.
func (s *Store) RecordJobEnrichmentError(ctx context.Context, postingID uuid.UUID, msg string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE job_enrichments
SET error = $2, attempted_at = $3
WHERE job_posting_id = $1`,
		postingID, msg, at,
	)
	return mapError("record job enrichment error", err)
}

// MarkNeedsRanking flags a posting for the downstream reranker.
func (s *Store) MarkNeedsRanking(ctx context.Context, postingID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE job_postings SET needs_ranking = true WHERE id = $1`, postingID)
	return mapError("mark needs ranking", err)
}

// FetchPendingCompanyEnrichments selects companies with no completed profile
// that are outside the retry window of their last failure.
func (s *Store) FetchPendingCompanyEnrichments(ctx context.Context, limit int, retryWindow time.Duration, now time.Time) ([]PendingCompany, error) {
	cutoff := now.Add(-retryWindow)
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.canonical_name, c.industry
FROM companies c
LEFT JOIN company_profiles cp ON cp.company_id = c.id
WHERE (cp.company_id IS NULL OR NOT cp.ai_enriched)
  AND (cp.ai_error IS NULL OR cp.ai_at < $1)
ORDER BY c.created_at
LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, mapError("fetch pending company enrichments", err)
	}
	defer rows.Close()

	var out []PendingCompany
	for rows.Next() {
		var p PendingCompany
		if err := rows.Scan(&p.CompanyID, &p.CanonicalName, &p.Industry); err != nil {
			return nil, mapError("scan pending company enrichment", err)
		}
		out = append(out, p)
	}
	return out, mapError("fetch pending company enrichments", rows.Err())
}

// SaveCompanyProfile upserts the AI-derived master data for a company and
// marks it enriched.
func (s *Store) SaveCompanyProfile(ctx context.Context, p model.CompanyProfile, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO company_profiles (
	company_id, profile_nl, profile_fr, profile_en, size_class, factlets,
	belgian_hint, hiring_model, ai_enriched, ai_at, ai_error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,true,$9,NULL)
ON CONFLICT (company_id) DO UPDATE SET
	profile_nl = EXCLUDED.profile_nl,
	profile_fr = EXCLUDED.profile_fr,
	profile_en = EXCLUDED.profile_en,
	size_class = EXCLUDED.size_class,
	factlets = EXCLUDED.factlets,
	belgian_hint = EXCLUDED.belgian_hint,
	hiring_model = EXCLUDED.hiring_model,
	ai_enriched = true, ai_at = EXCLUDED.ai_at, ai_error = NULL`,
		p.CompanyID, p.ProfileNL, p.ProfileFR, p.ProfileEN, p.SizeClass,
		p.Factlets, p.BelgianHint, p.HiringModel, at,
	)
	return mapError("save company profile", err)
}

// RecordCompanyEnrichmentError stores a failed profile attempt; ai_enriched
// stays false.
func (s *Store) RecordCompanyEnrichmentError(ctx context.Context, companyID uuid.UUID, msg string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO company_profiles (company_id, ai_enriched, ai_error, ai_at)
VALUES ($1, false, $2, $3)
ON CONFLICT (company_id) DO UPDATE SET ai_error = EXCLUDED.ai_error, ai_at = EXCLUDED.ai_at`,
		companyID, msg, at,
	)
	return mapError("record company enrichment error", err)
}
