package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobradar/internal/model"
)

const postingColumns = `
id, source, vendor_job_id, company_id, location_id, title, employment_type,
seniority, applicant_count, apply_available, posted_at, salary, job_url,
apply_url, dedup_key, title_class, title_class_error, title_class_at,
needs_ranking, is_active, last_seen_at, detected_inactive_at, created_at`

// FindPostingByDedupKey looks up the canonical posting for a dedup key.
func (s *Store) FindPostingByDedupKey(ctx context.Context, key string) (model.JobPosting, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+postingColumns+` FROM job_postings WHERE dedup_key = $1`, key)
	p, err := scanPosting(row)
	return p, mapError("find posting by dedup key", err)
}

// InsertPosting writes a new canonical posting.
func (s *Store) InsertPosting(ctx context.Context, p model.JobPosting) error {
	salaryJSON, err := marshalSalary(p.Salary)
	if err != nil {
		return fmt.Errorf("marshal salary: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO job_postings (
	id, source, vendor_job_id, company_id, location_id, title, employment_type,
	seniority, applicant_count, apply_available, posted_at, salary, job_url,
	apply_url, dedup_key, is_active, last_seen_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		p.ID, p.Source, p.VendorJobID, p.CompanyID, p.LocationID, p.Title,
		p.EmploymentType, p.Seniority, p.ApplicantCount, p.ApplyAvailable,
		p.PostedAt, salaryJSON, p.JobURL, p.ApplyURL, p.DedupKey,
		p.IsActive, p.LastSeenAt, p.CreatedAt,
	)
	return mapError("insert posting", err)
}

// PostingPatch is a partial update applied to a posting; nil fields are left
// untouched.
type PostingPatch struct {
	Title          *string
	EmploymentType *string
	Seniority      *string
	ApplicantCount *int
	ApplyAvailable *bool
	Salary         *model.Salary
	LastSeenAt     *time.Time
	NeedsRanking   *bool
}

// UpdatePosting applies a patch to a posting row.
func (s *Store) UpdatePosting(ctx context.Context, id uuid.UUID, patch PostingPatch) error {
	sets := make([]string, 0, 8)
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.EmploymentType != nil {
		add("employment_type", *patch.EmploymentType)
	}
	if patch.Seniority != nil {
		add("seniority", *patch.Seniority)
	}
	if patch.ApplicantCount != nil {
		add("applicant_count", *patch.ApplicantCount)
	}
	if patch.ApplyAvailable != nil {
		add("apply_available", *patch.ApplyAvailable)
	}
	if patch.Salary != nil {
		salaryJSON, err := marshalSalary(patch.Salary)
		if err != nil {
			return fmt.Errorf("marshal salary: %w", err)
		}
		add("salary", salaryJSON)
	}
	if patch.LastSeenAt != nil {
		add("last_seen_at", *patch.LastSeenAt)
	}
	if patch.NeedsRanking != nil {
		add("needs_ranking", *patch.NeedsRanking)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE job_postings SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError("update posting", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update posting %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddSource records that a vendor saw this posting. Duplicate (posting,
// source) pairs are treated as already-exists.
func (s *Store) AddSource(ctx context.Context, postingID uuid.UUID, source model.Source, vendorJobID string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_sources (job_posting_id, source, vendor_job_id, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (job_posting_id, source) DO NOTHING`,
		postingID, source, vendorJobID, seenAt,
	)
	return mapError("add source", err)
}

// HasSource reports whether a (posting, source) row exists.
func (s *Store) HasSource(ctx context.Context, postingID uuid.UUID, source model.Source) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_sources WHERE job_posting_id = $1 AND source = $2)`,
		postingID, source,
	).Scan(&exists)
	return exists, mapError("has source", err)
}

// TouchSource advances last_seen_at on a source row.
func (s *Store) TouchSource(ctx context.Context, postingID uuid.UUID, source model.Source, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE job_sources SET last_seen_at = $3 WHERE job_posting_id = $1 AND source = $2`,
		postingID, source, seenAt,
	)
	return mapError("touch source", err)
}

// UpsertDescription writes the one-to-one description for a posting.
func (s *Store) UpsertDescription(ctx context.Context, postingID uuid.UUID, text string, html *string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_descriptions (job_posting_id, description_text, description_html)
VALUES ($1, $2, $3)
ON CONFLICT (job_posting_id) DO UPDATE
SET description_text = EXCLUDED.description_text,
    description_html = EXCLUDED.description_html`,
		postingID, text, html,
	)
	return mapError("upsert description", err)
}

// InsertScrapeHistory appends an audit row tying a posting to the run that
// observed it. Re-observation within the same run is a no-op.
func (s *Store) InsertScrapeHistory(ctx context.Context, postingID, runID uuid.UUID, detectedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_scrape_history (job_posting_id, scrape_run_id, detected_at)
VALUES ($1, $2, $3)
ON CONFLICT (job_posting_id, scrape_run_id) DO NOTHING`,
		postingID, runID, detectedAt,
	)
	return mapError("insert scrape history", err)
}

// AssignJobType tags a posting with a job type, ignoring duplicates.
func (s *Store) AssignJobType(ctx context.Context, postingID, typeID uuid.UUID, via string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_type_assignments (job_posting_id, job_type_id, assigned_via)
VALUES ($1, $2, $3)
ON CONFLICT (job_posting_id, job_type_id) DO NOTHING`,
		postingID, typeID, via,
	)
	return mapError("assign job type", err)
}

// MarkPostingsInactive bulk-flips active postings whose ids are listed. The
// transition is one-way; already-inactive rows are untouched.
func (s *Store) MarkPostingsInactive(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE job_postings
SET is_active = false, detected_inactive_at = $2
WHERE id = ANY($1) AND is_active`,
		ids, at,
	)
	if err != nil {
		return 0, mapError("mark postings inactive", err)
	}
	return tag.RowsAffected(), nil
}

// ListActivePostingsLastSeenBefore pages through active postings whose
// last_seen_at predates the cutoff.
func (s *Store) ListActivePostingsLastSeenBefore(ctx context.Context, cutoff time.Time, offset int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id FROM job_postings
WHERE is_active AND last_seen_at < $1
ORDER BY last_seen_at
LIMIT $2 OFFSET $3`,
		cutoff, PageSize, offset,
	)
	if err != nil {
		return nil, mapError("list stale postings", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("scan stale posting", err)
		}
		ids = append(ids, id)
	}
	return ids, mapError("list stale postings", rows.Err())
}

func scanPosting(row interface{ Scan(...any) error }) (model.JobPosting, error) {
	var (
		p          model.JobPosting
		salaryJSON []byte
	)
	err := row.Scan(
		&p.ID, &p.Source, &p.VendorJobID, &p.CompanyID, &p.LocationID, &p.Title,
		&p.EmploymentType, &p.Seniority, &p.ApplicantCount, &p.ApplyAvailable,
		&p.PostedAt, &salaryJSON, &p.JobURL, &p.ApplyURL, &p.DedupKey,
		&p.TitleClass, &p.TitleClassError, &p.TitleClassAt, &p.NeedsRanking,
		&p.IsActive, &p.LastSeenAt, &p.DetectedInactiveAt, &p.CreatedAt,
	)
	if err != nil {
		return model.JobPosting{}, err
	}
	if len(salaryJSON) > 0 {
		var sal model.Salary
		if err := json.Unmarshal(salaryJSON, &sal); err != nil {
			return model.JobPosting{}, fmt.Errorf("unmarshal salary: %w", err)
		}
		p.Salary = &sal
	}
	return p, nil
}

func marshalSalary(sal *model.Salary) ([]byte, error) {
	if sal == nil {
		return nil, nil
	}
	b, err := json.Marshal(sal)
	if err != nil {
		return nil, err
	}
	return b, nil
}
