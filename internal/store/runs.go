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

const runColumns = `
id, query_id, job_type_id, search_text, location_text, source, status,
trigger_kind, started_at, completed_at, jobs_found, jobs_new, jobs_updated,
error, retry_count, max_retries, original_run_id, next_retry_at, archived,
metadata`

// CreateRun inserts a new scrape run row.
func (s *Store) CreateRun(ctx context.Context, run model.ScrapeRun) error {
	meta, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO scrape_runs (
	id, query_id, job_type_id, search_text, location_text, source, status,
	trigger_kind, started_at, jobs_found, jobs_new, jobs_updated, error,
	retry_count, max_retries, original_run_id, next_retry_at, archived, metadata
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		run.ID, run.QueryID, run.JobTypeID, run.SearchText, run.LocationText,
		run.Source, run.Status, run.Trigger, run.StartedAt, run.JobsFound,
		run.JobsNew, run.JobsUpdated, run.Error, run.RetryCount, run.MaxRetries,
		run.OriginalRunID, run.NextRetryAt, run.Archived, meta,
	)
	return mapError("create run", err)
}

// RunPatch is a partial update applied to a scrape run.
type RunPatch struct {
	Status      *model.RunStatus
	CompletedAt *time.Time
	JobsFound   *int
	JobsNew     *int
	JobsUpdated *int
	Error       *string
	NextRetryAt *time.Time
	ClearRetry  bool
	Archived    *bool
	Metadata    *model.RunMetadata
}

// UpdateRun applies a patch to a run row.
func (s *Store) UpdateRun(ctx context.Context, id uuid.UUID, patch RunPatch) error {
	sets := make([]string, 0, 8)
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.JobsFound != nil {
		add("jobs_found", *patch.JobsFound)
	}
	if patch.JobsNew != nil {
		add("jobs_new", *patch.JobsNew)
	}
	if patch.JobsUpdated != nil {
		add("jobs_updated", *patch.JobsUpdated)
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.NextRetryAt != nil {
		add("next_retry_at", *patch.NextRetryAt)
	} else if patch.ClearRetry {
		sets = append(sets, "next_retry_at = NULL")
	}
	if patch.Archived != nil {
		add("archived", *patch.Archived)
	}
	if patch.Metadata != nil {
		meta, err := json.Marshal(*patch.Metadata)
		if err != nil {
			return fmt.Errorf("marshal run metadata: %w", err)
		}
		add("metadata", meta)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE scrape_runs SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError("update run", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun loads one run row.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (model.ScrapeRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+runColumns+` FROM scrape_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	return run, mapError("get run", err)
}

// GetLastCompletedRun returns the most recent completed run for a (search
// text, location text, source) tuple.
func (s *Store) GetLastCompletedRun(ctx context.Context, searchText, locationText string, source model.Source) (model.ScrapeRun, error) {
	row := s.pool.QueryRow(ctx, `
SELECT`+runColumns+`
FROM scrape_runs
WHERE search_text = $1 AND location_text = $2 AND source = $3 AND status = 'completed'
ORDER BY completed_at DESC
LIMIT 1`,
		searchText, locationText, source)
	run, err := scanRun(row)
	return run, mapError("get last completed run", err)
}

// ListRuns pages run rows, newest first. Archived runs are excluded unless
// requested.
func (s *Store) ListRuns(ctx context.Context, includeArchived bool, offset, limit int) ([]model.ScrapeRun, error) {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	rows, err := s.pool.Query(ctx, `
SELECT`+runColumns+`
FROM scrape_runs
WHERE archived = false OR $1
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`,
		includeArchived, limit, offset)
	if err != nil {
		return nil, mapError("list runs", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListDueRetries returns runs in pending_retry whose next_retry_at has passed.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time) ([]model.ScrapeRun, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+runColumns+`
FROM scrape_runs
WHERE status = 'pending_retry' AND next_retry_at <= $1
ORDER BY next_retry_at`,
		now)
	if err != nil {
		return nil, mapError("list due retries", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListStuckRuns returns runs still marked running that started before the
// cutoff.
func (s *Store) ListStuckRuns(ctx context.Context, startedBefore time.Time) ([]model.ScrapeRun, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+runColumns+`
FROM scrape_runs
WHERE status = 'running' AND started_at < $1
ORDER BY started_at`,
		startedBefore)
	if err != nil {
		return nil, mapError("list stuck runs", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// CountTriggersSince counts runs started after the cutoff, used for the
// passive daily-quota log.
func (s *Store) CountTriggersSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM scrape_runs WHERE started_at >= $1`, since,
	).Scan(&n)
	return n, mapError("count triggers", err)
}

func collectRuns(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.ScrapeRun, error) {
	var runs []model.ScrapeRun
	for rows.Next() {
		run, err := scanRunFrom(rows)
		if err != nil {
			return nil, mapError("scan run", err)
		}
		runs = append(runs, run)
	}
	return runs, mapError("collect runs", rows.Err())
}

func scanRun(row interface{ Scan(...any) error }) (model.ScrapeRun, error) {
	return scanRunFrom(row)
}

func scanRunFrom(row interface{ Scan(...any) error }) (model.ScrapeRun, error) {
	var (
		run  model.ScrapeRun
		meta []byte
	)
	err := row.Scan(
		&run.ID, &run.QueryID, &run.JobTypeID, &run.SearchText, &run.LocationText,
		&run.Source, &run.Status, &run.Trigger, &run.StartedAt, &run.CompletedAt,
		&run.JobsFound, &run.JobsNew, &run.JobsUpdated, &run.Error,
		&run.RetryCount, &run.MaxRetries, &run.OriginalRunID, &run.NextRetryAt,
		&run.Archived, &meta,
	)
	if err != nil {
		return model.ScrapeRun{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &run.Metadata); err != nil {
			return model.ScrapeRun{}, fmt.Errorf("unmarshal run metadata: %w", err)
		}
	}
	return run, nil
}
