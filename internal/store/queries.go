package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobradar/internal/model"
)

const queryColumns = `
id, source, search_text, location_text, job_type_id, lookback_days,
is_active, schedule, last_run_at, next_run_at`

// CreateQuery inserts a search query row.
func (s *Store) CreateQuery(ctx context.Context, q model.SearchQuery) error {
	sched, err := json.Marshal(q.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO search_queries (
	id, source, search_text, location_text, job_type_id, lookback_days,
	is_active, schedule
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		q.ID, q.Source, q.SearchText, q.LocationText, q.JobTypeID,
		q.LookbackDays, q.IsActive, sched,
	)
	return mapError("create query", err)
}

// UpdateQuery rewrites the mutable fields of a search query.
func (s *Store) UpdateQuery(ctx context.Context, q model.SearchQuery) error {
	sched, err := json.Marshal(q.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE search_queries SET
	source = $2, search_text = $3, location_text = $4, job_type_id = $5,
	lookback_days = $6, is_active = $7, schedule = $8
WHERE id = $1`,
		q.ID, q.Source, q.SearchText, q.LocationText, q.JobTypeID,
		q.LookbackDays, q.IsActive, sched,
	)
	if err != nil {
		return mapError("update query", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update query %s: %w", q.ID, ErrNotFound)
	}
	return nil
}

// DeleteQuery removes a search query.
func (s *Store) DeleteQuery(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_queries WHERE id = $1`, id)
	if err != nil {
		return mapError("delete query", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete query %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetQuery loads one search query.
func (s *Store) GetQuery(ctx context.Context, id uuid.UUID) (model.SearchQuery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+queryColumns+` FROM search_queries WHERE id = $1`, id)
	q, err := scanQuery(row)
	return q, mapError("get query", err)
}

// ListQueries returns all search queries, optionally only active ones.
func (s *Store) ListQueries(ctx context.Context, activeOnly bool) ([]model.SearchQuery, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+queryColumns+`
FROM search_queries
WHERE is_active OR NOT $1
ORDER BY search_text, location_text`,
		activeOnly)
	if err != nil {
		return nil, mapError("list queries", err)
	}
	defer rows.Close()

	var out []model.SearchQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, mapError("scan query", err)
		}
		out = append(out, q)
	}
	return out, mapError("list queries", rows.Err())
}

// ListScheduledQueries returns active queries with scheduling enabled.
func (s *Store) ListScheduledQueries(ctx context.Context) ([]model.SearchQuery, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+queryColumns+`
FROM search_queries
WHERE is_active AND (schedule->>'enabled')::boolean
ORDER BY search_text, location_text`)
	if err != nil {
		return nil, mapError("list scheduled queries", err)
	}
	defer rows.Close()

	var out []model.SearchQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, mapError("scan scheduled query", err)
		}
		out = append(out, q)
	}
	return out, mapError("list scheduled queries", rows.Err())
}

// UpdateQueryRunTimes patches last_run_at/next_run_at after a firing.
func (s *Store) UpdateQueryRunTimes(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE search_queries SET last_run_at = $2, next_run_at = $3 WHERE id = $1`,
		id, lastRun, nextRun,
	)
	return mapError("update query run times", err)
}

func scanQuery(row interface{ Scan(...any) error }) (model.SearchQuery, error) {
	var (
		q     model.SearchQuery
		sched []byte
	)
	err := row.Scan(
		&q.ID, &q.Source, &q.SearchText, &q.LocationText, &q.JobTypeID,
		&q.LookbackDays, &q.IsActive, &sched, &q.LastRunAt, &q.NextRunAt,
	)
	if err != nil {
		return model.SearchQuery{}, err
	}
	if len(sched) > 0 {
		if err := json.Unmarshal(sched, &q.Schedule); err != nil {
			return model.SearchQuery{}, fmt.Errorf("unmarshal schedule: %w", err)
		}
	}
	return q, nil
}
