package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"jobradar/internal/model"
	"jobradar/internal/normalize"
)

// GetOrInsertLocation resolves a location by its raw string, inserting the
// parsed form when unseen. Idempotent by raw_string.
func (s *Store) GetOrInsertLocation(ctx context.Context, raw string, parsed normalize.ParsedLocation) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM locations WHERE raw_string = $1`, raw,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if mapped := mapError("find location", err); !errors.Is(mapped, ErrNotFound) {
		return uuid.Nil, mapped
	}

	id = uuid.New()
	_, err = s.pool.Exec(ctx, `
INSERT INTO locations (id, raw_string, city, region, country_code)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (raw_string) DO NOTHING`,
		id, raw, nullable(parsed.City), nullable(parsed.Region), nullable(parsed.CountryCode),
	)
	if err != nil {
		return uuid.Nil, mapError("insert location", err)
	}

	// A concurrent insert may have won; read the surviving id.
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM locations WHERE raw_string = $1`, raw,
	).Scan(&id)
	return id, mapError("reread location", err)
}

// GetLocation loads one location row.
func (s *Store) GetLocation(ctx context.Context, id uuid.UUID) (model.Location, error) {
	var l model.Location
	err := s.pool.QueryRow(ctx, `
SELECT id, raw_string, city, region, country_code, ai_enriched, ai_error, ai_at
FROM locations WHERE id = $1`, id,
	).Scan(&l.ID, &l.RawString, &l.City, &l.Region, &l.CountryCode, &l.AIEnriched, &l.AIError, &l.AIAt)
	return l, mapError("get location", err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
