package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"jobradar/internal/model"
)

// VendorIDs carries the per-platform company identifiers observed on a record.
type VendorIDs struct {
	LinkedIn *string
	Indeed   *string
}

// UpsertCompany resolves a company by vendor id first, then by canonical
// name, inserting a new row when neither matches. When several rows share the
// canonical name the "best" one wins: an embedded logo blob beats a vendor
// id, which beats the posting count.
func (s *Store) UpsertCompany(ctx context.Context, name string, ids VendorIDs, logoURL, industry, website *string) (uuid.UUID, error) {
	if id, err := s.findCompanyByVendorID(ctx, ids); err == nil {
		return id, s.fillCompany(ctx, id, ids, logoURL, industry, website)
	} else if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, err
	}

	if id, err := s.findBestCompanyByName(ctx, name); err == nil {
		return id, s.fillCompany(ctx, id, ids, logoURL, industry, website)
	} else if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
INSERT INTO companies (id, canonical_name, linkedin_id, indeed_id, logo_url, industry, website, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		id, name, ids.LinkedIn, ids.Indeed, logoURL, industry, website,
	)
	if err != nil {
		mapped := mapError("insert company", err)
		if errors.Is(mapped, ErrConstraint) {
			// Concurrent insert won the race; resolve again.
			return s.findBestCompanyByName(ctx, name)
		}
		return uuid.Nil, mapped
	}
	return id, nil
}

func (s *Store) findCompanyByVendorID(ctx context.Context, ids VendorIDs) (uuid.UUID, error) {
	var id uuid.UUID
	switch {
	case ids.LinkedIn != nil:
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM companies WHERE linkedin_id = $1`, *ids.LinkedIn,
		).Scan(&id)
		return id, mapError("find company by linkedin id", err)
	case ids.Indeed != nil:
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM companies WHERE indeed_id = $1`, *ids.Indeed,
		).Scan(&id)
		return id, mapError("find company by indeed id", err)
	default:
		return uuid.Nil, mapError("find company by vendor id", pgx.ErrNoRows)
	}
}

func (s *Store) findBestCompanyByName(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
SELECT c.id
FROM companies c
WHERE c.canonical_name = $1
ORDER BY (c.logo_blob IS NOT NULL) DESC,
         (c.linkedin_id IS NOT NULL OR c.indeed_id IS NOT NULL) DESC,
         (SELECT count(*) FROM job_postings p WHERE p.company_id = c.id) DESC
LIMIT 1`, name,
	).Scan(&id)
	return id, mapError("find company by name", err)
}

// fillCompany backfills vendor ids, logo, industry and website that are still
// missing on a matched row. Values never get overwritten once set.
func (s *Store) fillCompany(ctx context.Context, id uuid.UUID, ids VendorIDs, logoURL, industry, website *string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE companies SET
	linkedin_id = COALESCE(linkedin_id, $2),
	indeed_id   = COALESCE(indeed_id, $3),
	logo_url    = COALESCE(logo_url, $4),
	industry    = COALESCE(industry, $5),
	website     = COALESCE(website, $6)
WHERE id = $1`,
		id, ids.LinkedIn, ids.Indeed, logoURL, industry, website,
	)
	return mapError("fill company", err)
}

// GetCompany loads one company row.
func (s *Store) GetCompany(ctx context.Context, id uuid.UUID) (model.Company, error) {
	var c model.Company
	err := s.pool.QueryRow(ctx, `
SELECT id, canonical_name, linkedin_id, indeed_id, logo_blob, logo_url, industry, website, created_at
FROM companies WHERE id = $1`, id,
	).Scan(&c.ID, &c.CanonicalName, &c.LinkedInID, &c.IndeedID, &c.LogoBlob, &c.LogoURL, &c.Industry, &c.Website, &c.CreatedAt)
	return c, mapError("get company", err)
}

// ListCompanies pages through the company table in name order.
func (s *Store) ListCompanies(ctx context.Context, offset, limit int) ([]model.Company, error) {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, canonical_name, linkedin_id, indeed_id, logo_blob, logo_url, industry, website, created_at
FROM companies
ORDER BY canonical_name
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapError("list companies", err)
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.CanonicalName, &c.LinkedInID, &c.IndeedID, &c.LogoBlob, &c.LogoURL, &c.Industry, &c.Website, &c.CreatedAt); err != nil {
			return nil, mapError("list companies", err)
		}
		out = append(out, c)
	}
	return out, mapError("list companies", rows.Err())
}
