package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobradar/internal/model"
	"jobradar/internal/normalize"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestUpsertCompanyFindsByVendorID(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	liID := "lnk-123"
	existing := uuid.New()

	mock.ExpectQuery("SELECT id FROM companies WHERE linkedin_id").
		WithArgs(liID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(existing))
	website := "https://dxc.com"
	mock.ExpectExec("UPDATE companies SET").
		WithArgs(existing, &liID, (*string)(nil), (*string)(nil), (*string)(nil), &website).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := s.UpsertCompany(context.Background(), "DXC Technology", VendorIDs{LinkedIn: &liID}, nil, nil, &website)
	require.NoError(t, err)
	assert.Equal(t, existing, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCompanyInsertsWhenUnknown(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	liID := "lnk-999"

	mock.ExpectQuery("SELECT id FROM companies WHERE linkedin_id").
		WithArgs(liID).
		WillReturnError(pgx.ErrNoRows)

	mock.ExpectQuery("SELECT c.id").
		WithArgs("Fresh Co").
		WillReturnError(pgx.ErrNoRows)

	mock.ExpectExec("INSERT INTO companies").
		WithArgs(pgxmock.AnyArg(), "Fresh Co", &liID, (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.UpsertCompany(context.Background(), "Fresh Co", VendorIDs{LinkedIn: &liID}, nil, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrInsertLocationExisting(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	existing := uuid.New()

	mock.ExpectQuery("SELECT id FROM locations WHERE raw_string").
		WithArgs("Brussels, BE").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(existing))

	id, err := s.GetOrInsertLocation(context.Background(), "Brussels, BE",
		normalize.ParsedLocation{City: "Brussels", CountryCode: "BE"})
	require.NoError(t, err)
	assert.Equal(t, existing, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrInsertLocationInserts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	inserted := uuid.New()
	city := "Ghent"
	cc := "BE"

	mock.ExpectQuery("SELECT id FROM locations WHERE raw_string").
		WithArgs("Ghent, BE").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO locations").
		WithArgs(pgxmock.AnyArg(), "Ghent, BE", &city, (*string)(nil), &cc).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id FROM locations WHERE raw_string").
		WithArgs("Ghent, BE").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(inserted))

	id, err := s.GetOrInsertLocation(context.Background(), "Ghent, BE",
		normalize.ParsedLocation{City: "Ghent", CountryCode: "BE"})
	require.NoError(t, err)
	assert.Equal(t, inserted, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPostingByDedupKeyNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM job_postings WHERE dedup_key").
		WithArgs("bi developer|dxc technology").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.FindPostingByDedupKey(context.Background(), "bi developer|dxc technology")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErrorUniqueViolation(t *testing.T) {
	t.Parallel()

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "job_postings_dedup_key_key"}
	err := mapError("insert posting", pgErr)
	assert.True(t, errors.Is(err, ErrConstraint))
	assert.False(t, errors.Is(err, ErrTransport))
}

func TestMarkPostingsInactive(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE job_postings").
		WithArgs(ids, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.MarkPostingsInactive(context.Background(), ids, at)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPostingsInactiveEmpty(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	n, err := s.MarkPostingsInactive(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAndUpdateRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	run := model.ScrapeRun{
		ID:           uuid.New(),
		SearchText:   "Data Engineer",
		LocationText: "Belgium",
		Source:       model.SourceLinkedIn,
		Status:       model.RunRunning,
		Trigger:      model.TriggerManual,
		StartedAt:    time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		MaxRetries:   model.DefaultMaxRetries,
		Metadata:     model.RunMetadata{DateRange: model.RangePastMonth},
	}

	mock.ExpectExec("INSERT INTO scrape_runs").
		WithArgs(run.ID, run.QueryID, run.JobTypeID, run.SearchText,
			run.LocationText, run.Source, run.Status, run.Trigger, run.StartedAt,
			0, 0, 0, (*string)(nil), 0, run.MaxRetries, run.OriginalRunID,
			run.NextRetryAt, false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.CreateRun(context.Background(), run))

	completed := model.RunCompleted
	done := run.StartedAt.Add(5 * time.Minute)
	found := 3
	mock.ExpectExec("UPDATE scrape_runs SET").
		WithArgs(run.ID, completed, done, found).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateRun(context.Background(), run.ID, RunPatch{
		Status:      &completed,
		CompletedAt: &done,
		JobsFound:   &found,
	}))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	failed := model.RunFailed

	mock.ExpectExec("UPDATE scrape_runs SET").
		WithArgs(id, failed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRun(context.Background(), id, RunPatch{Status: &failed})
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPendingTitleClassificationsWindow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-24 * time.Hour)
	postingID := uuid.New()

	mock.ExpectQuery("WHERE title_class IS NULL").
		WithArgs(cutoff, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title"}).
			AddRow(postingID, "Data Engineer"))

	out, err := s.FetchPendingTitleClassifications(context.Background(), 10, 24*time.Hour, now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, postingID, out[0].JobPostingID)
	assert.Equal(t, "Data Engineer", out[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndFailTitleClassification(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	postingID := uuid.New()
	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("SET title_class =").
		WithArgs(postingID, model.TitleClassData, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.SaveTitleClassification(context.Background(), postingID, model.TitleClassData, at))

	mock.ExpectExec("SET title_class_error =").
		WithArgs(postingID, "Unexpected classification: Banana", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.RecordTitleClassificationError(context.Background(), postingID, "Unexpected classification: Banana", at))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCompanyEnrichmentError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	companyID := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("INSERT INTO company_profiles").
		WithArgs(companyID, "schema drift: missing category", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordCompanyEnrichmentError(context.Background(), companyID, "schema drift: missing category", at))
	require.NoError(t, mock.ExpectationsWereMet())
}
