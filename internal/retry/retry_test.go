package retry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobradar/internal/model"
	"jobradar/internal/orchestrator"
	"jobradar/internal/store"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeRetryStore struct {
	due     []model.ScrapeRun
	stuck   []model.ScrapeRun
	runs    map[uuid.UUID]model.ScrapeRun
	created []model.ScrapeRun
	patches map[uuid.UUID][]store.RunPatch
}

func newFakeRetryStore() *fakeRetryStore {
	return &fakeRetryStore{
		runs:    map[uuid.UUID]model.ScrapeRun{},
		patches: map[uuid.UUID][]store.RunPatch{},
	}
}

func (f *fakeRetryStore) ListDueRetries(context.Context, time.Time) ([]model.ScrapeRun, error) {
	return f.due, nil
}

func (f *fakeRetryStore) ListStuckRuns(context.Context, time.Time) ([]model.ScrapeRun, error) {
	return f.stuck, nil
}

func (f *fakeRetryStore) GetRun(_ context.Context, id uuid.UUID) (model.ScrapeRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return model.ScrapeRun{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeRetryStore) CreateRun(_ context.Context, run model.ScrapeRun) error {
	f.created = append(f.created, run)
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRetryStore) UpdateRun(_ context.Context, id uuid.UUID, patch store.RunPatch) error {
	f.patches[id] = append(f.patches[id], patch)
	return nil
}

type fakeRunner struct {
	resumed []model.ScrapeRun
}

func (f *fakeRunner) Resume(_ context.Context, run model.ScrapeRun) orchestrator.RunResult {
	f.resumed = append(f.resumed, run)
	return orchestrator.RunResult{RunID: run.ID, Status: model.RunCompleted}
}

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestService(st *fakeRetryStore, runner *fakeRunner) *Service {
	return New(st, runner, fixedClock{now: testNow}, zap.NewNop(),
		30*time.Minute, time.Hour, 4*time.Hour)
}

func stuckRun(retryCount int) model.ScrapeRun {
	return model.ScrapeRun{
		ID:           uuid.New(),
		SearchText:   "data engineer",
		LocationText: "Ghent",
		Source:       model.SourceLinkedIn,
		Status:       model.RunRunning,
		Trigger:      model.TriggerScheduled,
		StartedAt:    testNow.Add(-2 * time.Hour),
		RetryCount:   retryCount,
		MaxRetries:   model.DefaultMaxRetries,
		Metadata:     model.RunMetadata{DateRange: model.RangePastWeek},
	}
}

func TestPromoteDueRetries(t *testing.T) {
	st := newFakeRetryStore()
	next := testNow.Add(-time.Minute)
	due := model.ScrapeRun{
		ID:          uuid.New(),
		Status:      model.RunPendingRetry,
		RetryCount:  1,
		MaxRetries:  model.DefaultMaxRetries,
		NextRetryAt: &next,
	}
	st.due = []model.ScrapeRun{due}
	runner := &fakeRunner{}

	s := newTestService(st, runner)
	s.Tick(context.Background())

	patches := st.patches[due.ID]
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].Status)
	assert.Equal(t, model.RunRunning, *patches[0].Status)
	assert.True(t, patches[0].ClearRetry)

	require.Len(t, runner.resumed, 1)
	assert.Equal(t, due.ID, runner.resumed[0].ID)
	assert.Equal(t, model.RunRunning, runner.resumed[0].Status)
	assert.Nil(t, runner.resumed[0].NextRetryAt)
}

func TestReapStuckCreatesRetry(t *testing.T) {
	st := newFakeRetryStore()
	run := stuckRun(0)
	st.stuck = []model.ScrapeRun{run}

	s := newTestService(st, &fakeRunner{})
	require.NoError(t, s.ReapStuck(context.Background()))

	// Original run failed with a stuck marker.
	patches := st.patches[run.ID]
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].Status)
	assert.Equal(t, model.RunFailed, *patches[0].Status)
	require.NotNil(t, patches[0].Error)
	assert.Contains(t, *patches[0].Error, "stuck")
	assert.Equal(t, "stuck", patches[0].Metadata.ErrorType)

	// A pending_retry row chained to the stuck run.
	require.Len(t, st.created, 1)
	retry := st.created[0]
	assert.Equal(t, model.RunPendingRetry, retry.Status)
	assert.Equal(t, 1, retry.RetryCount)
	require.NotNil(t, retry.OriginalRunID)
	assert.Equal(t, run.ID, *retry.OriginalRunID)
	require.NotNil(t, retry.NextRetryAt)
	assert.Equal(t, testNow.Add(4*time.Hour), *retry.NextRetryAt)
	assert.Equal(t, run.SearchText, retry.SearchText)
	assert.Equal(t, run.Metadata.DateRange, retry.Metadata.DateRange)
}

func TestReapStuckChainsToLineageRoot(t *testing.T) {
	st := newFakeRetryStore()
	root := stuckRun(0)
	root.Status = model.RunFailed
	st.runs[root.ID] = root

	second := stuckRun(1)
	second.OriginalRunID = &root.ID
	st.stuck = []model.ScrapeRun{second}

	s := newTestService(st, &fakeRunner{})
	require.NoError(t, s.ReapStuck(context.Background()))

	require.Len(t, st.created, 1)
	require.NotNil(t, st.created[0].OriginalRunID)
	assert.Equal(t, root.ID, *st.created[0].OriginalRunID)
	assert.Equal(t, 2, st.created[0].RetryCount)
}

func TestReapStuckExhaustedBudget(t *testing.T) {
	st := newFakeRetryStore()
	run := stuckRun(model.DefaultMaxRetries)
	st.stuck = []model.ScrapeRun{run}

	s := newTestService(st, &fakeRunner{})
	require.NoError(t, s.ReapStuck(context.Background()))

	patches := st.patches[run.ID]
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].Error)
	assert.Contains(t, *patches[0].Error, "exhausted")

	// No sixth attempt.
	assert.Empty(t, st.created)
}

func TestLineageRootDanglingPointer(t *testing.T) {
	st := newFakeRetryStore()
	s := newTestService(st, &fakeRunner{})

	missing := uuid.New()
	run := stuckRun(2)
	run.OriginalRunID = &missing

	root, err := s.lineageRoot(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, missing, root)
}
