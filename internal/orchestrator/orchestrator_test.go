package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobradar/internal/metrics"
	"jobradar/internal/model"
	"jobradar/internal/snapshot"
	"jobradar/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeRunStore struct {
	created []model.ScrapeRun
	patches map[uuid.UUID][]store.RunPatch
	last    *model.ScrapeRun

	createErr error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{patches: map[uuid.UUID][]store.RunPatch{}}
}

func (f *fakeRunStore) CreateRun(_ context.Context, run model.ScrapeRun) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, run)
	return nil
}

func (f *fakeRunStore) UpdateRun(_ context.Context, id uuid.UUID, patch store.RunPatch) error {
	f.patches[id] = append(f.patches[id], patch)
	return nil
}

func (f *fakeRunStore) GetLastCompletedRun(_ context.Context, _, _ string, _ model.Source) (model.ScrapeRun, error) {
	if f.last == nil {
		return model.ScrapeRun{}, store.ErrNotFound
	}
	return *f.last, nil
}

type fakeProcessor struct {
	results []model.ProcessingResult
	seen    []snapshot.JobRecord
}

func (f *fakeProcessor) Process(_ context.Context, _ uuid.UUID, _ *uuid.UUID, rec snapshot.JobRecord) model.ProcessingResult {
	f.seen = append(f.seen, rec)
	if len(f.results) == 0 {
		return model.ProcessingResult{Status: model.ProcessedNew, JobPostingID: uuid.New()}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

type fakeClient struct {
	source     model.Source
	snapshotID string
	records    []snapshot.JobRecord

	triggerErr error
	awaitErr   error
}

func (f *fakeClient) Trigger(context.Context, string, string, model.DateRange, int) (string, error) {
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	return f.snapshotID, nil
}

func (f *fakeClient) SnapshotStatus(context.Context, string) (snapshot.Status, error) {
	return snapshot.Status{State: snapshot.StateReady}, nil
}

func (f *fakeClient) Download(context.Context, string) ([]snapshot.JobRecord, error) {
	return f.records, nil
}

func (f *fakeClient) AwaitReady(context.Context, string, time.Duration, time.Duration) ([]snapshot.JobRecord, error) {
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}
	return f.records, nil
}

func (f *fakeClient) Source() model.Source { return f.source }

func newTestOrchestrator(runs *fakeRunStore, proc *fakeProcessor, client *fakeClient) *Orchestrator {
	factory := func(model.Source) (snapshot.Client, error) { return client, nil }
	clk := fixedClock{now: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)}
	return New(runs, proc, factory, clk, zap.NewNop(), time.Millisecond, time.Second, 0)
}

func testParams() Params {
	return Params{
		SearchText:   "data engineer",
		LocationText: "Ghent",
		Source:       model.SourceLinkedIn,
		Trigger:      model.TriggerManual,
	}
}

func TestExecuteScrapeRunCompletes(t *testing.T) {
	runs := newFakeRunStore()
	proc := &fakeProcessor{results: []model.ProcessingResult{
		{Status: model.ProcessedNew, JobPostingID: uuid.New()},
		{Status: model.ProcessedUpdated, JobPostingID: uuid.New()},
		{Status: model.ProcessedError, ErrorMessage: "record missing title"},
	}}
	client := &fakeClient{
		source:     model.SourceLinkedIn,
		snapshotID: "s_1",
		records: []snapshot.JobRecord{
			{Source: model.SourceLinkedIn, VendorJobID: "a"},
			{Source: model.SourceLinkedIn, VendorJobID: "b"},
			{Source: model.SourceLinkedIn, VendorJobID: "c"},
		},
	}

	o := newTestOrchestrator(runs, proc, client)
	res, err := o.ExecuteScrapeRun(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, res.Status)
	assert.Equal(t, 3, res.JobsFound)
	assert.Equal(t, 1, res.JobsNew)
	assert.Equal(t, 1, res.JobsUpdated)
	assert.Equal(t, 1, res.JobsError)

	require.Len(t, runs.created, 1)
	created := runs.created[0]
	assert.Equal(t, model.RunRunning, created.Status)
	// No prior completed run, so the widest window is used.
	assert.Equal(t, model.RangePastMonth, created.Metadata.DateRange)
	assert.Equal(t, model.DefaultMaxRetries, created.MaxRetries)

	patches := runs.patches[res.RunID]
	require.Len(t, patches, 2)
	// First patch persists the snapshot id before the wait.
	require.NotNil(t, patches[0].Metadata)
	assert.Equal(t, "s_1", patches[0].Metadata.SnapshotID)
	// Second patch closes the run.
	require.NotNil(t, patches[1].Status)
	assert.Equal(t, model.RunCompleted, *patches[1].Status)
	require.NotNil(t, patches[1].Metadata)
	assert.Equal(t, 3, patches[1].Metadata.JobsReturned)
	assert.Equal(t, 1, patches[1].Metadata.JobsError)
	assert.Equal(t, []string{"record missing title"}, patches[1].Metadata.ErrorDetails)
	assert.Equal(t, "3 records: 1 new, 1 updated, 1 errors", patches[1].Metadata.BatchSummary)
	assert.Len(t, proc.seen, 3)
}

func TestExecuteScrapeRunStampsConfiguredRetryBudget(t *testing.T) {
	runs := newFakeRunStore()
	client := &fakeClient{source: model.SourceLinkedIn}
	factory := func(model.Source) (snapshot.Client, error) { return client, nil }
	clk := fixedClock{now: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)}
	o := New(runs, &fakeProcessor{}, factory, clk, zap.NewNop(), time.Millisecond, time.Second, 2)

	_, err := o.ExecuteScrapeRun(context.Background(), testParams())
	require.NoError(t, err)
	require.Len(t, runs.created, 1)
	assert.Equal(t, 2, runs.created[0].MaxRetries)

	// A non-positive budget falls back to the model default.
	fallback := New(runs, &fakeProcessor{}, factory, clk, zap.NewNop(), time.Millisecond, time.Second, 0)
	assert.Equal(t, model.DefaultMaxRetries, fallback.maxRetries)
}

func TestExecuteScrapeRunUsesNarrowWindowAfterRecentRun(t *testing.T) {
	runs := newFakeRunStore()
	completed := time.Date(2026, 8, 31, 1, 0, 0, 0, time.UTC)
	runs.last = &model.ScrapeRun{
		Status:      model.RunCompleted,
		CompletedAt: &completed,
	}
	client := &fakeClient{source: model.SourceLinkedIn, snapshotID: "s_2"}

	o := newTestOrchestrator(runs, &fakeProcessor{}, client)
	_, err := o.ExecuteScrapeRun(context.Background(), testParams())
	require.NoError(t, err)

	require.Len(t, runs.created, 1)
	assert.Equal(t, model.RangePast24h, runs.created[0].Metadata.DateRange)
}

func TestExecuteScrapeRunHonorsLookbackOverride(t *testing.T) {
	runs := newFakeRunStore()
	client := &fakeClient{source: model.SourceLinkedIn, snapshotID: "s_3"}
	o := newTestOrchestrator(runs, &fakeProcessor{}, client)

	p := testParams()
	days := 7
	p.LookbackDays = &days
	_, err := o.ExecuteScrapeRun(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, runs.created, 1)
	assert.Equal(t, model.RangePastWeek, runs.created[0].Metadata.DateRange)
}

func TestExecuteScrapeRunTriggerFailure(t *testing.T) {
	runs := newFakeRunStore()
	client := &fakeClient{
		source:     model.SourceLinkedIn,
		triggerErr: snapshot.ErrQuotaExceeded,
	}

	o := newTestOrchestrator(runs, &fakeProcessor{}, client)
	res, err := o.ExecuteScrapeRun(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, model.RunFailed, res.Status)
	assert.Contains(t, res.Error, "trigger snapshot")

	patches := runs.patches[res.RunID]
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].Status)
	assert.Equal(t, model.RunFailed, *patches[0].Status)
	require.NotNil(t, patches[0].Metadata)
	assert.Equal(t, "quota_exceeded", patches[0].Metadata.ErrorType)
}

func TestExecuteScrapeRunAwaitTimeout(t *testing.T) {
	runs := newFakeRunStore()
	client := &fakeClient{
		source:     model.SourceLinkedIn,
		snapshotID: "s_4",
		awaitErr:   snapshot.ErrTimeout,
	}

	o := newTestOrchestrator(runs, &fakeProcessor{}, client)
	res, err := o.ExecuteScrapeRun(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, model.RunFailed, res.Status)
	patches := runs.patches[res.RunID]
	// Snapshot id was persisted before the failure.
	require.Len(t, patches, 2)
	assert.Equal(t, "s_4", patches[0].Metadata.SnapshotID)
	assert.Equal(t, "timeout", patches[1].Metadata.ErrorType)
}

func TestExecuteScrapeRunCreateError(t *testing.T) {
	runs := newFakeRunStore()
	runs.createErr = store.ErrTransport

	o := newTestOrchestrator(runs, &fakeProcessor{}, &fakeClient{source: model.SourceLinkedIn})
	_, err := o.ExecuteScrapeRun(context.Background(), testParams())
	assert.ErrorIs(t, err, store.ErrTransport)
}

func TestResumeReusesRunRow(t *testing.T) {
	runs := newFakeRunStore()
	client := &fakeClient{
		source:     model.SourceLinkedIn,
		snapshotID: "s_5",
		records:    []snapshot.JobRecord{{Source: model.SourceLinkedIn, VendorJobID: "a"}},
	}
	o := newTestOrchestrator(runs, &fakeProcessor{}, client)

	run := model.ScrapeRun{
		ID:           uuid.New(),
		SearchText:   "data engineer",
		LocationText: "Ghent",
		Source:       model.SourceLinkedIn,
		Status:       model.RunRunning,
		Trigger:      model.TriggerScheduled,
		StartedAt:    time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC),
		RetryCount:   1,
		MaxRetries:   model.DefaultMaxRetries,
		Metadata:     model.RunMetadata{DateRange: model.RangePastWeek},
	}
	res := o.Resume(context.Background(), run)

	assert.Equal(t, model.RunCompleted, res.Status)
	assert.Equal(t, run.ID, res.RunID)
	assert.Empty(t, runs.created)
	require.NotEmpty(t, runs.patches[run.ID])
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{snapshot.ErrQuotaExceeded, "quota_exceeded"},
		{snapshot.ErrAuth, "auth"},
		{snapshot.ErrBadRequest, "bad_request"},
		{snapshot.ErrTimeout, "timeout"},
		{snapshot.ErrBuildFailed, "build_failed"},
		{context.Canceled, "canceled"},
		{errors.New("connection reset"), "transport"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyError(tt.err), tt.want)
	}
}
