package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"jobradar/internal/config"
	"jobradar/internal/metrics"
	"jobradar/internal/model"
	"jobradar/internal/orchestrator"
	"jobradar/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

type listRunsCall struct {
	includeArchived bool
	offset, limit   int
}

type fakeAPIStore struct {
	mu           sync.Mutex
	queries      map[uuid.UUID]model.SearchQuery
	runs         map[uuid.UUID]model.ScrapeRun
	runList      []model.ScrapeRun
	patches      map[uuid.UUID][]store.RunPatch
	companies    []model.Company
	upserts      []string
	triggerCount int
	listCalls    []listRunsCall
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		queries: make(map[uuid.UUID]model.SearchQuery),
		runs:    make(map[uuid.UUID]model.ScrapeRun),
		patches: make(map[uuid.UUID][]store.RunPatch),
	}
}

func (f *fakeAPIStore) CreateQuery(_ context.Context, q model.SearchQuery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[q.ID] = q
	return nil
}

func (f *fakeAPIStore) UpdateQuery(_ context.Context, q model.SearchQuery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queries[q.ID]; !ok {
		return store.ErrNotFound
	}
	f.queries[q.ID] = q
	return nil
}

func (f *fakeAPIStore) DeleteQuery(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queries[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.queries, id)
	return nil
}

func (f *fakeAPIStore) GetQuery(_ context.Context, id uuid.UUID) (model.SearchQuery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queries[id]
	if !ok {
		return model.SearchQuery{}, store.ErrNotFound
	}
	return q, nil
}

func (f *fakeAPIStore) ListQueries(_ context.Context, activeOnly bool) ([]model.SearchQuery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SearchQuery
	for _, q := range f.queries {
		if activeOnly && !q.IsActive {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeAPIStore) ListRuns(_ context.Context, includeArchived bool, offset, limit int) ([]model.ScrapeRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, listRunsCall{includeArchived, offset, limit})
	return f.runList, nil
}

func (f *fakeAPIStore) GetRun(_ context.Context, id uuid.UUID) (model.ScrapeRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return model.ScrapeRun{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeAPIStore) UpdateRun(_ context.Context, id uuid.UUID, patch store.RunPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[id]; !ok {
		return store.ErrNotFound
	}
	f.patches[id] = append(f.patches[id], patch)
	return nil
}

func (f *fakeAPIStore) CountTriggersSince(_ context.Context, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggerCount, nil
}

func (f *fakeAPIStore) ListCompanies(_ context.Context, offset, limit int) ([]model.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.companies) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.companies) {
		end = len(f.companies)
	}
	return f.companies[offset:end], nil
}

func (f *fakeAPIStore) UpsertCompany(_ context.Context, name string, _ store.VendorIDs, _, _, _ *string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, name)
	return uuid.New(), nil
}

type fakeRunner struct {
	mu     sync.Mutex
	params []orchestrator.Params
	done   chan struct{}
}

func (f *fakeRunner) ExecuteScrapeRun(_ context.Context, p orchestrator.Params) (orchestrator.RunResult, error) {
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return orchestrator.RunResult{RunID: uuid.New(), Status: model.RunCompleted}, nil
}

type fakeRegistrar struct {
	mu           sync.Mutex
	registered   []model.SearchQuery
	deregistered []uuid.UUID
}

func (f *fakeRegistrar) Register(_ context.Context, q model.SearchQuery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, q)
	return nil
}

func (f *fakeRegistrar) Deregister(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered = append(f.deregistered, id)
}

func testConfig() config.Config {
	return config.Config{
		Scrape: config.ScrapeConfig{PollSeconds: 1, DeadlineSeconds: 30},
	}
}

func newTestServer(st Store, runner Runner, sched Registrar) *Server {
	return NewServer(st, runner, sched, &fakeClock{now: testNow}, zap.NewNop(), testConfig())
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeAPIStore(), &fakeRunner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_CreateQuery_Succeeds(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	sched := &fakeRegistrar{}
	server := newTestServer(st, &fakeRunner{}, sched)

	body := `{
		"source": "linkedin",
		"search_text": "data engineer",
		"location_text": "Gent",
		"schedule": {"enabled": true, "kind": "daily", "time_of_day": "06:30"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/queries", strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEqual(t, uuid.Nil, resp.ID)
	require.Equal(t, model.SourceLinkedIn, resp.Source)
	require.True(t, resp.IsActive)

	stored, ok := st.queries[resp.ID]
	require.True(t, ok)
	require.Equal(t, "data engineer", stored.SearchText)
	require.Len(t, sched.registered, 1)
	require.Equal(t, resp.ID, sched.registered[0].ID)
}

func TestServer_CreateQuery_InvalidSource(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeAPIStore(), &fakeRunner{}, nil)
	body := `{"source": "monster", "search_text": "data engineer"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/queries", strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "source must be")
}

func TestServer_CreateQuery_BadSchedule(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeAPIStore(), &fakeRunner{}, nil)
	body := `{
		"source": "indeed",
		"search_text": "bi analyst",
		"schedule": {"enabled": true, "kind": "daily", "time_of_day": "25:99"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/queries", strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UpdateQuery_NotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeAPIStore(), &fakeRunner{}, nil)
	body := `{"source": "linkedin", "search_text": "data engineer"}`
	url := "/v1/queries/" + uuid.NewString()
	req := httptest.NewRequest(http.MethodPut, url, strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeleteQuery_Deregisters(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	q := model.SearchQuery{ID: uuid.New(), Source: model.SourceLinkedIn, SearchText: "data engineer"}
	st.queries[q.ID] = q
	sched := &fakeRegistrar{}
	server := newTestServer(st, &fakeRunner{}, sched)

	req := httptest.NewRequest(http.MethodDelete, "/v1/queries/"+q.ID.String(), nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, st.queries)
	require.Equal(t, []uuid.UUID{q.ID}, sched.deregistered)
}

func TestServer_TriggerRun_Accepted(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	runner := &fakeRunner{done: make(chan struct{})}
	server := newTestServer(st, runner, nil)

	body := `{"source": "indeed", "search_text": "data engineer", "location_text": "Gent"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not invoked")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.params, 1)
	require.Equal(t, model.SourceIndeed, runner.params[0].Source)
	require.Equal(t, model.TriggerAPI, runner.params[0].Trigger)
	require.Equal(t, "data engineer", runner.params[0].SearchText)
}

func TestServer_TriggerRun_QuotaExceededLogs(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	st.triggerCount = 5
	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig()
	cfg.Vendor.DailyQuota = 5
	runner := &fakeRunner{done: make(chan struct{})}
	server := NewServer(st, runner, nil, &fakeClock{now: testNow}, zap.New(core), cfg)

	body := `{"source": "linkedin", "search_text": "data engineer"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("daily trigger quota exceeded").Len())
	<-runner.done
}

func TestServer_ListRuns_Pagination(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	st.runList = []model.ScrapeRun{{
		ID:         uuid.New(),
		SearchText: "data engineer",
		Source:     model.SourceLinkedIn,
		Status:     model.RunCompleted,
		Trigger:    model.TriggerScheduled,
		StartedAt:  testNow,
	}}
	server := newTestServer(st, &fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?include_archived=true&offset=20&limit=10", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []listRunsCall{{includeArchived: true, offset: 20, limit: 10}}, st.listCalls)
	require.Contains(t, rec.Body.String(), "data engineer")
}

func TestServer_GetRun_NotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeAPIStore(), &fakeRunner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StopRun_MarksFailed(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	run := model.ScrapeRun{ID: uuid.New(), Status: model.RunRunning, StartedAt: testNow.Add(-time.Hour)}
	st.runs[run.ID] = run
	server := newTestServer(st, &fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs/"+run.ID.String()+"/stop", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	patches := st.patches[run.ID]
	require.Len(t, patches, 1)
	require.Equal(t, model.RunFailed, *patches[0].Status)
	require.Equal(t, "stopped by operator", *patches[0].Error)
	require.Equal(t, testNow, *patches[0].CompletedAt)
	require.True(t, patches[0].ClearRetry)
}

func TestServer_StopRun_AlreadyFinished(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	done := testNow.Add(-time.Hour)
	run := model.ScrapeRun{ID: uuid.New(), Status: model.RunCompleted, CompletedAt: &done}
	st.runs[run.ID] = run
	server := newTestServer(st, &fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs/"+run.ID.String()+"/stop", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Empty(t, st.patches[run.ID])
}

func TestServer_ArchiveRun(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	run := model.ScrapeRun{ID: uuid.New(), Status: model.RunFailed}
	st.runs[run.ID] = run
	server := newTestServer(st, &fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs/"+run.ID.String()+"/archive", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	patches := st.patches[run.ID]
	require.Len(t, patches, 1)
	require.True(t, *patches[0].Archived)
}

func TestServer_BasicAuth(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Admin = config.AdminConfig{Username: "admin", Password: "hunter2"}
	server := NewServer(newFakeAPIStore(), &fakeRunner{}, nil, &fakeClock{now: testNow}, zap.NewNop(), cfg)

	cases := []struct {
		name       string
		user, pass string
		withCreds  bool
		want       int
	}{
		{name: "missing credentials", want: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "wrong", withCreds: true, want: http.StatusUnauthorized},
		{name: "valid credentials", user: "admin", pass: "hunter2", withCreds: true, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/queries", nil)
			if tc.withCreds {
				req.SetBasicAuth(tc.user, tc.pass)
			}
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}

	// Probes stay open.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ExportCompanies_CSV(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	li := "acme-li"
	industry := "Software"
	st.companies = []model.Company{
		{ID: uuid.New(), CanonicalName: "acme", LinkedInID: &li, Industry: &industry},
		{ID: uuid.New(), CanonicalName: "globex"},
	}
	server := newTestServer(st, &fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/companies/export", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "canonical_name,linkedin_id,indeed_id,logo_url,industry", lines[0])
	require.Equal(t, "acme,acme-li,,,Software", lines[1])
	require.Equal(t, "globex,,,,", lines[2])
}

func TestServer_ImportCompanies(t *testing.T) {
	t.Parallel()

	st := newFakeAPIStore()
	server := newTestServer(st, &fakeRunner{}, nil)

	body := strings.Join([]string{
		"canonical_name,linkedin_id,indeed_id,logo_url,industry",
		"acme,acme-li,,https://logo.example/acme.png,Software",
		",,,,",
		"globex,,globex-in,,",
	}, "\n")
	req := httptest.NewRequest(http.MethodPost, "/v1/companies/import", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp["imported"])
	require.Equal(t, 1, resp["skipped"])
	require.Equal(t, []string{"acme", "globex"}, st.upserts)
}

func TestServer_ImportCompanies_BadHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeAPIStore(), &fakeRunner{}, nil)
	body := "name,city\nacme,Gent"
	req := httptest.NewRequest(http.MethodPost, "/v1/companies/import", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
