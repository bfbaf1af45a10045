package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"jobradar/internal/model"
)

// MockClient serves records from a JSON fixture file, pin-compatible with the
// real vendor client. Snapshots become ready after a configurable number of
// status polls so the orchestrator's polling path gets exercised.
type MockClient struct {
	source     model.Source
	records    []JobRecord
	readyAfter int

	mu    sync.Mutex
	seq   int
	polls map[string]int
}

// NewMock loads the fixture and builds a mock client for the given source.
// The fixture is a JSON array of JobRecord values; records for other sources
// are filtered out.
func NewMock(source model.Source, fixturePath string) (*MockClient, error) {
	data, err := os.ReadFile(fixturePath)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var all []JobRecord
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	records := make([]JobRecord, 0, len(all))
	for _, r := range all {
		if r.Source == source || r.Source == "" {
			r.Source = source
			records = append(records, r)
		}
	}
	return &MockClient{
		source:     source,
		records:    records,
		readyAfter: 1,
		polls:      map[string]int{},
	}, nil
}

// Source identifies the platform this client mocks.
func (m *MockClient) Source() model.Source {
	return m.source
}

// Trigger returns a fresh synthetic snapshot id.
func (m *MockClient) Trigger(_ context.Context, _, _ string, _ model.DateRange, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("mock-%s-%d", m.source, m.seq)
	m.polls[id] = 0
	return id, nil
}

// SnapshotStatus reports running until the snapshot has been polled
// readyAfter times.
func (m *MockClient) SnapshotStatus(_ context.Context, snapshotID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.polls[snapshotID]
	if !ok {
		return Status{}, fmt.Errorf("unknown snapshot %q: %w", snapshotID, ErrBadRequest)
	}
	m.polls[snapshotID] = n + 1
	if n < m.readyAfter {
		return Status{State: StateRunning, ProgressPct: 50}, nil
	}
	return Status{State: StateReady, ProgressPct: 100}, nil
}

// Download returns the fixture records once the snapshot is ready.
func (m *MockClient) Download(_ context.Context, snapshotID string) ([]JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.polls[snapshotID]
	if !ok {
		return nil, fmt.Errorf("unknown snapshot %q: %w", snapshotID, ErrBadRequest)
	}
	if n <= m.readyAfter {
		return nil, fmt.Errorf("snapshot %s still building: %w", snapshotID, ErrNotReady)
	}
	out := make([]JobRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

// AwaitReady polls status then downloads, mirroring the real client.
func (m *MockClient) AwaitReady(ctx context.Context, snapshotID string, pollEvery, deadline time.Duration) ([]JobRecord, error) {
	dl := time.Now().Add(deadline)
	for {
		st, err := m.SnapshotStatus(ctx, snapshotID)
		if err != nil {
			return nil, err
		}
		if st.State == StateReady {
			return m.Download(ctx, snapshotID)
		}
		if time.Now().After(dl) {
			return nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}
