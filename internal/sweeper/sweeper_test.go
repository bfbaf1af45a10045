package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobradar/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)

type fakeSweepStore struct {
	pages      [][]uuid.UUID
	gotCutoffs []time.Time
	marked     [][]uuid.UUID
	markedAt   []time.Time
}

func (f *fakeSweepStore) ListActivePostingsLastSeenBefore(_ context.Context, cutoff time.Time, _ int) ([]uuid.UUID, error) {
	f.gotCutoffs = append(f.gotCutoffs, cutoff)
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeSweepStore) MarkPostingsInactive(_ context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	f.marked = append(f.marked, ids)
	f.markedAt = append(f.markedAt, at)
	return int64(len(ids)), nil
}

func newTestSweeper(st *fakeSweepStore, pageSize int) *Sweeper {
	return New(st, fixedClock{now: testNow}, zap.NewNop(),
		6*time.Hour, 14*24*time.Hour, pageSize)
}

func TestSweepMarksStalePostings(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	st := &fakeSweepStore{pages: [][]uuid.UUID{ids}}

	s := newTestSweeper(st, 1000)
	swept, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), swept)

	require.Len(t, st.marked, 1)
	assert.Equal(t, ids, st.marked[0])
	assert.Equal(t, testNow, st.markedAt[0])
	// Cutoff is exactly the threshold before now.
	assert.Equal(t, testNow.Add(-14*24*time.Hour), st.gotCutoffs[0])
}

func TestSweepPagination(t *testing.T) {
	full := make([]uuid.UUID, 3)
	for i := range full {
		full[i] = uuid.New()
	}
	short := []uuid.UUID{uuid.New()}
	st := &fakeSweepStore{pages: [][]uuid.UUID{full, short}}

	s := newTestSweeper(st, 3)
	swept, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), swept)
	assert.Len(t, st.marked, 2)
}

func TestSweepNothingStale(t *testing.T) {
	st := &fakeSweepStore{}

	s := newTestSweeper(st, 1000)
	swept, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, swept)
	assert.Empty(t, st.marked)
}
