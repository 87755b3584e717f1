package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-crm/tessera/internal/cache"
	"github.com/tessera-crm/tessera/internal/config"
	"github.com/tessera-crm/tessera/internal/materializer"
)

// recorderRecalc records trigger dispatches and signals each call.
type recorderRecalc struct {
	mu      sync.Mutex
	singles []uuid.UUID
	full    int
	calls   chan struct{}
}

func newRecorderRecalc() *recorderRecalc {
	return &recorderRecalc{calls: make(chan struct{}, 16)}
}

func (r *recorderRecalc) Recalculate(_ context.Context, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	r.singles = append(r.singles, id)
	r.mu.Unlock()
	r.calls <- struct{}{}
	return 0, nil
}

func (r *recorderRecalc) RecalculateAll(context.Context) (materializer.Summary, error) {
	r.mu.Lock()
	r.full++
	r.mu.Unlock()
	r.calls <- struct{}{}
	return materializer.Summary{}, nil
}

func (r *recorderRecalc) snapshot() ([]uuid.UUID, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.singles...), r.full
}

func testWorkerConfig() *config.WorkerConfig {
	return &config.WorkerConfig{
		Enabled: true,
		// Far enough out that the schedule never fires during a test run.
		Schedule:      "@every 1h",
		PopTimeout:    10 * time.Millisecond,
		RecalcTimeout: time.Second,
	}
}

func waitForCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recalculation dispatch")
	}
}

func TestRunDispatchesSingleSegmentTrigger(t *testing.T) {
	t.Parallel()

	queue := cache.NewMemoryQueue()
	recal := newRecorderRecalc()
	svc := NewService(testWorkerConfig(), queue, recal)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	id := uuid.New()
	require.NoError(t, queue.EnqueueRecalc(ctx, id.String()))
	waitForCall(t, recal.calls)

	cancel()
	require.NoError(t, <-done)

	singles, full := recal.snapshot()
	assert.Equal(t, []uuid.UUID{id}, singles)
	assert.Zero(t, full)
}

func TestRunDispatchesFullPassTrigger(t *testing.T) {
	t.Parallel()

	queue := cache.NewMemoryQueue()
	recal := newRecorderRecalc()
	svc := NewService(testWorkerConfig(), queue, recal)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.NoError(t, queue.EnqueueRecalc(ctx, cache.RecalcAllTarget))
	waitForCall(t, recal.calls)

	cancel()
	require.NoError(t, <-done)

	singles, full := recal.snapshot()
	assert.Empty(t, singles)
	assert.Equal(t, 1, full)
}

func TestRunDiscardsMalformedTrigger(t *testing.T) {
	t.Parallel()

	queue := cache.NewMemoryQueue()
	recal := newRecorderRecalc()
	svc := NewService(testWorkerConfig(), queue, recal)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	id := uuid.New()
	require.NoError(t, queue.EnqueueRecalc(ctx, "not-a-uuid"))
	require.NoError(t, queue.EnqueueRecalc(ctx, id.String()))
	waitForCall(t, recal.calls)

	cancel()
	require.NoError(t, <-done)

	singles, _ := recal.snapshot()
	assert.Equal(t, []uuid.UUID{id}, singles)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	queue := cache.NewMemoryQueue()
	svc := NewService(testWorkerConfig(), queue, newRecorderRecalc())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestNewServiceRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	cfg := testWorkerConfig()
	cfg.Schedule = "every sometimes"
	svc := NewService(cfg, cache.NewMemoryQueue(), newRecorderRecalc())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := svc.Run(ctx)

	assert.Error(t, err)
}
