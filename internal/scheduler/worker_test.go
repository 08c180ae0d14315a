package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"riskflow/backend/internal/apperr"
)

type recordingRunner struct {
	mu   sync.Mutex
	ran  []Item
	errs map[string]error
}

func (r *recordingRunner) RunScheduled(_ context.Context, item Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, item)
	return r.errs[item.StepID]
}

func (r *recordingRunner) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ran))
	for i, item := range r.ran {
		out[i] = item.StepID
	}
	return out
}

func TestWorker_RunDueRunsInOrder(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	q := NewMemoryQueue(time.Minute)
	runner := &recordingRunner{}
	w := NewWorker(q, runner, WorkerOptions{Clock: mock})

	require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), mock.Now(), 1, 4, 8)...))

	n, err := w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mock.Add(5 * time.Hour)
	n, err = w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"step_2", "step_3"}, runner.steps())

	mock.Add(8 * time.Hour)
	n, err = w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, q.Len())
}

func TestWorker_FailedRunIsRedelivered(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	q := NewMemoryQueue(time.Minute)
	runner := &recordingRunner{errs: map[string]error{"step_2": errors.New("database unavailable")}}
	w := NewWorker(q, runner, WorkerOptions{Clock: mock})

	require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), mock.Now(), 1)...))
	mock.Add(time.Hour)

	n, err := w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len())

	// still leased
	n, err = w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mock.Add(2 * time.Minute)
	runner.mu.Lock()
	runner.errs = nil
	runner.mu.Unlock()

	n, err = w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, q.Len())
}

func TestWorker_StaleItemIsDropped(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	q := NewMemoryQueue(time.Minute)
	runner := &recordingRunner{errs: map[string]error{
		"step_2": &apperr.InvalidStateError{ExecutionID: "x", State: "cancelled", Op: "run step of"},
	}}
	w := NewWorker(q, runner, WorkerOptions{Clock: mock})

	require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), mock.Now(), 1)...))
	mock.Add(time.Hour)

	_, err := w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
}

func TestWorker_StartAndStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	q := NewMemoryQueue(time.Minute)
	runner := &recordingRunner{}
	w := NewWorker(q, runner, WorkerOptions{PollInterval: 10 * time.Millisecond, MaxParallel: 2})

	past := time.Now().Add(-3 * time.Hour)
	require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), past, 1)...))
	require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), past, 1)...))

	w.Start(ctx)

	require.Eventually(t, func() bool { return q.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, runner.steps(), 2)

	cancel()
	w.WaitForCompletion()
}
