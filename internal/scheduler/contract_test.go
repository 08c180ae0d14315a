package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskflow/backend/pkg/models"
)

func planItems(execID string, start time.Time, hours ...int) []Item {
	items := make([]Item, len(hours))
	offset := 0
	for i, h := range hours {
		offset += h
		stepID := fmt.Sprintf("step_%d", i+2)
		items[i] = Item{
			ExecutionID: execID,
			StepID:      stepID,
			Ordinal:     i + 2,
			FireAt:      start.Add(time.Duration(offset) * time.Hour),
			Step: models.StepSpec{
				ID:           stepID,
				Name:         stepID,
				Kind:         models.StepTask,
				AssignedRole: "risk_analyst",
				DueHours:     models.Hours(h),
			},
			Last: i == len(hours)-1,
		}
	}
	return items
}

// runQueueContract exercises behaviour every Queue implementation must share.
func runQueueContract(t *testing.T, newQueue func(t *testing.T, lease time.Duration) Queue) {
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Nothing is due before its fire time", func(t *testing.T) {
		q := newQueue(t, time.Minute)
		require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), start, 1)...))

		items, err := q.Claim(ctx, start.Add(30*time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, items)

		items, err = q.Claim(ctx, start.Add(time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "step_2", items[0].StepID)
		assert.True(t, items[0].Last)
		require.NotNil(t, items[0].Step.DueHours)
		assert.Equal(t, 1, *items[0].Step.DueHours)
	})

	t.Run("Head of line per execution", func(t *testing.T) {
		q := newQueue(t, time.Minute)
		execID := uuid.NewString()
		require.NoError(t, q.Enqueue(ctx, planItems(execID, start, 1, 1, 1)...))

		late := start.Add(10 * time.Hour)
		items, err := q.Claim(ctx, late, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "step_2", items[0].StepID)

		// Leased head blocks the rest of the execution.
		items, err = q.Claim(ctx, late, 10)
		require.NoError(t, err)
		assert.Empty(t, items)

		require.NoError(t, q.Complete(ctx, Item{ExecutionID: execID, StepID: "step_2"}))
		items, err = q.Claim(ctx, late, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "step_3", items[0].StepID)
	})

	t.Run("Executions are independent", func(t *testing.T) {
		q := newQueue(t, time.Minute)
		require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), start, 1, 1)...))
		require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), start, 1, 1)...))

		items, err := q.Claim(ctx, start.Add(5*time.Hour), 10)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("Expired lease is redelivered", func(t *testing.T) {
		q := newQueue(t, time.Minute)
		require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), start, 1)...))

		now := start.Add(time.Hour)
		items, err := q.Claim(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)

		items, err = q.Claim(ctx, now.Add(2*time.Minute), 10)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("Enqueue is idempotent", func(t *testing.T) {
		q := newQueue(t, time.Minute)
		execID := uuid.NewString()
		items := planItems(execID, start, 1, 2)
		require.NoError(t, q.Enqueue(ctx, items...))
		require.NoError(t, q.Enqueue(ctx, items...))

		n, err := q.CancelExecution(ctx, execID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("Cancel drops queued items", func(t *testing.T) {
		q := newQueue(t, time.Minute)
		execID := uuid.NewString()
		require.NoError(t, q.Enqueue(ctx, planItems(execID, start, 1, 1, 1)...))

		n, err := q.CancelExecution(ctx, execID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		items, err := q.Claim(ctx, start.Add(24*time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("Claim honours the limit", func(t *testing.T) {
		q := newQueue(t, time.Minute)
		for i := 0; i < 5; i++ {
			require.NoError(t, q.Enqueue(ctx, planItems(uuid.NewString(), start, 1)...))
		}

		items, err := q.Claim(ctx, start.Add(time.Hour), 2)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})
}
