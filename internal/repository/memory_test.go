package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskflow/backend/pkg/models"
)

func TestMemoryStore(t *testing.T) {
	runRepositoryContract(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	exec := &models.Execution{
		ID:      uuid.NewString(),
		Status:  models.ExecutionRunning,
		Context: map[string]any{"k": "v"},
	}
	require.NoError(t, store.InsertExecution(ctx, exec))
	exec.Context["k"] = "changed"

	got, err := store.FindExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Context["k"])

	got.Status = models.ExecutionFailed
	again, err := store.FindExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, again.Status)
}
