package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

// runRepositoryContract exercises behaviour every Repository implementation
// must share.
func runRepositoryContract(t *testing.T, store Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	newExecution := func() *models.Execution {
		due := now.Add(5 * time.Hour)
		return &models.Execution{
			ID:         uuid.NewString(),
			WorkflowID: "incident_response",
			OrgID:      "org-1",
			Status:     models.ExecutionRunning,
			Context:    map[string]any{"severity": "high"},
			StepsCount: 4,
			DueAt:      &due,
			StartedAt:  now,
		}
	}

	t.Run("Insert and find execution", func(t *testing.T) {
		exec := newExecution()
		require.NoError(t, store.InsertExecution(ctx, exec))

		got, err := store.FindExecutionByID(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, exec.WorkflowID, got.WorkflowID)
		assert.Equal(t, models.ExecutionRunning, got.Status)
		assert.Equal(t, "high", got.Context["severity"])
		assert.True(t, exec.StartedAt.Equal(got.StartedAt))

		assert.ErrorIs(t, store.InsertExecution(ctx, exec), apperr.ErrConflict)
	})

	t.Run("Unknown execution", func(t *testing.T) {
		_, err := store.FindExecutionByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Update execution compares status", func(t *testing.T) {
		exec := newExecution()
		require.NoError(t, store.InsertExecution(ctx, exec))

		exec.Status = models.ExecutionCompleted
		done := now.Add(time.Minute)
		exec.CompletedAt = &done
		require.NoError(t, store.UpdateExecution(ctx, exec, models.ExecutionRunning))

		exec.Status = models.ExecutionCancelled
		assert.ErrorIs(t, store.UpdateExecution(ctx, exec, models.ExecutionRunning), apperr.ErrConflict)

		got, err := store.FindExecutionByID(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("Executions due before", func(t *testing.T) {
		exec := newExecution()
		exec.OrgID = "org-due"
		require.NoError(t, store.InsertExecution(ctx, exec))

		due, err := store.FindExecutionsDueBefore(ctx, models.ExecutionRunning, now.Add(6*time.Hour))
		require.NoError(t, err)
		assert.True(t, containsExecution(due, exec.ID))

		notYet, err := store.FindExecutionsDueBefore(ctx, models.ExecutionRunning, now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, containsExecution(notYet, exec.ID))

		byOrg, err := store.FindExecutionsByOrgAndStatus(ctx, "org-due", models.ExecutionRunning)
		require.NoError(t, err)
		require.Len(t, byOrg, 1)
		assert.Equal(t, exec.ID, byOrg[0].ID)
	})

	t.Run("Log entries keep append order", func(t *testing.T) {
		exec := newExecution()
		require.NoError(t, store.InsertExecution(ctx, exec))

		var last int64
		for _, step := range []string{"assessment", "notify_management", "manager_approval"} {
			entry := &models.ExecutionLogEntry{
				ExecutionID: exec.ID,
				StepID:      step,
				StepName:    step,
				Status:      models.LogScheduled,
				DueHours:    models.Hours(4),
				StartedAt:   now,
			}
			require.NoError(t, store.AppendLogEntry(ctx, entry))
			assert.Greater(t, entry.Seq, last)
			last = entry.Seq
		}

		entries, err := store.ListLogEntries(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "assessment", entries[0].StepID)
		assert.Equal(t, "manager_approval", entries[2].StepID)
		require.NotNil(t, entries[0].DueHours)
		assert.Equal(t, 4, *entries[0].DueHours)
		assert.Nil(t, entries[0].Error)
	})

	t.Run("Tasks and approvals", func(t *testing.T) {
		task := &models.Task{
			ID:           uuid.NewString(),
			OrgID:        "org-items",
			ExecutionID:  uuid.NewString(),
			WorkflowID:   "incident_response",
			StepID:       "assessment",
			Name:         "Initial assessment",
			AssignedRole: "incident_manager",
			Severity:     models.SeverityHigh,
			DueDate:      now.Add(time.Hour),
			Status:       models.WorkItemPending,
			CreatedAt:    now,
		}
		require.NoError(t, store.InsertTask(ctx, task))

		pending, err := store.FindTasksByOrgAndStatus(ctx, "org-items", models.WorkItemPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, models.SeverityHigh, pending[0].Severity)

		overdue, err := store.FindTasksDueBefore(ctx, models.WorkItemPending, now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.NotEmpty(t, overdue)

		task.Status = models.WorkItemCompleted
		require.NoError(t, store.UpdateTask(ctx, task))
		got, err := store.FindTaskByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkItemCompleted, got.Status)

		approval := &models.ApprovalRequest{
			ID:           uuid.NewString(),
			OrgID:        "org-items",
			ExecutionID:  task.ExecutionID,
			WorkflowID:   "incident_response",
			StepID:       "manager_approval",
			Title:        "Manager approval",
			AssignedRole: "risk_manager",
			Severity:     models.SeverityMedium,
			DueDate:      now.Add(4 * time.Hour),
			Status:       models.WorkItemPending,
			CreatedAt:    now,
		}
		require.NoError(t, store.InsertApproval(ctx, approval))
		gotApproval, err := store.FindApprovalByID(ctx, approval.ID)
		require.NoError(t, err)
		assert.Equal(t, "Manager approval", gotApproval.Title)

		_, err = store.FindApprovalByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.ErrorIs(t, store.UpdateApproval(ctx, &models.ApprovalRequest{ID: uuid.NewString()}), apperr.ErrNotFound)
	})

	t.Run("Escalation rules", func(t *testing.T) {
		rule := &models.EscalationRule{
			OrgID:               "org-rules",
			Name:                "Overdue approvals",
			TriggerCondition:    "approval:*",
			Severity:            models.SeverityHigh,
			EscalationPath:      []string{"risk_manager", "cro"},
			TimeThresholdsHours: []int{0, 24},
			CreatedAt:           now,
		}
		require.NoError(t, store.InsertEscalationRule(ctx, rule))
		assert.NotEmpty(t, rule.ID)

		rules, err := store.FindEscalationRulesByOrg(ctx, "org-rules")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, []string{"risk_manager", "cro"}, rules[0].EscalationPath)
		assert.Equal(t, []int{0, 24}, rules[0].TimeThresholdsHours)
	})

	t.Run("Escalation level compare and set", func(t *testing.T) {
		entity := models.EntityRef{Kind: models.EntityTask, ID: uuid.NewString()}
		ruleID := uuid.NewString()

		st, err := store.GetEscalationState(ctx, entity)
		require.NoError(t, err)
		assert.Equal(t, 0, st.Level)

		ok, err := store.CompareAndSetEscalationLevel(ctx, "org-1", entity, ruleID, 0, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.CompareAndSetEscalationLevel(ctx, "org-1", entity, ruleID, 0, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		st, err = store.GetEscalationState(ctx, entity)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Level)
		assert.Equal(t, "org-1", st.OrgID)
		assert.Equal(t, ruleID, st.RuleID)

		// a second rule shares the entity's level
		ok, err = store.CompareAndSetEscalationLevel(ctx, "org-1", entity, uuid.NewString(), 0, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		marked, err := store.MarkEscalationExhausted(ctx, "org-1", entity, ruleID)
		require.NoError(t, err)
		assert.True(t, marked)
		marked, err = store.MarkEscalationExhausted(ctx, "org-1", entity, ruleID)
		require.NoError(t, err)
		assert.False(t, marked)
	})

	t.Run("Concurrent compare and set has one winner", func(t *testing.T) {
		entity := models.EntityRef{Kind: models.EntityApproval, ID: uuid.NewString()}
		ruleID := uuid.NewString()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.CompareAndSetEscalationLevel(ctx, "org-1", entity, ruleID, 0, 1)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("Organizations", func(t *testing.T) {
		org := &models.Organization{Name: "Acme", Domain: uuid.NewString() + ".example.com"}
		require.NoError(t, store.CreateOrg(ctx, org))
		assert.NotEmpty(t, org.ID)

		got, err := store.GetOrgByDomain(ctx, org.Domain)
		require.NoError(t, err)
		assert.Equal(t, org.ID, got.ID)

		assert.ErrorIs(t, store.CreateOrg(ctx, &models.Organization{Name: "Dup", Domain: org.Domain}), apperr.ErrConflict)

		_, err = store.GetOrgByDomain(ctx, "missing.example.com")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func containsExecution(list []*models.Execution, id string) bool {
	for _, e := range list {
		if e.ID == id {
			return true
		}
	}
	return false
}
