package handlers

import (
	"context"

	"github.com/google/uuid"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/repository"
	"riskflow/backend/pkg/models"
)

// TaskHandler creates a Task for the step's assigned role.
type TaskHandler struct {
	tasks repository.TaskRepository
}

func NewTaskHandler(tasks repository.TaskRepository) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

func (h *TaskHandler) Handle(ctx context.Context, req Request) (map[string]any, error) {
	task := &models.Task{
		ID:           uuid.NewString(),
		OrgID:        req.OrgID,
		ExecutionID:  req.ExecutionID,
		WorkflowID:   req.WorkflowID,
		StepID:       req.Step.ID,
		Name:         req.Step.Name,
		AssignedRole: req.Step.AssignedRole,
		Severity:     models.ParseSeverity(req.Context["severity"]),
		DueDate:      dueDate(req),
		Context:      models.CloneContext(req.Context),
		Status:       models.WorkItemPending,
		CreatedAt:    req.StartedAt,
	}
	if err := h.tasks.InsertTask(ctx, task); err != nil {
		return nil, &apperr.HandlerError{StepID: req.Step.ID, Err: err}
	}

	return map[string]any{
		"task_id":       task.ID,
		"assigned_role": task.AssignedRole,
		"due_date":      formatTime(task.DueDate),
	}, nil
}
