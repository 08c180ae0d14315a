package handlers

import (
	"context"

	"github.com/google/uuid"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/notify"
	"riskflow/backend/internal/repository"
	"riskflow/backend/pkg/models"
)

// ApprovalHandler creates an ApprovalRequest and alerts the assigned role.
// A failed alert does not undo the approval.
type ApprovalHandler struct {
	approvals repository.ApprovalRepository
	notifier  *NotificationHandler
	logger    *logging.Logger
}

func NewApprovalHandler(approvals repository.ApprovalRepository, notifier *NotificationHandler, logger *logging.Logger) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals, notifier: notifier, logger: logger}
}

func (h *ApprovalHandler) Handle(ctx context.Context, req Request) (map[string]any, error) {
	approval := &models.ApprovalRequest{
		ID:           uuid.NewString(),
		OrgID:        req.OrgID,
		ExecutionID:  req.ExecutionID,
		WorkflowID:   req.WorkflowID,
		StepID:       req.Step.ID,
		Title:        req.Step.Name,
		AssignedRole: req.Step.AssignedRole,
		Severity:     models.ParseSeverity(req.Context["severity"]),
		DueDate:      dueDate(req),
		Context:      models.CloneContext(req.Context),
		Status:       models.WorkItemPending,
		CreatedAt:    req.StartedAt,
	}
	if err := h.approvals.InsertApproval(ctx, approval); err != nil {
		return nil, &apperr.HandlerError{StepID: req.Step.ID, Err: err}
	}

	out := map[string]any{
		"approval_id":   approval.ID,
		"assigned_role": approval.AssignedRole,
		"due_date":      formatTime(approval.DueDate),
	}

	delivery, err := h.notifier.Notify(ctx, Notice{
		OrgID:      req.OrgID,
		Role:       req.Step.AssignedRole,
		Subject:    "Approval requested: " + approval.Title,
		TemplateID: "approval_requested",
		Data: map[string]any{
			"approval_id":  approval.ID,
			"execution_id": req.ExecutionID,
			"workflow_id":  req.WorkflowID,
			"due_date":     formatTime(approval.DueDate),
		},
		Urgency: notify.UrgencyNormal,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "approval created but notification failed",
			logging.ExecutionIDKey, req.ExecutionID,
			logging.StepIDKey, req.Step.ID,
			"error", err,
		)
		out["notification_status"] = "failed"
		out["notification_error"] = err.Error()
		return out, nil
	}

	out["notification_status"] = "sent"
	out["message_id"] = delivery.MessageID
	return out, nil
}
