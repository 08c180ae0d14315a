package handlers

import (
	"context"
	"errors"
	"fmt"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/notify"
	"riskflow/backend/internal/repository"
	"riskflow/backend/pkg/models"
)

// StepRuleID keys the escalation state of escalation plan steps.
const StepRuleID = "plan_step"

// EscalationRequest asks for the next level of an escalation path.
type EscalationRequest struct {
	OrgID    string
	Entity   models.EntityRef
	RuleID   string
	Path     []string
	Severity models.Severity
	// Level is the last escalated level; the request escalates to Level+1.
	Level int
	Data  map[string]any
}

// EscalationResult describes a completed escalation.
type EscalationResult struct {
	Level     int
	Role      string
	To        string
	MessageID string
}

// EscalationHandler moves an entity up its escalation path.
type EscalationHandler struct {
	states   repository.EscalationRepository
	notifier *NotificationHandler
}

func NewEscalationHandler(states repository.EscalationRepository, notifier *NotificationHandler) *EscalationHandler {
	return &EscalationHandler{states: states, notifier: notifier}
}

// Escalate claims level req.Level+1 and notifies path[req.Level] with high
// urgency. It returns *apperr.EscalationExhaustedError when the path has no
// further role, and apperr.ErrAlreadyEscalated when another caller claimed
// the level first. The level stays claimed even when the notification fails.
func (h *EscalationHandler) Escalate(ctx context.Context, req EscalationRequest) (*EscalationResult, error) {
	if req.Level >= len(req.Path) {
		return nil, &apperr.EscalationExhaustedError{RuleID: req.RuleID, Level: req.Level}
	}
	role := req.Path[req.Level]
	next := req.Level + 1

	won, err := h.states.CompareAndSetEscalationLevel(ctx, req.OrgID, req.Entity, req.RuleID, req.Level, next)
	if err != nil {
		return nil, fmt.Errorf("claiming escalation level: %w", err)
	}
	if !won {
		return nil, apperr.ErrAlreadyEscalated
	}

	data := models.CloneContext(req.Data)
	data["entity_kind"] = string(req.Entity.Kind)
	data["entity_id"] = req.Entity.ID
	data["escalation_level"] = next
	data["severity"] = string(req.Severity)

	delivery, err := h.notifier.Notify(ctx, Notice{
		OrgID:      req.OrgID,
		Role:       role,
		Subject:    fmt.Sprintf("Escalation level %d: %s %s", next, req.Entity.Kind, req.Entity.ID),
		TemplateID: "escalation",
		Data:       data,
		Urgency:    notify.UrgencyHigh,
	})
	if err != nil {
		return nil, err
	}

	return &EscalationResult{Level: next, Role: role, To: delivery.To, MessageID: delivery.MessageID}, nil
}

// Handle runs an escalation plan step: a single-level path to the step's
// assigned role, keyed on the execution and step.
func (h *EscalationHandler) Handle(ctx context.Context, req Request) (map[string]any, error) {
	res, err := h.Escalate(ctx, EscalationRequest{
		OrgID:    req.OrgID,
		Entity:   models.EntityRef{Kind: models.EntityExecutionStep, ID: req.ExecutionID + ":" + req.Step.ID},
		RuleID:   StepRuleID,
		Path:     []string{req.Step.AssignedRole},
		Severity: models.ParseSeverity(req.Context["severity"]),
		Data: map[string]any{
			"execution_id": req.ExecutionID,
			"workflow_id":  req.WorkflowID,
			"step_id":      req.Step.ID,
		},
	})
	switch {
	case errors.Is(err, apperr.ErrAlreadyEscalated):
		// a redelivered step already escalated
		return map[string]any{
			"escalation_level":  1,
			"target_role":       req.Step.AssignedRole,
			"already_escalated": true,
		}, nil
	case apperr.IsTransport(err):
		return nil, err
	case err != nil:
		return nil, &apperr.HandlerError{StepID: req.Step.ID, Err: err}
	}

	return map[string]any{
		"escalation_level": res.Level,
		"target_role":      res.Role,
		"recipient":        res.To,
		"message_id":       res.MessageID,
	}, nil
}
