package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/notify"
)

// DefaultNotifyTimeout bounds a single notification dispatch.
const DefaultNotifyTimeout = 10 * time.Second

// Notice is a notification addressed to a role rather than an address.
type Notice struct {
	OrgID      string
	Role       string
	Subject    string
	TemplateID string
	Data       map[string]any
	Urgency    notify.Urgency
}

// Delivery is the outcome of a dispatched Notice.
type Delivery struct {
	To        string
	MessageID string
}

// NotificationHandler resolves roles through a Directory and dispatches
// through a Notifier within a bounded time.
type NotificationHandler struct {
	directory notify.Directory
	notifier  notify.Notifier
	timeout   time.Duration
}

func NewNotificationHandler(directory notify.Directory, notifier notify.Notifier, timeout time.Duration) *NotificationHandler {
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &NotificationHandler{directory: directory, notifier: notifier, timeout: timeout}
}

func (h *NotificationHandler) Handle(ctx context.Context, req Request) (map[string]any, error) {
	delivery, err := h.Notify(ctx, Notice{
		OrgID:      req.OrgID,
		Role:       req.Step.AssignedRole,
		Subject:    fmt.Sprintf("%s: %s", req.WorkflowID, req.Step.Name),
		TemplateID: "workflow_step_notification",
		Data: map[string]any{
			"execution_id": req.ExecutionID,
			"workflow_id":  req.WorkflowID,
			"step_id":      req.Step.ID,
			"context":      req.Context,
		},
		Urgency: notify.UrgencyNormal,
	})
	if err != nil {
		var te *apperr.TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &apperr.HandlerError{StepID: req.Step.ID, Err: err}
	}

	return map[string]any{
		"recipient":  delivery.To,
		"role":       req.Step.AssignedRole,
		"message_id": delivery.MessageID,
	}, nil
}

// Notify resolves the notice's role and sends it. An unknown role is
// returned as is; a failed or timed out send as *apperr.TransportError.
func (h *NotificationHandler) Notify(ctx context.Context, n Notice) (*Delivery, error) {
	to, err := h.directory.Lookup(ctx, n.OrgID, n.Role)
	if err != nil {
		return nil, err
	}

	msg := notify.Message{
		To:         to,
		Subject:    n.Subject,
		TemplateID: n.TemplateID,
		Data:       n.Data,
		Urgency:    n.Urgency,
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type result struct {
		ack *notify.Ack
		err error
	}
	done := make(chan result, 1)
	go func() {
		ack, err := h.notifier.Send(ctx, msg)
		done <- result{ack, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			var te *apperr.TransportError
			if errors.As(r.err, &te) {
				return nil, r.err
			}
			return nil, &apperr.TransportError{To: to, Err: r.err}
		}
		if r.ack == nil {
			return nil, &apperr.TransportError{To: to, Err: errors.New("empty acknowledgement")}
		}
		return &Delivery{To: to, MessageID: r.ack.MessageID}, nil
	case <-ctx.Done():
		return nil, &apperr.TransportError{To: to, Err: ctx.Err()}
	}
}
