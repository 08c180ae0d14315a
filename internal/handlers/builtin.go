package handlers

import (
	"time"

	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/notify"
	"riskflow/backend/internal/repository"
	"riskflow/backend/pkg/models"
)

// Store is the persistence the built-in handlers write to.
type Store interface {
	repository.TaskRepository
	repository.ApprovalRepository
	repository.EscalationRepository
}

// Builtin holds one handler per step kind.
type Builtin struct {
	Task         *TaskHandler
	Approval     *ApprovalHandler
	Notification *NotificationHandler
	Escalation   *EscalationHandler
}

// NewBuiltin wires the built-in handlers to a store and the notification
// collaborators.
func NewBuiltin(store Store, directory notify.Directory, notifier notify.Notifier, notifyTimeout time.Duration, logger *logging.Logger) *Builtin {
	n := NewNotificationHandler(directory, notifier, notifyTimeout)
	return &Builtin{
		Task:         NewTaskHandler(store),
		Approval:     NewApprovalHandler(store, n, logger),
		Notification: n,
		Escalation:   NewEscalationHandler(store, n),
	}
}

// Registry returns a registry with every built-in handler registered.
func (b *Builtin) Registry() *Registry {
	r := NewRegistry()
	r.Register(models.StepTask, b.Task)
	r.Register(models.StepApproval, b.Approval)
	r.Register(models.StepNotification, b.Notification)
	r.Register(models.StepEscalation, b.Escalation)
	return r
}
