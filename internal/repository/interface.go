package repository

import (
	"context"
	"time"

	"riskflow/backend/pkg/models"
)

// ExecutionRepository stores executions.
type ExecutionRepository interface {
	// InsertExecution creates a new execution.
	InsertExecution(ctx context.Context, exec *models.Execution) error
	// UpdateExecution writes exec only while the stored status still equals
	// expected. It returns apperr.ErrConflict otherwise.
	UpdateExecution(ctx context.Context, exec *models.Execution, expected models.ExecutionStatus) error
	// FindExecutionByID returns apperr.ErrNotFound for unknown ids.
	FindExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	FindExecutionsByOrgAndStatus(ctx context.Context, orgID string, status models.ExecutionStatus) ([]*models.Execution, error)
	// FindExecutionsDueBefore lists executions in status whose due_at is before t.
	FindExecutionsDueBefore(ctx context.Context, status models.ExecutionStatus, t time.Time) ([]*models.Execution, error)
}

// LogRepository stores the append-only execution log.
type LogRepository interface {
	// AppendLogEntry inserts entry and assigns its Seq.
	AppendLogEntry(ctx context.Context, entry *models.ExecutionLogEntry) error
	// ListLogEntries returns an execution's entries in append order.
	ListLogEntries(ctx context.Context, executionID string) ([]models.ExecutionLogEntry, error)
}

// TaskRepository stores tasks.
type TaskRepository interface {
	InsertTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	FindTaskByID(ctx context.Context, id string) (*models.Task, error)
	FindTasksByOrgAndStatus(ctx context.Context, orgID string, status models.WorkItemStatus) ([]*models.Task, error)
	FindTasksDueBefore(ctx context.Context, status models.WorkItemStatus, t time.Time) ([]*models.Task, error)
}

// ApprovalRepository stores approval requests.
type ApprovalRepository interface {
	InsertApproval(ctx context.Context, approval *models.ApprovalRequest) error
	UpdateApproval(ctx context.Context, approval *models.ApprovalRequest) error
	FindApprovalByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	FindApprovalsByOrgAndStatus(ctx context.Context, orgID string, status models.WorkItemStatus) ([]*models.ApprovalRequest, error)
	FindApprovalsDueBefore(ctx context.Context, status models.WorkItemStatus, t time.Time) ([]*models.ApprovalRequest, error)
}

// EscalationRepository stores escalation rules and the per-entity
// escalation state. State is keyed by entity alone; the rule id on a state
// records which rule moved it last.
type EscalationRepository interface {
	InsertEscalationRule(ctx context.Context, rule *models.EscalationRule) error
	FindEscalationRulesByOrg(ctx context.Context, orgID string) ([]*models.EscalationRule, error)
	// GetEscalationState returns a zero-level state when nothing was escalated yet.
	GetEscalationState(ctx context.Context, entity models.EntityRef) (*models.EscalationState, error)
	// CompareAndSetEscalationLevel moves the level from expected to next and
	// reports whether this call won.
	CompareAndSetEscalationLevel(ctx context.Context, orgID string, entity models.EntityRef, ruleID string, expected, next int) (bool, error)
	// MarkEscalationExhausted flags the path as exhausted and reports whether
	// this call set the flag.
	MarkEscalationExhausted(ctx context.Context, orgID string, entity models.EntityRef, ruleID string) (bool, error)
}

// OrgRepository stores organizations.
type OrgRepository interface {
	GetOrgByDomain(ctx context.Context, domain string) (*models.Organization, error)
	CreateOrg(ctx context.Context, org *models.Organization) error
}

// Repository is the full persistence surface of the service.
type Repository interface {
	ExecutionRepository
	LogRepository
	TaskRepository
	ApprovalRepository
	EscalationRepository
	OrgRepository

	Ping(ctx context.Context) error
}
