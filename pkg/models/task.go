package models

import (
	"time"
)

// WorkItemStatus is the status of a task or approval request. It is changed
// by people acting on the item, never by the engine.
type WorkItemStatus string

const (
	WorkItemPending   WorkItemStatus = "pending"
	WorkItemCompleted WorkItemStatus = "completed"
	WorkItemRejected  WorkItemStatus = "rejected"
	WorkItemExpired   WorkItemStatus = "expired"
)

// Task is a unit of work assigned to a role by a task step
type Task struct {
	ID           string         `json:"id" db:"id"`
	OrgID        string         `json:"org_id" db:"org_id"`
	ExecutionID  string         `json:"execution_id" db:"execution_id"`
	WorkflowID   string         `json:"workflow_id" db:"workflow_id"`
	StepID       string         `json:"step_id" db:"step_id"`
	Name         string         `json:"name" db:"name"`
	AssignedRole string         `json:"assigned_role" db:"assigned_role"`
	Severity     Severity       `json:"severity" db:"severity"`
	DueDate      time.Time      `json:"due_date" db:"due_date"`
	Context      map[string]any `json:"context" db:"context"`
	Status       WorkItemStatus `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// ApprovalRequest asks a role to sign off on a workflow step
type ApprovalRequest struct {
	ID           string         `json:"id" db:"id"`
	OrgID        string         `json:"org_id" db:"org_id"`
	ExecutionID  string         `json:"execution_id" db:"execution_id"`
	WorkflowID   string         `json:"workflow_id" db:"workflow_id"`
	StepID       string         `json:"step_id" db:"step_id"`
	Title        string         `json:"title" db:"title"`
	AssignedRole string         `json:"assigned_role" db:"assigned_role"`
	Severity     Severity       `json:"severity" db:"severity"`
	DueDate      time.Time      `json:"due_date" db:"due_date"`
	Context      map[string]any `json:"context" db:"context"`
	Status       WorkItemStatus `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}
