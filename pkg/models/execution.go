package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of an execution
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Execution represents one runtime instance of a workflow
type Execution struct {
	ID            string          `json:"id" db:"id"`
	WorkflowID    string          `json:"workflow_id" db:"workflow_id"`
	OrgID         string          `json:"org_id" db:"org_id"`
	Status        ExecutionStatus `json:"status" db:"status"`
	CurrentStepID string          `json:"current_step_id,omitempty" db:"current_step_id"`
	Context       map[string]any  `json:"context" db:"context"`
	StepsCount    int             `json:"steps_count" db:"steps_count"`
	DueAt         *time.Time      `json:"due_at,omitempty" db:"due_at"`
	ReplayOf      string          `json:"replay_of,omitempty" db:"replay_of"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// LogStatus is the outcome recorded by an execution log entry
type LogStatus string

const (
	LogCompleted LogStatus = "completed"
	LogFailed    LogStatus = "failed"
	LogScheduled LogStatus = "scheduled"
	// LogSkipped resolves a scheduled entry that will never run because an
	// earlier step failed.
	LogSkipped LogStatus = "skipped"
	// LogCancelled resolves a scheduled entry dropped by cancellation, and
	// marks the execution-level cancellation entry.
	LogCancelled LogStatus = "cancelled"
)

// ExecutionLogEntry is an append-only record of what happened to a step
type ExecutionLogEntry struct {
	Seq          int64          `json:"seq" db:"seq"`
	ExecutionID  string         `json:"execution_id" db:"execution_id"`
	StepID       string         `json:"step_id" db:"step_id"`
	StepName     string         `json:"step_name" db:"step_name"`
	Status       LogStatus      `json:"status" db:"status"`
	Input        map[string]any `json:"input,omitempty" db:"input"`
	Output       map[string]any `json:"output,omitempty" db:"output"`
	Error        *string        `json:"error,omitempty" db:"error"`
	DueHours     *int           `json:"due_hours,omitempty" db:"due_hours"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty" db:"scheduled_for"`
	StartedAt    time.Time      `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// OutstandingScheduled returns the scheduled entries that no later entry for
// the same step has resolved.
func OutstandingScheduled(entries []ExecutionLogEntry) []ExecutionLogEntry {
	var out []ExecutionLogEntry
	for i, e := range entries {
		if e.Status != LogScheduled {
			continue
		}
		resolved := false
		for _, later := range entries[i+1:] {
			if later.StepID == e.StepID && later.Status != LogScheduled {
				resolved = true
				break
			}
		}
		if !resolved {
			out = append(out, e)
		}
	}
	return out
}

// ExecutionDetail is an execution with its chronological log
type ExecutionDetail struct {
	*Execution
	Log []ExecutionLogEntry `json:"log"`
}
