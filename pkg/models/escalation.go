package models

import (
	"time"
)

// EntityKind names the type of thing the SLA tracker watches
type EntityKind string

const (
	EntityTask          EntityKind = "task"
	EntityApproval      EntityKind = "approval"
	EntityExecution     EntityKind = "execution"
	EntityExecutionStep EntityKind = "execution_step"
)

// EscalationRule describes who to escalate to, and when, once an entity
// breaches its due date
type EscalationRule struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`
	Name  string `json:"name" db:"name"`
	// TriggerCondition is a glob matched against "<entity kind>:<workflow id>",
	// e.g. "approval:*" or "*:incident_response".
	TriggerCondition string   `json:"trigger_condition" db:"trigger_condition" yaml:"trigger_condition"`
	Severity         Severity `json:"severity" db:"severity" yaml:"severity"`
	EscalationPath   []string `json:"escalation_path" db:"escalation_path" yaml:"escalation_path"`
	// TimeThresholdsHours[i] is how long after the breach level i+1 fires.
	TimeThresholdsHours []int     `json:"time_thresholds_hours" db:"time_thresholds_hours" yaml:"time_thresholds_hours"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// EntityRef identifies an escalatable entity
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// EscalationState is the last level escalated for an entity. RuleID names
// the rule that moved it last
type EscalationState struct {
	OrgID     string    `json:"org_id" db:"org_id"`
	Entity    EntityRef `json:"entity"`
	RuleID    string    `json:"rule_id" db:"rule_id"`
	Level     int       `json:"level" db:"level"`
	Exhausted bool      `json:"exhausted" db:"exhausted"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
