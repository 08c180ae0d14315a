// Package models defines the domain models for the workflow engine
package models

import (
	"time"
)

// Severity ranks how serious a breach or escalation is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is as severe as other. Unknown severities rank
// as medium.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func (s Severity) rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityMedium]
}

// ParseSeverity reads a severity out of a free-form context value, falling
// back to medium.
func ParseSeverity(v any) Severity {
	if s, ok := v.(string); ok && Severity(s).Valid() {
		return Severity(s)
	}
	return SeverityMedium
}

// Organization is the tenant that owns executions, tasks and rules
type Organization struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Domain    string    `json:"domain" db:"domain"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is the error payload returned by the HTTP API
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CloneContext returns a shallow copy of a context payload. A nil input
// yields an empty map so callers can always write to the result.
func CloneContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
