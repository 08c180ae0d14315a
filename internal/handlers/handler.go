// Package handlers implements the side effect of each step kind.
package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskflow/backend/pkg/models"
)

const (
	DefaultTaskDueHours     = 24
	DefaultApprovalDueHours = 48
)

// Request is what a handler receives for one step run.
type Request struct {
	ExecutionID string
	WorkflowID  string
	OrgID       string
	Step        models.StepSpec
	Context     map[string]any
	// StartedAt is when the step run began; due dates are computed from it.
	StartedAt time.Time
}

// Handler performs a step. A failed side effect is returned as
// *apperr.HandlerError, a failed notification as *apperr.TransportError.
type Handler interface {
	Handle(ctx context.Context, req Request) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (map[string]any, error) {
	return f(ctx, req)
}

// DueHours returns the step's SLA window, applying the per-kind default
// when none is set. Notification and escalation steps have no window of
// their own.
func DueHours(step models.StepSpec) int {
	if step.DueHours != nil {
		return *step.DueHours
	}
	switch step.Kind {
	case models.StepTask:
		return DefaultTaskDueHours
	case models.StepApproval:
		return DefaultApprovalDueHours
	}
	return 0
}

func dueDate(req Request) time.Time {
	return req.StartedAt.Add(time.Duration(DueHours(req.Step)) * time.Hour)
}

// Registry maps step kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.StepKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.StepKind]Handler)}
}

// Register sets the handler for kind, replacing any earlier one.
func (r *Registry) Register(kind models.StepKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Get returns the handler for kind.
func (r *Registry) Get(kind models.StepKind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for step kind %q", kind)
	}
	return h, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
