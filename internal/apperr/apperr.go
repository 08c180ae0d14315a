// Package apperr holds the error taxonomy shared by the engine, its step
// handlers and the API layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-set update lost the race.
	ErrConflict = errors.New("conflicting update")
	// ErrAlreadyEscalated means another tracker tick escalated the same level first.
	ErrAlreadyEscalated = errors.New("level already escalated")
)

// ValidationError reports a malformed graph, plan or request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// HandlerError reports that a step's side effect failed.
type HandlerError struct {
	StepID string
	Err    error
	// Stack is set when the handler panicked.
	Stack string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.StepID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// TransportError reports that the notification collaborator could not be
// reached or refused the message.
type TransportError struct {
	To  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("notification to %s failed: %v", e.To, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InvalidStateError reports an operation against a terminal or missing
// execution.
type InvalidStateError struct {
	ExecutionID string
	State       string
	Op          string
}

func (e *InvalidStateError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("cannot %s execution %s: not found", e.Op, e.ExecutionID)
	}
	return fmt.Sprintf("cannot %s execution %s in state %s", e.Op, e.ExecutionID, e.State)
}

// EscalationExhaustedError is returned when an escalation is requested past
// the last role of a path. No further escalation is possible.
type EscalationExhaustedError struct {
	RuleID string
	Level  int
}

func (e *EscalationExhaustedError) Error() string {
	return fmt.Sprintf("escalation path %s exhausted at level %d", e.RuleID, e.Level)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// IsInvalidState reports whether err is, or wraps, an InvalidStateError.
func IsInvalidState(err error) bool {
	var s *InvalidStateError
	return errors.As(err, &s)
}
