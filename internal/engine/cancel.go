package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

// CancelStepID is the step id of the entry that closes a cancelled log.
const CancelStepID = "execution"

// AbortStepID is the step id of the entry recording why an execution could
// not be started.
const AbortStepID = "execution"

// Cancel stops a pending or running execution. Queued steps are dropped and
// their scheduled entries resolved as cancelled; a step already running
// finishes first and its result is logged.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Cancel", trace.WithAttributes(attribute.String("execution.id", id)))
	defer span.End()

	unlock := e.locks.lock(id)
	defer unlock()

	exec, err := e.store.FindExecutionByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, withSpanError(span, &apperr.InvalidStateError{ExecutionID: id, Op: "cancel"})
		}
		return nil, withSpanError(span, err)
	}
	if exec.Status.Terminal() {
		return nil, withSpanError(span, &apperr.InvalidStateError{ExecutionID: id, State: string(exec.Status), Op: "cancel"})
	}

	if _, err := e.queue.CancelExecution(ctx, id); err != nil {
		return nil, withSpanError(span, fmt.Errorf("dropping queued steps: %w", err))
	}
	if err := e.resolveOutstanding(ctx, exec, models.LogCancelled); err != nil {
		return nil, withSpanError(span, err)
	}

	now := e.clock.Now()
	reason := "cancelled by request"
	if err := e.store.AppendLogEntry(ctx, &models.ExecutionLogEntry{
		ExecutionID: id,
		StepID:      CancelStepID,
		StepName:    "Execution cancelled",
		Status:      models.LogCancelled,
		Output:      map[string]any{"previous_status": string(exec.Status)},
		Error:       &reason,
		StartedAt:   now,
		CompletedAt: &now,
	}); err != nil {
		return nil, withSpanError(span, fmt.Errorf("logging cancellation: %w", err))
	}

	if err := e.finish(ctx, exec, models.ExecutionCancelled); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			cur, findErr := e.store.FindExecutionByID(ctx, id)
			if findErr == nil {
				return nil, withSpanError(span, &apperr.InvalidStateError{ExecutionID: id, State: string(cur.Status), Op: "cancel"})
			}
		}
		return nil, withSpanError(span, err)
	}
	return exec, nil
}
