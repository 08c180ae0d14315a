package engine

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/handlers"
	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/scheduler"
	"riskflow/backend/pkg/models"
)

type outcome int

const (
	// outcomeContinue: the step completed, or only its notification failed.
	outcomeContinue outcome = iota
	// outcomeHalt: the step's side effect failed and the execution stops.
	outcomeHalt
)

// RunScheduled runs a queued step once its fire time has come. Step
// failures are recorded in the execution log and not returned. A terminal
// or unknown execution yields *apperr.InvalidStateError.
func (e *Engine) RunScheduled(ctx context.Context, item scheduler.Item) error {
	ctx, span := e.tracer.Start(ctx, "engine.RunScheduled", trace.WithAttributes(
		attribute.String("execution.id", item.ExecutionID),
		attribute.String("step.id", item.StepID),
	))
	defer span.End()

	unlock := e.locks.lock(item.ExecutionID)
	defer unlock()

	exec, err := e.store.FindExecutionByID(ctx, item.ExecutionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return withSpanError(span, &apperr.InvalidStateError{ExecutionID: item.ExecutionID, Op: "run step of"})
		}
		return withSpanError(span, err)
	}
	if exec.Status.Terminal() {
		return withSpanError(span, &apperr.InvalidStateError{ExecutionID: exec.ID, State: string(exec.Status), Op: "run step of"})
	}

	entries, err := e.store.ListLogEntries(ctx, exec.ID)
	if err != nil {
		return withSpanError(span, err)
	}
	if !isOutstanding(entries, item.StepID) {
		// Redelivered after the step was logged.
		e.logger.InfoContext(ctx, "step already ran",
			logging.ExecutionIDKey, exec.ID,
			logging.StepIDKey, item.StepID,
		)
		if item.Last && exec.Status == models.ExecutionRunning {
			exec.CurrentStepID = item.StepID
			return withSpanError(span, e.finish(ctx, exec, models.ExecutionCompleted))
		}
		return nil
	}

	out, err := e.executeStep(ctx, exec, item.Step)
	if err != nil {
		return withSpanError(span, err)
	}

	switch {
	case out == outcomeHalt:
		err = e.finish(ctx, exec, models.ExecutionFailed)
	case item.Last:
		exec.CurrentStepID = item.StepID
		err = e.finish(ctx, exec, models.ExecutionCompleted)
	default:
		exec.CurrentStepID = item.StepID
		err = e.store.UpdateExecution(ctx, exec, models.ExecutionRunning)
	}

	if errors.Is(err, apperr.ErrConflict) {
		// Cancelled while the step ran; its result is logged regardless.
		e.logger.InfoContext(ctx, "execution changed while step ran",
			logging.ExecutionIDKey, exec.ID,
			logging.StepIDKey, item.StepID,
		)
		return nil
	}
	return withSpanError(span, err)
}

// executeStep invokes the step's handler and appends the result to the
// log. The returned error is reserved for persistence failures.
func (e *Engine) executeStep(ctx context.Context, exec *models.Execution, step models.StepSpec) (outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.step", trace.WithAttributes(
		attribute.String("execution.id", exec.ID),
		attribute.String("step.id", step.ID),
		attribute.String("step.kind", string(step.Kind)),
	))
	defer span.End()

	logger := e.logger.With(
		logging.ExecutionIDKey, exec.ID,
		logging.StepIDKey, step.ID,
		logging.StepKindKey, step.Kind,
	)

	started := e.clock.Now()
	req := handlers.Request{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		OrgID:       exec.OrgID,
		Step:        step,
		Context:     models.CloneContext(exec.Context),
		StartedAt:   started,
	}

	var (
		output map[string]any
		err    error
	)
	h, lookupErr := e.handlers.Get(step.Kind)
	if lookupErr != nil {
		err = &apperr.HandlerError{StepID: step.ID, Err: lookupErr}
	} else {
		output, err = invoke(ctx, h, req)
	}
	completed := e.clock.Now()

	entry := &models.ExecutionLogEntry{
		ExecutionID: exec.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		Input:       stepInput(exec, step),
		Output:      output,
		DueHours:    models.Hours(handlers.DueHours(step)),
		StartedAt:   started,
		CompletedAt: &completed,
	}

	result := outcomeContinue
	if err == nil {
		entry.Status = models.LogCompleted
	} else {
		entry.Status = models.LogFailed
		detail := err.Error()
		entry.Error = &detail
		if !apperr.IsTransport(err) {
			result = outcomeHalt
		}
		span.RecordError(err)
	}

	if appendErr := e.store.AppendLogEntry(ctx, entry); appendErr != nil {
		return outcomeHalt, fmt.Errorf("logging step %s: %w", step.ID, appendErr)
	}

	e.metrics.stepsRun.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step.kind", string(step.Kind)),
		attribute.String("status", string(entry.Status)),
	))
	e.metrics.stepDuration.Record(ctx, float64(completed.Sub(started).Milliseconds()),
		metric.WithAttributes(attribute.String("step.kind", string(step.Kind))))

	switch {
	case err == nil:
		logger.InfoContext(ctx, "step completed", logging.DurationKey, completed.Sub(started).Milliseconds())
	case result == outcomeContinue:
		logger.WarnContext(ctx, "step notification failed, continuing", "error", err)
	default:
		var he *apperr.HandlerError
		if errors.As(err, &he) && he.Stack != "" {
			logger.ErrorContext(ctx, "step panicked", "error", err, "stack", he.Stack)
		} else {
			logger.ErrorContext(ctx, "step failed", "error", err)
		}
	}

	return result, nil
}

// invoke runs the handler, turning panics and untyped errors into
// *apperr.HandlerError.
func invoke(ctx context.Context, h handlers.Handler, req handlers.Request) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			ge := goerrors.Wrap(r, 2)
			out = nil
			err = &apperr.HandlerError{
				StepID: req.Step.ID,
				Err:    fmt.Errorf("panic: %v", r),
				Stack:  string(ge.Stack()),
			}
		}
	}()

	out, err = h.Handle(ctx, req)
	if err == nil {
		return out, nil
	}

	var he *apperr.HandlerError
	if errors.As(err, &he) || apperr.IsTransport(err) {
		return nil, err
	}
	return nil, &apperr.HandlerError{StepID: req.Step.ID, Err: err}
}

func isOutstanding(entries []models.ExecutionLogEntry, stepID string) bool {
	for _, e := range models.OutstandingScheduled(entries) {
		if e.StepID == stepID {
			return true
		}
	}
	return false
}
