// Package engine runs workflow executions: it resolves a plan, runs the
// first step inline and hands the rest to the durable scheduler queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/handlers"
	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/repository"
	"riskflow/backend/internal/scheduler"
	"riskflow/backend/pkg/models"
)

// Store is the persistence the engine needs.
type Store interface {
	repository.ExecutionRepository
	repository.LogRepository
}

// Resolver turns a workflow identifier into an ordered step plan.
type Resolver interface {
	Resolve(workflowID string) ([]models.StepSpec, error)
}

type Options struct {
	Clock          clock.Clock
	Logger         *logging.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Engine drives executions through pending, running and a terminal state.
type Engine struct {
	store    Store
	plans    Resolver
	handlers *handlers.Registry
	queue    scheduler.Queue

	clock   clock.Clock
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *instruments
	locks   stripedLock
}

func New(store Store, plans Resolver, h *handlers.Registry, q scheduler.Queue, opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}

	metrics, err := newInstruments(opts.MeterProvider.Meter("riskflow/engine"))
	if err != nil {
		return nil, fmt.Errorf("creating engine metrics: %w", err)
	}

	return &Engine{
		store:    store,
		plans:    plans,
		handlers: h,
		queue:    q,
		clock:    opts.Clock,
		logger:   opts.Logger,
		tracer:   opts.TracerProvider.Tracer("riskflow/engine"),
		metrics:  metrics,
	}, nil
}

// SubmitRequest starts a new execution.
type SubmitRequest struct {
	WorkflowID string
	OrgID      string
	Context    map[string]any
}

// Submit resolves the workflow's plan, creates a running execution and runs
// its first step. Remaining steps are queued. An unknown or empty workflow
// identifier is a *apperr.ValidationError and nothing is persisted.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*models.Execution, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Submit", trace.WithAttributes(
		attribute.String("workflow.id", req.WorkflowID),
		attribute.String("org.id", req.OrgID),
	))
	defer span.End()

	steps, err := e.plans.Resolve(req.WorkflowID)
	if err != nil {
		return nil, withSpanError(span, err)
	}

	exec, err := e.start(ctx, req, steps, "")
	return exec, withSpanError(span, err)
}

// Replay starts a fresh execution of a failed or cancelled execution's
// workflow with the same context. The original is left untouched.
func (e *Engine) Replay(ctx context.Context, id string) (*models.Execution, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Replay", trace.WithAttributes(attribute.String("execution.id", id)))
	defer span.End()

	orig, err := e.store.FindExecutionByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, withSpanError(span, &apperr.InvalidStateError{ExecutionID: id, Op: "replay"})
		}
		return nil, withSpanError(span, err)
	}
	if orig.Status != models.ExecutionFailed && orig.Status != models.ExecutionCancelled {
		return nil, withSpanError(span, &apperr.InvalidStateError{ExecutionID: id, State: string(orig.Status), Op: "replay"})
	}

	steps, err := e.plans.Resolve(orig.WorkflowID)
	if err != nil {
		return nil, withSpanError(span, err)
	}

	exec, err := e.start(ctx, SubmitRequest{
		WorkflowID: orig.WorkflowID,
		OrgID:      orig.OrgID,
		Context:    orig.Context,
	}, steps, orig.ID)
	return exec, withSpanError(span, err)
}

// Get returns an execution with its log in append order.
func (e *Engine) Get(ctx context.Context, id string) (*models.ExecutionDetail, error) {
	exec, err := e.store.FindExecutionByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding execution %s: %w", id, err)
	}
	entries, err := e.store.ListLogEntries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing log of execution %s: %w", id, err)
	}
	if entries == nil {
		entries = []models.ExecutionLogEntry{}
	}
	return &models.ExecutionDetail{Execution: exec, Log: entries}, nil
}

func (e *Engine) start(ctx context.Context, req SubmitRequest, steps []models.StepSpec, replayOf string) (*models.Execution, error) {
	now := e.clock.Now()

	total := 0
	for _, s := range steps {
		total += handlers.DueHours(s)
	}
	dueAt := now.Add(time.Duration(total) * time.Hour)

	exec := &models.Execution{
		ID:         uuid.NewString(),
		WorkflowID: req.WorkflowID,
		OrgID:      req.OrgID,
		Status:     models.ExecutionPending,
		Context:    models.CloneContext(req.Context),
		StepsCount: len(steps),
		DueAt:      &dueAt,
		ReplayOf:   replayOf,
		StartedAt:  now,
	}

	unlock := e.locks.lock(exec.ID)
	defer unlock()

	if err := e.store.InsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("inserting execution: %w", err)
	}

	logger := e.logger.With(
		logging.ExecutionIDKey, exec.ID,
		logging.WorkflowIDKey, exec.WorkflowID,
		logging.OrgIDKey, exec.OrgID,
	)
	if err := e.begin(ctx, exec, steps, logger); err != nil {
		e.abort(ctx, exec, err, logger)
		return nil, fmt.Errorf("execution %s aborted: %w", exec.ID, err)
	}
	return exec, nil
}

// begin moves a stored execution to running, runs its first step and
// queues the rest.
func (e *Engine) begin(ctx context.Context, exec *models.Execution, steps []models.StepSpec, logger *logging.Logger) error {
	if err := e.transition(ctx, exec, models.ExecutionRunning); err != nil {
		return err
	}
	e.metrics.executionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.id", exec.WorkflowID)))
	logger.InfoContext(ctx, "execution started", "steps", len(steps), "replay_of", exec.ReplayOf)

	first := steps[0]
	outcome, err := e.executeStep(ctx, exec, first)
	if err != nil {
		return err
	}

	if outcome == outcomeHalt {
		if err := e.finish(ctx, exec, models.ExecutionFailed); err != nil {
			return err
		}
		logger.WarnContext(ctx, "execution failed on first step", logging.StepIDKey, first.ID)
		return nil
	}

	exec.CurrentStepID = first.ID
	if len(steps) == 1 {
		return e.finish(ctx, exec, models.ExecutionCompleted)
	}

	if err := e.store.UpdateExecution(ctx, exec, models.ExecutionRunning); err != nil {
		return fmt.Errorf("advancing execution: %w", err)
	}
	return e.schedule(ctx, exec, steps)
}

// abort fails an execution whose start could not be completed: the cause is
// logged under AbortStepID, scheduled entries are skipped and queued items
// dropped. It runs on a context that ignores the caller's cancellation.
func (e *Engine) abort(ctx context.Context, exec *models.Execution, cause error, logger *logging.Logger) {
	ctx = context.WithoutCancel(ctx)
	if exec.Status.Terminal() {
		logger.ErrorContext(ctx, "execution start failed after it finished", "error", cause)
		return
	}

	now := e.clock.Now()
	detail := cause.Error()
	entry := &models.ExecutionLogEntry{
		ExecutionID: exec.ID,
		StepID:      AbortStepID,
		StepName:    "Start execution",
		Status:      models.LogFailed,
		Error:       &detail,
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := e.store.AppendLogEntry(ctx, entry); err != nil {
		logger.ErrorContext(ctx, "logging aborted start", "error", err)
	}
	if err := e.finish(ctx, exec, models.ExecutionFailed); err != nil {
		logger.ErrorContext(ctx, "failing aborted execution", "error", err, "cause", cause)
		return
	}
	logger.ErrorContext(ctx, "execution aborted", "error", cause)
}

// schedule writes a scheduled entry for every step after the first and
// queues them. Each step fires once the SLA windows of the steps before it
// have elapsed.
func (e *Engine) schedule(ctx context.Context, exec *models.Execution, steps []models.StepSpec) error {
	now := e.clock.Now()
	offset := handlers.DueHours(steps[0])

	items := make([]scheduler.Item, 0, len(steps)-1)
	for i, step := range steps[1:] {
		ordinal := i + 2
		fireAt := exec.StartedAt.Add(time.Duration(offset) * time.Hour)
		hours := handlers.DueHours(step)
		offset += hours

		entry := &models.ExecutionLogEntry{
			ExecutionID:  exec.ID,
			StepID:       step.ID,
			StepName:     step.Name,
			Status:       models.LogScheduled,
			Input:        stepInput(exec, step),
			DueHours:     models.Hours(hours),
			ScheduledFor: &fireAt,
			StartedAt:    now,
		}
		if err := e.store.AppendLogEntry(ctx, entry); err != nil {
			return fmt.Errorf("logging scheduled step %s: %w", step.ID, err)
		}

		items = append(items, scheduler.Item{
			ExecutionID: exec.ID,
			StepID:      step.ID,
			Ordinal:     ordinal,
			FireAt:      fireAt,
			Step:        step,
			Last:        ordinal == len(steps),
		})

		e.logger.DebugContext(ctx, "step scheduled",
			logging.ExecutionIDKey, exec.ID,
			logging.StepIDKey, step.ID,
			logging.FireAtKey, fireAt,
		)
	}

	if err := e.queue.Enqueue(ctx, items...); err != nil {
		return fmt.Errorf("queueing scheduled steps: %w", err)
	}
	return nil
}

// transition moves exec to status, comparing against its current status.
func (e *Engine) transition(ctx context.Context, exec *models.Execution, status models.ExecutionStatus) error {
	prev := exec.Status
	exec.Status = status
	if status.Terminal() {
		done := e.clock.Now()
		exec.CompletedAt = &done
	}
	if err := e.store.UpdateExecution(ctx, exec, prev); err != nil {
		exec.Status = prev
		exec.CompletedAt = nil
		return fmt.Errorf("moving execution %s from %s to %s: %w", exec.ID, prev, status, err)
	}
	return nil
}

// finish resolves outstanding scheduled entries and moves exec to a
// terminal status.
func (e *Engine) finish(ctx context.Context, exec *models.Execution, status models.ExecutionStatus) error {
	resolution := models.LogSkipped
	if status == models.ExecutionCancelled {
		resolution = models.LogCancelled
	}
	if err := e.resolveOutstanding(ctx, exec, resolution); err != nil {
		return err
	}
	if err := e.transition(ctx, exec, status); err != nil {
		return err
	}
	if status != models.ExecutionCompleted {
		if _, err := e.queue.CancelExecution(ctx, exec.ID); err != nil {
			return fmt.Errorf("dropping queued steps: %w", err)
		}
	}
	e.metrics.executionsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	e.logger.InfoContext(ctx, "execution finished",
		logging.ExecutionIDKey, exec.ID,
		logging.StatusKey, status,
	)
	return nil
}

func (e *Engine) resolveOutstanding(ctx context.Context, exec *models.Execution, status models.LogStatus) error {
	entries, err := e.store.ListLogEntries(ctx, exec.ID)
	if err != nil {
		return fmt.Errorf("listing log: %w", err)
	}
	for _, pending := range models.OutstandingScheduled(entries) {
		now := e.clock.Now()
		entry := &models.ExecutionLogEntry{
			ExecutionID: exec.ID,
			StepID:      pending.StepID,
			StepName:    pending.StepName,
			Status:      status,
			DueHours:    pending.DueHours,
			StartedAt:   now,
			CompletedAt: &now,
		}
		if err := e.store.AppendLogEntry(ctx, entry); err != nil {
			return fmt.Errorf("resolving scheduled step %s: %w", pending.StepID, err)
		}
	}
	return nil
}

func stepInput(exec *models.Execution, step models.StepSpec) map[string]any {
	return map[string]any{
		"kind":          string(step.Kind),
		"assigned_role": step.AssignedRole,
		"context":       models.CloneContext(exec.Context),
	}
}
