// Package sla watches due dates and escalates breached tasks, approvals and
// executions along their escalation rules.
package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/handlers"
	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/repository"
	"riskflow/backend/pkg/models"
)

// Store is the persistence the tracker reads breach candidates and rules from.
type Store interface {
	repository.TaskRepository
	repository.ApprovalRepository
	repository.ExecutionRepository
	repository.EscalationRepository
}

// Escalator performs a single escalation step.
type Escalator interface {
	Escalate(ctx context.Context, req handlers.EscalationRequest) (*handlers.EscalationResult, error)
}

type Options struct {
	TickInterval   time.Duration
	RuleCacheTTL   time.Duration
	Clock          clock.Clock
	Logger         *logging.Logger
	TracerProvider trace.TracerProvider
}

// Escalation is one level escalated during a tick.
type Escalation struct {
	Entity models.EntityRef `json:"entity"`
	RuleID string           `json:"rule_id"`
	Level  int              `json:"level"`
	Role   string           `json:"role"`
}

// Exhaustion is an entity whose escalation path ran out during a tick.
type Exhaustion struct {
	Entity models.EntityRef `json:"entity"`
	RuleID string           `json:"rule_id"`
	Level  int              `json:"level"`
}

// Report summarizes one tick.
type Report struct {
	Breached  int          `json:"breached"`
	Escalated []Escalation `json:"escalated"`
	Exhausted []Exhaustion `json:"exhausted"`
	Failed    int          `json:"failed"`
}

type candidate struct {
	entity     models.EntityRef
	orgID      string
	workflowID string
	severity   models.Severity
	due        time.Time
}

// Tracker finds breached entities and escalates them at most once per level.
// Each entity follows its governing rule: the most severe matching rule,
// ties broken by rule id.
type Tracker struct {
	store     Store
	escalator Escalator
	rules     *ruleCache
	options   Options

	clock  clock.Clock
	logger *logging.Logger
	tracer trace.Tracer
}

func NewTracker(store Store, escalator Escalator, opts Options) *Tracker {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.RuleCacheTTL <= 0 {
		opts.RuleCacheTTL = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}

	return &Tracker{
		store:     store,
		escalator: escalator,
		rules:     newRuleCache(store, opts.RuleCacheTTL),
		options:   opts,
		clock:     opts.Clock,
		logger:    opts.Logger,
		tracer:    opts.TracerProvider.Tracer("riskflow/sla"),
	}
}

// InvalidateRules forgets cached rules of an org, e.g. after seeding.
func (t *Tracker) InvalidateRules(orgID string) {
	t.rules.invalidate(orgID)
}

// Run ticks until ctx is done. Tick errors are logged.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.Ticker(t.options.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := t.Tick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.ErrorContext(ctx, "sla tick failed", "error", err)
				continue
			}
			if len(report.Escalated) > 0 || len(report.Exhausted) > 0 || report.Failed > 0 {
				t.logger.InfoContext(ctx, "sla tick",
					"breached", report.Breached,
					"escalated", len(report.Escalated),
					"exhausted", len(report.Exhausted),
					"failed", report.Failed,
				)
			}
		}
	}
}

// Tick checks every open entity once.
func (t *Tracker) Tick(ctx context.Context) (*Report, error) {
	ctx, span := t.tracer.Start(ctx, "sla.Tick")
	defer span.End()

	now := t.clock.Now()
	candidates, err := t.candidates(ctx, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &Report{Breached: len(candidates)}
	reported := make(map[string]bool)
	for _, c := range candidates {
		set, err := t.rules.rules(ctx, c.orgID)
		if err != nil {
			t.logger.ErrorContext(ctx, "could not load escalation rules", logging.OrgIDKey, c.orgID, "error", err)
			report.Failed++
			continue
		}
		if !reported[c.orgID] {
			reported[c.orgID] = true
			for _, err := range set.invalid {
				t.logger.ErrorContext(ctx, "skipping escalation rule", logging.OrgIDKey, c.orgID, "error", err)
				report.Failed++
			}
		}

		r, ok := set.governing(c.entity.Kind, c.workflowID, c.severity)
		if !ok {
			continue
		}
		if err := t.check(ctx, now, c, r.rule, report); err != nil {
			t.logger.ErrorContext(ctx, "escalation failed",
				logging.EntityKindKey, c.entity.Kind,
				logging.EntityIDKey, c.entity.ID,
				logging.RuleIDKey, r.rule.ID,
				"error", err,
			)
			report.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("sla.breached", report.Breached),
		attribute.Int("sla.escalated", len(report.Escalated)),
	)
	return report, nil
}

func (t *Tracker) check(ctx context.Context, now time.Time, c candidate, rule *models.EscalationRule, report *Report) error {
	st, err := t.store.GetEscalationState(ctx, c.entity)
	if err != nil {
		return fmt.Errorf("reading escalation state: %w", err)
	}
	if st.Exhausted {
		return nil
	}

	level := st.Level
	if level >= len(rule.EscalationPath) {
		return t.exhaust(ctx, c, rule, level, report)
	}

	threshold := 0
	if level < len(rule.TimeThresholdsHours) {
		threshold = rule.TimeThresholdsHours[level]
	}
	if now.Before(c.due.Add(time.Duration(threshold) * time.Hour)) {
		return nil
	}

	res, err := t.escalator.Escalate(ctx, handlers.EscalationRequest{
		OrgID:    c.orgID,
		Entity:   c.entity,
		RuleID:   rule.ID,
		Path:     rule.EscalationPath,
		Severity: c.severity,
		Level:    level,
		Data: map[string]any{
			"workflow_id": c.workflowID,
			"rule_name":   rule.Name,
			"due":         c.due.UTC().Format(time.RFC3339),
		},
	})
	var exhausted *apperr.EscalationExhaustedError
	switch {
	case errors.Is(err, apperr.ErrAlreadyEscalated):
		return nil
	case errors.As(err, &exhausted):
		return t.exhaust(ctx, c, rule, level, report)
	case err != nil:
		return err
	}

	report.Escalated = append(report.Escalated, Escalation{
		Entity: c.entity,
		RuleID: rule.ID,
		Level:  res.Level,
		Role:   res.Role,
	})
	t.logger.InfoContext(ctx, "escalated",
		logging.EntityKindKey, c.entity.Kind,
		logging.EntityIDKey, c.entity.ID,
		logging.RuleIDKey, rule.ID,
		logging.LevelKey, res.Level,
		logging.RoleKey, res.Role,
	)
	return nil
}

// exhaust reports a path that has no further role, once per entity.
func (t *Tracker) exhaust(ctx context.Context, c candidate, rule *models.EscalationRule, level int, report *Report) error {
	marked, err := t.store.MarkEscalationExhausted(ctx, c.orgID, c.entity, rule.ID)
	if err != nil {
		return fmt.Errorf("marking escalation exhausted: %w", err)
	}
	if !marked {
		return nil
	}
	report.Exhausted = append(report.Exhausted, Exhaustion{Entity: c.entity, RuleID: rule.ID, Level: level})
	t.logger.WarnContext(ctx, "escalation path exhausted",
		logging.EntityKindKey, c.entity.Kind,
		logging.EntityIDKey, c.entity.ID,
		logging.RuleIDKey, rule.ID,
		logging.LevelKey, level,
	)
	return nil
}

func (t *Tracker) candidates(ctx context.Context, now time.Time) ([]candidate, error) {
	var out []candidate

	tasks, err := t.store.FindTasksDueBefore(ctx, models.WorkItemPending, now)
	if err != nil {
		return nil, fmt.Errorf("listing overdue tasks: %w", err)
	}
	for _, task := range tasks {
		out = append(out, candidate{
			entity:     models.EntityRef{Kind: models.EntityTask, ID: task.ID},
			orgID:      task.OrgID,
			workflowID: task.WorkflowID,
			severity:   task.Severity,
			due:        task.DueDate,
		})
	}

	approvals, err := t.store.FindApprovalsDueBefore(ctx, models.WorkItemPending, now)
	if err != nil {
		return nil, fmt.Errorf("listing overdue approvals: %w", err)
	}
	for _, a := range approvals {
		out = append(out, candidate{
			entity:     models.EntityRef{Kind: models.EntityApproval, ID: a.ID},
			orgID:      a.OrgID,
			workflowID: a.WorkflowID,
			severity:   a.Severity,
			due:        a.DueDate,
		})
	}

	execs, err := t.store.FindExecutionsDueBefore(ctx, models.ExecutionRunning, now)
	if err != nil {
		return nil, fmt.Errorf("listing overdue executions: %w", err)
	}
	for _, e := range execs {
		out = append(out, candidate{
			entity:     models.EntityRef{Kind: models.EntityExecution, ID: e.ID},
			orgID:      e.OrgID,
			workflowID: e.WorkflowID,
			severity:   models.ParseSeverity(e.Context["severity"]),
			due:        *e.DueAt,
		})
	}

	return out, nil
}
