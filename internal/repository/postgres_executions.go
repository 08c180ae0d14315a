package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

const executionColumns = `id, workflow_id, org_id, status, current_step_id, context, steps_count, due_at, replay_of, started_at, completed_at`

func scanExecution(row pgx.Row) (*models.Execution, error) {
	var e models.Execution
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.OrgID, &e.Status, &e.CurrentStepID, &e.Context,
		&e.StepsCount, &e.DueAt, &e.ReplayOf, &e.StartedAt, &e.CompletedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectExecutions(rows pgx.Rows) ([]*models.Execution, error) {
	defer rows.Close()
	var out []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertExecution creates a new execution row.
func (s *PostgresStore) InsertExecution(ctx context.Context, e *models.Execution) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO executions ("+executionColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		e.ID, e.WorkflowID, e.OrgID, e.Status, e.CurrentStepID, contextOrEmpty(e.Context),
		e.StepsCount, e.DueAt, e.ReplayOf, e.StartedAt, e.CompletedAt)
	if uniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

// UpdateExecution updates the mutable columns if the status is unchanged.
func (s *PostgresStore) UpdateExecution(ctx context.Context, e *models.Execution, expected models.ExecutionStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE executions SET status = $1, current_step_id = $2, context = $3, completed_at = $4
			WHERE id = $5 AND status = $6`,
		e.Status, e.CurrentStepID, contextOrEmpty(e.Context), e.CompletedAt, e.ID, expected)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.FindExecutionByID(ctx, e.ID); err != nil {
		return err
	}
	return apperr.ErrConflict
}

// FindExecutionByID retrieves an execution by its ID.
func (s *PostgresStore) FindExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	e, err := scanExecution(s.db.QueryRow(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// FindExecutionsByOrgAndStatus lists an org's executions in a status.
func (s *PostgresStore) FindExecutionsByOrgAndStatus(ctx context.Context, orgID string, status models.ExecutionStatus) ([]*models.Execution, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE org_id = $1 AND status = $2 ORDER BY started_at",
		orgID, status)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

// FindExecutionsDueBefore lists executions in a status whose SLA ends before t.
func (s *PostgresStore) FindExecutionsDueBefore(ctx context.Context, status models.ExecutionStatus, t time.Time) ([]*models.Execution, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE status = $1 AND due_at < $2 ORDER BY due_at",
		status, t)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

// AppendLogEntry inserts a log entry and sets its sequence number.
func (s *PostgresStore) AppendLogEntry(ctx context.Context, l *models.ExecutionLogEntry) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO execution_log (execution_id, step_id, step_name, status, input, output, error, due_hours, scheduled_for, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING seq`,
		l.ExecutionID, l.StepID, l.StepName, l.Status, l.Input, l.Output, l.Error,
		l.DueHours, l.ScheduledFor, l.StartedAt, l.CompletedAt,
	).Scan(&l.Seq)
}

// ListLogEntries returns an execution's log in append order.
func (s *PostgresStore) ListLogEntries(ctx context.Context, executionID string) ([]models.ExecutionLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT seq, execution_id, step_id, step_name, status, input, output, error, due_hours, scheduled_for, started_at, completed_at
			FROM execution_log WHERE execution_id = $1 ORDER BY seq`,
		executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExecutionLogEntry
	for rows.Next() {
		var l models.ExecutionLogEntry
		if err := rows.Scan(&l.Seq, &l.ExecutionID, &l.StepID, &l.StepName, &l.Status, &l.Input, &l.Output,
			&l.Error, &l.DueHours, &l.ScheduledFor, &l.StartedAt, &l.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func contextOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
