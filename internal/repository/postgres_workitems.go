package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

const workItemColumns = `id, org_id, execution_id, workflow_id, step_id, %s, assigned_role, severity, due_date, context, status, created_at`

var (
	taskColumns     = fmt.Sprintf(workItemColumns, "name")
	approvalColumns = fmt.Sprintf(workItemColumns, "title")
)

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	if err := row.Scan(&t.ID, &t.OrgID, &t.ExecutionID, &t.WorkflowID, &t.StepID, &t.Name, &t.AssignedRole,
		&t.Severity, &t.DueDate, &t.Context, &t.Status, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) queryTasks(ctx context.Context, where string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.Query(ctx, "SELECT "+taskColumns+" FROM tasks WHERE "+where+" ORDER BY due_date", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertTask creates a task row.
func (s *PostgresStore) InsertTask(ctx context.Context, t *models.Task) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO tasks ("+taskColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		t.ID, t.OrgID, t.ExecutionID, t.WorkflowID, t.StepID, t.Name, t.AssignedRole,
		t.Severity, t.DueDate, contextOrEmpty(t.Context), t.Status, t.CreatedAt)
	if uniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

// UpdateTask writes the mutable columns of a task.
func (s *PostgresStore) UpdateTask(ctx context.Context, t *models.Task) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE tasks SET assigned_role = $1, due_date = $2, context = $3, status = $4 WHERE id = $5",
		t.AssignedRole, t.DueDate, contextOrEmpty(t.Context), t.Status, t.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// FindTaskByID retrieves a task by its ID.
func (s *PostgresStore) FindTaskByID(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (s *PostgresStore) FindTasksByOrgAndStatus(ctx context.Context, orgID string, status models.WorkItemStatus) ([]*models.Task, error) {
	return s.queryTasks(ctx, "org_id = $1 AND status = $2", orgID, status)
}

func (s *PostgresStore) FindTasksDueBefore(ctx context.Context, status models.WorkItemStatus, t time.Time) ([]*models.Task, error) {
	return s.queryTasks(ctx, "status = $1 AND due_date < $2", status, t)
}

func scanApproval(row pgx.Row) (*models.ApprovalRequest, error) {
	var a models.ApprovalRequest
	if err := row.Scan(&a.ID, &a.OrgID, &a.ExecutionID, &a.WorkflowID, &a.StepID, &a.Title, &a.AssignedRole,
		&a.Severity, &a.DueDate, &a.Context, &a.Status, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) queryApprovals(ctx context.Context, where string, args ...any) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.Query(ctx, "SELECT "+approvalColumns+" FROM approval_requests WHERE "+where+" ORDER BY due_date", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertApproval creates an approval request row.
func (s *PostgresStore) InsertApproval(ctx context.Context, a *models.ApprovalRequest) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO approval_requests ("+approvalColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		a.ID, a.OrgID, a.ExecutionID, a.WorkflowID, a.StepID, a.Title, a.AssignedRole,
		a.Severity, a.DueDate, contextOrEmpty(a.Context), a.Status, a.CreatedAt)
	if uniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

// UpdateApproval writes the mutable columns of an approval request.
func (s *PostgresStore) UpdateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE approval_requests SET assigned_role = $1, due_date = $2, context = $3, status = $4 WHERE id = $5",
		a.AssignedRole, a.DueDate, contextOrEmpty(a.Context), a.Status, a.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// FindApprovalByID retrieves an approval request by its ID.
func (s *PostgresStore) FindApprovalByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	a, err := scanApproval(s.db.QueryRow(ctx, "SELECT "+approvalColumns+" FROM approval_requests WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *PostgresStore) FindApprovalsByOrgAndStatus(ctx context.Context, orgID string, status models.WorkItemStatus) ([]*models.ApprovalRequest, error) {
	return s.queryApprovals(ctx, "org_id = $1 AND status = $2", orgID, status)
}

func (s *PostgresStore) FindApprovalsDueBefore(ctx context.Context, status models.WorkItemStatus, t time.Time) ([]*models.ApprovalRequest, error) {
	return s.queryApprovals(ctx, "status = $1 AND due_date < $2", status, t)
}
