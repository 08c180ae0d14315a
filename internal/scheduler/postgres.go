package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue keeps scheduled steps in the scheduled_steps table created
// by the repository migrations.
type PostgresQueue struct {
	db         *pgxpool.Pool
	lease      time.Duration
	workerName string
}

var _ Queue = (*PostgresQueue)(nil)

func NewPostgresQueue(db *pgxpool.Pool, lease time.Duration) *PostgresQueue {
	return &PostgresQueue{
		db:         db,
		lease:      leaseOrDefault(lease),
		workerName: fmt.Sprintf("worker-%v", uuid.NewString()),
	}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, items ...Item) error {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		payload, err := encodeItem(item)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO scheduled_steps (execution_id, step_id, ordinal, fire_at, payload)
				VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
			item.ExecutionID, item.StepID, item.Ordinal, item.FireAt, payload,
		); err != nil {
			return fmt.Errorf("inserting scheduled step: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (q *PostgresQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	rows, err := q.db.Query(ctx,
		`UPDATE scheduled_steps s
			SET locked_until = $1, worker = $2
			WHERE (s.execution_id, s.step_id) IN (
				SELECT c.execution_id, c.step_id FROM scheduled_steps c
					WHERE c.fire_at <= $3
						AND (c.locked_until IS NULL OR c.locked_until < $3)
						AND NOT EXISTS (
							SELECT 1 FROM scheduled_steps p
								WHERE p.execution_id = c.execution_id AND p.ordinal < c.ordinal
						)
					ORDER BY c.fire_at
					LIMIT $4
					FOR UPDATE SKIP LOCKED
			) RETURNING s.payload`,
		now.Add(q.lease), q.workerName, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming scheduled steps: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		item, err := decodeItem(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (q *PostgresQueue) Complete(ctx context.Context, item Item) error {
	_, err := q.db.Exec(ctx,
		"DELETE FROM scheduled_steps WHERE execution_id = $1 AND step_id = $2",
		item.ExecutionID, item.StepID)
	return err
}

func (q *PostgresQueue) CancelExecution(ctx context.Context, executionID string) (int, error) {
	tag, err := q.db.Exec(ctx, "DELETE FROM scheduled_steps WHERE execution_id = $1", executionID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the pool is owned by the caller.
func (q *PostgresQueue) Close() error { return nil }
