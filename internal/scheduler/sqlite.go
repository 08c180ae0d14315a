package scheduler

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteQueue is a single-node durable Queue. Times are stored as unix
// milliseconds.
type SQLiteQueue struct {
	db         *sql.DB
	lease      time.Duration
	workerName string
}

var _ Queue = (*SQLiteQueue)(nil)

// NewSQLiteQueue opens (or creates) the queue database at path.
func NewSQLiteQueue(path string, lease time.Duration) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%v?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing queue schema: %w", err)
	}

	return &SQLiteQueue{
		db:         db,
		lease:      leaseOrDefault(lease),
		workerName: fmt.Sprintf("worker-%v", uuid.NewString()),
	}, nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, items ...Item) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, item := range items {
		payload, err := encodeItem(item)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO scheduled_steps (execution_id, step_id, ordinal, fire_at, payload) VALUES (?, ?, ?, ?, ?)",
			item.ExecutionID, item.StepID, item.Ordinal, item.FireAt.UnixMilli(), payload,
		); err != nil {
			return fmt.Errorf("inserting scheduled step: %w", err)
		}
	}

	return tx.Commit()
}

func (q *SQLiteQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	nowMs := now.UnixMilli()
	rows, err := q.db.QueryContext(ctx,
		`UPDATE scheduled_steps
			SET locked_until = ?, worker = ?
			WHERE rowid IN (
				SELECT c.rowid FROM scheduled_steps c
					WHERE c.fire_at <= ?
						AND (c.locked_until IS NULL OR c.locked_until < ?)
						AND NOT EXISTS (
							SELECT 1 FROM scheduled_steps p
								WHERE p.execution_id = c.execution_id AND p.ordinal < c.ordinal
						)
					ORDER BY c.fire_at
					LIMIT ?
			) RETURNING payload`,
		now.Add(q.lease).UnixMilli(), q.workerName, nowMs, nowMs, limit)
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

func (q *SQLiteQueue) Complete(ctx context.Context, item Item) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM scheduled_steps WHERE execution_id = ? AND step_id = ?",
		item.ExecutionID, item.StepID)
	return err
}

func (q *SQLiteQueue) CancelExecution(ctx context.Context, executionID string) (int, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM scheduled_steps WHERE execution_id = ?", executionID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
