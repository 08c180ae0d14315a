// Package scheduler holds the durable queue of steps waiting for their fire
// time, and the worker that polls it.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"riskflow/backend/pkg/models"
)

// DefaultLease is used when a queue is created without a lease.
const DefaultLease = 5 * time.Minute

func leaseOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultLease
	}
	return d
}

// Item is one scheduled step of an execution.
type Item struct {
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	Ordinal     int             `json:"ordinal"`
	FireAt      time.Time       `json:"fire_at"`
	Step        models.StepSpec `json:"step"`
	// Last marks the final step of the plan.
	Last bool `json:"last"`
}

// Queue stores scheduled steps until they are due.
//
// Claim only ever hands out the lowest-ordinal remaining item of an
// execution, so steps of one execution never run concurrently. A claimed
// item stays leased until Complete removes it; when the lease runs out the
// item is handed out again.
type Queue interface {
	// Enqueue adds items. Items already queued are left untouched.
	Enqueue(ctx context.Context, items ...Item) error
	// Claim leases up to limit due items.
	Claim(ctx context.Context, now time.Time, limit int) ([]Item, error)
	// Complete removes a claimed item.
	Complete(ctx context.Context, item Item) error
	// CancelExecution drops every queued item of an execution and reports
	// how many were removed.
	CancelExecution(ctx context.Context, executionID string) (int, error)
	Close() error
}

func encodeItem(item Item) ([]byte, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encoding scheduled item: %w", err)
	}
	return b, nil
}

func decodeItem(b []byte) (Item, error) {
	var item Item
	if err := json.Unmarshal(b, &item); err != nil {
		return Item{}, fmt.Errorf("decoding scheduled item: %w", err)
	}
	return item, nil
}
