package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	item        Item
	lockedUntil time.Time
}

// MemoryQueue is a non-durable Queue for dev mode and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	lease time.Duration
	// per execution, ordered by ordinal
	items map[string][]*memoryEntry
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	return &MemoryQueue{lease: leaseOrDefault(lease), items: make(map[string][]*memoryEntry)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, items ...Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range items {
		entries := q.items[item.ExecutionID]
		dup := false
		for _, e := range entries {
			if e.item.StepID == item.StepID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		entries = append(entries, &memoryEntry{item: item})
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].item.Ordinal < entries[j].item.Ordinal })
		q.items[item.ExecutionID] = entries
	}
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, now time.Time, limit int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var heads []*memoryEntry
	for _, entries := range q.items {
		head := entries[0]
		if head.item.FireAt.After(now) || head.lockedUntil.After(now) {
			continue
		}
		heads = append(heads, head)
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].item.FireAt.Before(heads[j].item.FireAt) })

	if limit > 0 && len(heads) > limit {
		heads = heads[:limit]
	}
	out := make([]Item, 0, len(heads))
	for _, h := range heads {
		h.lockedUntil = now.Add(q.lease)
		out = append(out, h.item)
	}
	return out, nil
}

func (q *MemoryQueue) Complete(_ context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.items[item.ExecutionID]
	for i, e := range entries {
		if e.item.StepID == item.StepID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(q.items, item.ExecutionID)
	} else {
		q.items[item.ExecutionID] = entries
	}
	return nil
}

func (q *MemoryQueue) CancelExecution(_ context.Context, executionID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items[executionID])
	delete(q.items, executionID)
	return n, nil
}

// Len returns the number of queued items.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, entries := range q.items {
		n += len(entries)
	}
	return n
}

func (q *MemoryQueue) Close() error { return nil }
