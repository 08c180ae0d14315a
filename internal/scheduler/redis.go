package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueue keeps scheduled steps in Redis.
//
// Layout, relative to the key prefix:
//
//	due               sorted set of execution ids, scored by the fire time
//	                  of the execution's head step (or its lease expiry)
//	steps:<exec>      sorted set of step ids, scored by ordinal
//	item:<exec>:<id>  hash with the encoded item and its fire time
//
// The scripts do not work with Redis Cluster since not all keys are passed in.
type RedisQueue struct {
	rdb    redis.UniversalClient
	prefix string
	lease  time.Duration
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(rdb redis.UniversalClient, prefix string, lease time.Duration) *RedisQueue {
	return &RedisQueue{rdb: rdb, prefix: prefix, lease: leaseOrDefault(lease)}
}

func (q *RedisQueue) dueKey() string {
	return q.prefix + "due"
}

// KEYS[1] - due set
// ARGV[1] - key prefix
// ARGV[2..] - execution id, step id, ordinal, fire time (ms), payload; repeated
var enqueueCmd = redis.NewScript(`
	local prefix = ARGV[1]
	for i = 2, #ARGV, 5 do
		local exec = ARGV[i]
		local step = ARGV[i+1]
		local stepsKey = prefix .. "steps:" .. exec
		local added = redis.call("ZADD", stepsKey, "NX", ARGV[i+2], step)
		if added == 1 then
			redis.call("HSET", prefix .. "item:" .. exec .. ":" .. step, "fire_at", ARGV[i+3], "payload", ARGV[i+4])
		end
	end
	for i = 2, #ARGV, 5 do
		local exec = ARGV[i]
		local head = redis.call("ZRANGE", prefix .. "steps:" .. exec, 0, 0)
		if #head == 1 then
			local fireAt = redis.call("HGET", prefix .. "item:" .. exec .. ":" .. head[1], "fire_at")
			redis.call("ZADD", KEYS[1], "NX", fireAt, exec)
		end
	end
	return 0
`)

// Leases the head step of every due execution by pushing its score out to
// the lease expiry.
//
// KEYS[1] - due set
// ARGV[1] - now (ms)
// ARGV[2] - lease expiry (ms)
// ARGV[3] - limit
// ARGV[4] - key prefix
var claimCmd = redis.NewScript(`
	local prefix = ARGV[4]
	local execs = redis.call("ZRANGE", KEYS[1], "-inf", ARGV[1], "BYSCORE", "LIMIT", 0, ARGV[3])
	local out = {}
	for i = 1, #execs do
		local head = redis.call("ZRANGE", prefix .. "steps:" .. execs[i], 0, 0)
		if #head == 0 then
			redis.call("ZREM", KEYS[1], execs[i])
		else
			local payload = redis.call("HGET", prefix .. "item:" .. execs[i] .. ":" .. head[1], "payload")
			redis.call("ZADD", KEYS[1], ARGV[2], execs[i])
			table.insert(out, payload)
		end
	end
	return out
`)

// KEYS[1] - due set
// ARGV[1] - key prefix
// ARGV[2] - execution id
// ARGV[3] - step id
var completeCmd = redis.NewScript(`
	local prefix = ARGV[1]
	local stepsKey = prefix .. "steps:" .. ARGV[2]
	local removed = redis.call("ZREM", stepsKey, ARGV[3])
	redis.call("DEL", prefix .. "item:" .. ARGV[2] .. ":" .. ARGV[3])
	if removed == 0 then
		return 0
	end
	local head = redis.call("ZRANGE", stepsKey, 0, 0)
	if #head == 0 then
		redis.call("ZREM", KEYS[1], ARGV[2])
		return 1
	end
	local fireAt = redis.call("HGET", prefix .. "item:" .. ARGV[2] .. ":" .. head[1], "fire_at")
	redis.call("ZADD", KEYS[1], fireAt, ARGV[2])
	return 1
`)

// KEYS[1] - due set
// ARGV[1] - key prefix
// ARGV[2] - execution id
var cancelCmd = redis.NewScript(`
	local prefix = ARGV[1]
	local stepsKey = prefix .. "steps:" .. ARGV[2]
	local steps = redis.call("ZRANGE", stepsKey, 0, -1)
	for i = 1, #steps do
		redis.call("DEL", prefix .. "item:" .. ARGV[2] .. ":" .. steps[i])
	end
	redis.call("DEL", stepsKey)
	redis.call("ZREM", KEYS[1], ARGV[2])
	return #steps
`)

func (q *RedisQueue) Enqueue(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}

	args := []any{q.prefix}
	for _, item := range items {
		payload, err := encodeItem(item)
		if err != nil {
			return err
		}
		args = append(args, item.ExecutionID, item.StepID, item.Ordinal, item.FireAt.UnixMilli(), string(payload))
	}

	if _, err := enqueueCmd.Run(ctx, q.rdb, []string{q.dueKey()}, args...).Result(); err != nil && err != redis.Nil {
		return fmt.Errorf("enqueueing scheduled steps: %w", err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	res, err := claimCmd.Run(ctx, q.rdb, []string{q.dueKey()},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(q.lease).UnixMilli(), 10),
		limit,
		q.prefix,
	).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claiming scheduled steps: %w", err)
	}

	out := make([]Item, 0, len(res))
	for _, payload := range res {
		item, err := decodeItem([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (q *RedisQueue) Complete(ctx context.Context, item Item) error {
	if _, err := completeCmd.Run(ctx, q.rdb, []string{q.dueKey()}, q.prefix, item.ExecutionID, item.StepID).Result(); err != nil && err != redis.Nil {
		return fmt.Errorf("completing scheduled step: %w", err)
	}
	return nil
}

func (q *RedisQueue) CancelExecution(ctx context.Context, executionID string) (int, error) {
	n, err := cancelCmd.Run(ctx, q.rdb, []string{q.dueKey()}, q.prefix, executionID).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("cancelling scheduled steps: %w", err)
	}
	return n, nil
}

// Close is a no-op; the client is owned by the caller.
func (q *RedisQueue) Close() error { return nil }
