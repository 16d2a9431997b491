package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

const (
	notifyList  = "notify:queue"
	dedupPrefix = "notify:dedup:"
	dedupTTL    = 48 * time.Hour
)

// Task is one pending notification for downstream processing.
type Task struct {
	JobID string    `json:"job_id"`
	Kind  string    `json:"kind"`
	At    time.Time `json:"at"`
}

// RedisQ is the durable queue sweeper transitions are fanned into for
// notification processing. Enqueues are deduplicated by
// (jobID, transitionTimestamp) so a re-delivered transition is dropped.
type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

// Enqueue queues one notification task. Returns false when the same
// transition was already queued.
func (q *RedisQ) Enqueue(ctx context.Context, t Task) (bool, error) {
	key := fmt.Sprintf("%s%s:%d", dedupPrefix, t.JobID, t.At.UTC().UnixNano())
	fresh, err := q.rdb.SetNX(ctx, key, 1, dedupTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, "dedup setnx")
	}
	if !fresh {
		return false, nil
	}
	body, err := json.Marshal(t)
	if err != nil {
		return false, errors.Wrap(err, "marshal task")
	}
	if err := q.rdb.LPush(ctx, notifyList, body).Err(); err != nil {
		return false, errors.Wrap(err, "push task")
	}
	return true, nil
}

// Dequeue pops the next task, blocking up to block. Returns nil on
// timeout.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (*Task, error) {
	res, err := q.rdb.BRPop(ctx, block, notifyList).Result()
	if errors.Is(err, r.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "pop task")
	}
	if len(res) != 2 {
		return nil, nil
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return nil, errors.Wrap(err, "unmarshal task")
	}
	return &t, nil
}
