// Package settlement runs the wallet's background work: delayed settlement
// checks pulled from a due-time queue and cron-scheduled sweeps.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	KindDepositCheck    = "deposit.check"
	KindWithdrawalCheck = "withdrawal.check"
)

const defaultQueueKey = "wallet:settlement:jobs"

type Job struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Attempt       int       `json:"attempt"`
	RunAt         time.Time `json:"run_at"`
}

func NewJob(kind string, txID uuid.UUID, runAt time.Time) Job {
	return Job{ID: uuid.NewString(), Kind: kind, TransactionID: txID, RunAt: runAt}
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// ClaimDue removes and returns up to limit jobs due at or before now.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
}

// ZRANGEBYSCORE and ZREM run in one script so two workers never claim the
// same job.
var claimScript = redis.NewScript(`
local jobs = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, job in ipairs(jobs) do
  redis.call("ZREM", KEYS[1], job)
end
return jobs
`)

type RedisQueue struct {
	client redis.Cmdable
	key    string
}

func NewRedisQueue(client redis.Cmdable, key string) *RedisQueue {
	if key == "" {
		key = defaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: string(payload)}).Err()
}

func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := claimScript.Run(ctx, q.client, []string{q.key}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	jobs := make([]Job, 0, len(res))
	for _, raw := range res {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Len reports the number of queued jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

// MemoryQueue is used when no Redis is configured. Jobs do not survive a
// restart; the reconcile sweep picks up whatever was lost.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	sort.SliceStable(q.jobs, func(i, j int) bool { return q.jobs[i].RunAt.Before(q.jobs[j].RunAt) })
	return nil
}

func (q *MemoryQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	n := 0
	for n < len(q.jobs) && n < limit && !q.jobs[n].RunAt.After(now) {
		n++
	}
	claimed := append([]Job(nil), q.jobs[:n]...)
	q.jobs = append(q.jobs[:0], q.jobs[n:]...)
	return claimed, nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
