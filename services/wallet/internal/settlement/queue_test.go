package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisQueueClaimsOnlyDueJobs(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	q := NewRedisQueue(client, "test:jobs")
	ctx := context.Background()
	now := time.Now()

	due := NewJob(KindDepositCheck, uuid.New(), now.Add(-time.Second))
	later := NewJob(KindWithdrawalCheck, uuid.New(), now.Add(time.Hour))
	if err := q.Enqueue(ctx, due); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, later); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, err := q.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != due.ID {
		t.Fatalf("expected only the due job, got %+v", jobs)
	}
	if jobs[0].TransactionID != due.TransactionID {
		t.Fatalf("expected transaction id to round trip")
	}

	again, err := q.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected claimed job to be removed, got %d", len(again))
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("expected 1 job left, got %d", n)
	}
}

func TestMemoryQueueOrdersByDueTime(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	second := NewJob(KindDepositCheck, uuid.New(), now.Add(-time.Second))
	first := NewJob(KindDepositCheck, uuid.New(), now.Add(-time.Minute))
	future := NewJob(KindDepositCheck, uuid.New(), now.Add(time.Minute))
	_ = q.Enqueue(ctx, second)
	_ = q.Enqueue(ctx, future)
	_ = q.Enqueue(ctx, first)

	jobs, _ := q.ClaimDue(ctx, now, 10)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Fatalf("expected jobs in due order")
	}
	if q.Len() != 1 {
		t.Fatalf("expected future job to stay queued")
	}
}
