package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiterSlidingWindow(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lim := NewRedisLimiter(client, 2, time.Second, "test:")
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	if ok, _, err := lim.Allow(ctx, "user", now); err != nil || !ok {
		t.Fatalf("expected allow on first call, err=%v", err)
	}
	if ok, _, err := lim.Allow(ctx, "user", now.Add(500*time.Millisecond)); err != nil || !ok {
		t.Fatalf("expected allow on second call, err=%v", err)
	}

	allowed, retryAfter, err := lim.Allow(ctx, "user", now.Add(700*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected rate limited")
	}
	if retryAfter != 300*time.Millisecond {
		t.Fatalf("expected retryAfter 300ms, got %s", retryAfter)
	}

	if ok, _, err := lim.Allow(ctx, "user", now.Add(1100*time.Millisecond)); err != nil || !ok {
		t.Fatalf("expected allow after oldest hit leaves window, err=%v", err)
	}
}

func TestRedisLimiterReportsUnavailable(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	s.Close()

	lim := NewRedisLimiter(client, 1, time.Second, "")
	if _, _, err := lim.Allow(context.Background(), "user", time.Now()); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
