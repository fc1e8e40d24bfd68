package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestRateLimitRepository_CountsAttemptsInsideWindow(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "ratelimit", TTL: 10 * time.Minute})

	ctx := context.Background()
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{now.Add(-2 * time.Minute), now.Add(-30 * time.Second), now, now} {
		if err := repo.RecordAttempt(ctx, "login:192.0.2.1", at); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "login:192.0.2.1", time.Minute, now)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts inside the window, got %d", count)
	}

	ttl := server.TTL("ratelimit:login:192.0.2.1")
	if ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("expected ttl within (0, 10m], got %v", ttl)
	}
}

func TestRateLimitRepository_TrimAndOldest(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "ratelimit"})

	ctx := context.Background()
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	stale := now.Add(-5 * time.Minute)
	inside := now.Add(-20 * time.Second)

	for _, at := range []time.Time{stale, inside, now} {
		if err := repo.RecordAttempt(ctx, "ip", at); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	if err := repo.TrimWindow(ctx, "ip", time.Minute, now); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}

	remaining, err := client.ZCard(ctx, "ratelimit:ip").Result()
	if err != nil {
		t.Fatalf("ZCard returned error: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected stale attempt trimmed, %d members left", remaining)
	}

	oldest, ok, err := repo.OldestAttempt(ctx, "ip", time.Minute, now)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected an oldest attempt")
	}
	if !oldest.Equal(inside) {
		t.Fatalf("expected oldest %v, got %v", inside, oldest)
	}
}

func TestRateLimitRepository_EmptyAndInvalidWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	ctx := context.Background()
	now := time.Now()

	if _, ok, err := repo.OldestAttempt(ctx, "nobody", time.Minute, now); err != nil || ok {
		t.Fatalf("expected no attempts, got ok=%v err=%v", ok, err)
	}
	if _, err := repo.CountAttempts(ctx, "nobody", 0, now); err == nil {
		t.Fatalf("expected error for zero window")
	}
}
