package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLimiter(Config{Redis: rdb, Limit: limit, Window: window}), mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "create", "1.2.3.4"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow(ctx, "create", "1.2.3.4"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v, want %v", err, ErrRateLimited)
	}
	// other identifiers have their own budget
	if err := l.Allow(ctx, "create", "5.6.7.8"); err != nil {
		t.Fatalf("other ip: %v", err)
	}
}

func TestWindowResets(t *testing.T) {
	l, mr := newLimiter(t, 1, time.Minute)
	ctx := context.Background()

	_ = l.Allow(ctx, "create", "ip")
	if err := l.Allow(ctx, "create", "ip"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v, want %v", err, ErrRateLimited)
	}
	if ttl := mr.TTL("ratelimit:create:ip"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl=%s", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Allow(ctx, "create", "ip"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewLimiter(Config{Redis: rdb, KeyPrefix: "relay:", Limit: 5})

	if err := l.Allow(context.Background(), "create", "ip"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !mr.Exists("relay:ratelimit:create:ip") || mr.Exists("ratelimit:create:ip") {
		t.Fatalf("counter not namespaced, have %v", mr.Keys())
	}
	if n, err := l.Remaining(context.Background(), "create", "ip"); err != nil || n != 4 {
		t.Fatalf("remaining=%d err=%v, want 4", n, err)
	}
}

func TestRemaining(t *testing.T) {
	l, _ := newLimiter(t, 5, time.Minute)
	ctx := context.Background()

	n, err := l.Remaining(ctx, "create", "ip")
	if err != nil || n != 5 {
		t.Fatalf("remaining=%d err=%v", n, err)
	}
	for i := 0; i < 7; i++ {
		_ = l.Allow(ctx, "create", "ip")
	}
	n, err = l.Remaining(ctx, "create", "ip")
	if err != nil || n != 0 {
		t.Fatalf("remaining=%d err=%v", n, err)
	}
}

func TestFailOpen(t *testing.T) {
	l, mr := newLimiter(t, 1, time.Minute)
	mr.SetError("boom")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "create", "ip"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
}

func TestNilAndDisabledLimiterAllow(t *testing.T) {
	var l *Limiter
	if err := l.Allow(context.Background(), "create", "ip"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	off := NewLimiter(Config{Limit: 10})
	if err := off.Allow(context.Background(), "create", "ip"); err != nil {
		t.Fatalf("limiter without redis: %v", err)
	}
}
