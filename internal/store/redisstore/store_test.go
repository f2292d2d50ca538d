package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/thereayou/signal-relay/internal/store"
	"github.com/thereayou/signal-relay/internal/store/storetest"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(rdb, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		s, mr := newTestStore(t)
		return storetest.Harness{
			Store:   s,
			Advance: mr.FastForward,
		}
	})
}

func TestConformanceWithPrefix(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		s, mr := newTestStore(t, WithPrefix("relay:"))
		return storetest.Harness{
			Store:   s,
			Advance: mr.FastForward,
		}
	})
}

func TestPrefixIsApplied(t *testing.T) {
	s, mr := newTestStore(t, WithPrefix("relay:"))
	ctx := context.Background()

	if err := s.Set(ctx, store.RoomKey("ABC123"), []byte("{}"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("relay:room:ABC123") {
		t.Fatalf("key not namespaced, have %v", mr.Keys())
	}
	if ttl := mr.TTL("relay:room:ABC123"); ttl != time.Minute {
		t.Fatalf("ttl=%v, want %v", ttl, time.Minute)
	}
}

func TestAppendExpireSetsTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendExpire(ctx, s, "signals:ABC123:host", []byte(`{"type":"offer"}`), 300*time.Second); err != nil {
		t.Fatalf("append: %v", err)
	}
	if ttl := mr.TTL("signals:ABC123:host"); ttl != 300*time.Second {
		t.Fatalf("ttl=%v, want %v", ttl, 300*time.Second)
	}
	items, err := mr.List("signals:ABC123:host")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len=%d, want 1", len(items))
	}
}

func TestWrongTypeIsReported(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	err := s.ListAppend(ctx, "k", []byte("x"))
	if !errors.Is(err, store.ErrWrongType) {
		t.Fatalf("err=%v, want %v", err, store.ErrWrongType)
	}
}

func TestFailedListOpsLeaveScalarAlone(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := s.ListAppendExpire(ctx, "k", []byte("x"), 10*time.Minute)
	if !errors.Is(err, store.ErrWrongType) {
		t.Fatalf("append: err=%v, want %v", err, store.ErrWrongType)
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Fatalf("ttl=%v after failed append, want %v", ttl, time.Minute)
	}

	if _, err := s.ListDrain(ctx, "k"); !errors.Is(err, store.ErrWrongType) {
		t.Fatalf("drain: err=%v, want %v", err, store.ErrWrongType)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get after failed drain = %q, %v", got, err)
	}
}

func TestExpireZeroClearsTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendExpire(ctx, s, "q", []byte("a"), time.Minute); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Expire(ctx, "q", 0); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if !mr.Exists("q") {
		t.Fatalf("expire 0 deleted the key")
	}
	if ttl := mr.TTL("q"); ttl != 0 {
		t.Fatalf("ttl=%v, want none", ttl)
	}
}

func TestStoreErrorSurfaces(t *testing.T) {
	s, mr := newTestStore(t)
	mr.SetError("LOADING server is loading")
	defer mr.SetError("")

	_, err := s.ListDrain(context.Background(), "q")
	if err == nil {
		t.Fatalf("drain succeeded against a failing server")
	}
}

func TestConnectBareAddr(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer rdb.Close()

	rdb2, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("connect url: %v", err)
	}
	defer rdb2.Close()
}
