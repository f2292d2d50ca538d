// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/thereayou/signal-relay/internal/store"
)

type Harness struct {
	Store store.Store
	// Advance moves the backend clock forward. Expiry cases are skipped
	// when it is nil.
	Advance func(time.Duration)
}

// Run exercises a backend. newHarness must return an empty store each call.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, h Harness)
	}{
		{"GetMissing", testGetMissing},
		{"SetGet", testSetGet},
		{"SetOverwrites", testSetOverwrites},
		{"Delete", testDelete},
		{"DrainMissing", testDrainMissing},
		{"AppendDrainFIFO", testAppendDrainFIFO},
		{"DrainIsExactlyOnce", testDrainIsExactlyOnce},
		{"ExpireMissing", testExpireMissing},
		{"UpdateMissing", testUpdateMissing},
		{"Update", testUpdate},
		{"UpdateError", testUpdateError},
		{"ConcurrentUpdates", testConcurrentUpdates},
		{"ConcurrentAppendDrain", testConcurrentAppendDrain},
		{"SetExpires", testSetExpires},
		{"UpdateKeepsTTL", testUpdateKeepsTTL},
		{"ListExpires", testListExpires},
		{"ExpireRefreshes", testExpireRefreshes},
		{"AtomicAppender", testAtomicAppender},
		{"Counter", testCounter},
		{"WrongTypeIsAtomic", testWrongTypeIsAtomic},
		{"ExpireZeroPersists", testExpireZeroPersists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newHarness(t))
		})
	}
}

func testGetMissing(t *testing.T, h Harness) {
	_, err := h.Store.Get(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want %v", err, store.ErrNotFound)
	}
}

func testSetGet(t *testing.T, h Harness) {
	ctx := context.Background()
	if err := h.Store.Set(ctx, "k", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := h.Store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("got=%s, want %s", got, `{"a":1}`)
	}
}

func testSetOverwrites(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSet(t, h.Store, "k", "one", time.Minute)
	mustSet(t, h.Store, "k", "two", time.Minute)
	got, err := h.Store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("got=%s, want two", got)
	}
}

func testDelete(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSet(t, h.Store, "k", "v", time.Minute)
	if err := h.Store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.Store.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want %v", err, store.ErrNotFound)
	}
	if err := h.Store.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func testDrainMissing(t *testing.T, h Harness) {
	got, err := h.Store.ListDrain(context.Background(), "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got == nil {
		t.Fatalf("drain returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Fatalf("len=%d, want 0", len(got))
	}
}

func testAppendDrainFIFO(t *testing.T, h Harness) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := h.Store.ListAppend(ctx, "q", []byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got, err := h.Store.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len=%d, want 5", len(got))
	}
	for i, b := range got {
		if string(b) != strconv.Itoa(i) {
			t.Fatalf("entry %d = %s, want %d", i, b, i)
		}
	}
}

func testDrainIsExactlyOnce(t *testing.T, h Harness) {
	ctx := context.Background()
	if err := h.Store.ListAppend(ctx, "q", []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	first, err := h.Store.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first drain len=%d, want 1", len(first))
	}
	second, err := h.Store.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second drain len=%d, want 0", len(second))
	}
}

func testExpireMissing(t *testing.T, h Harness) {
	if err := h.Store.Expire(context.Background(), "nope", time.Minute); err != nil {
		t.Fatalf("expire missing: %v", err)
	}
}

func testUpdateMissing(t *testing.T, h Harness) {
	called := false
	err := h.Store.Update(context.Background(), "nope", func(cur []byte) ([]byte, error) {
		called = true
		return cur, nil
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want %v", err, store.ErrNotFound)
	}
	if called {
		t.Fatalf("update func called for a missing key")
	}
}

func testUpdate(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSet(t, h.Store, "k", "a", time.Minute)
	err := h.Store.Update(ctx, "k", func(cur []byte) ([]byte, error) {
		return append(cur, 'b'), nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := h.Store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "ab" {
		t.Fatalf("got=%s, want ab", got)
	}
}

func testUpdateError(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSet(t, h.Store, "k", "a", time.Minute)
	boom := errors.New("boom")
	err := h.Store.Update(ctx, "k", func([]byte) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
	got, err := h.Store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("got=%s, want a", got)
	}
}

func testConcurrentUpdates(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSet(t, h.Store, "counter", "0", time.Minute)

	const workers = 8
	var wg sync.WaitGroup
	errc := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- h.Store.Update(ctx, "counter", func(cur []byte) ([]byte, error) {
				n, err := strconv.Atoi(string(cur))
				if err != nil {
					return nil, err
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
		}()
	}
	wg.Wait()
	close(errc)

	var ok int
	for err := range errc {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrConflict):
		default:
			t.Fatalf("update: %v", err)
		}
	}
	got, err := h.Store.Get(ctx, "counter")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != strconv.Itoa(ok) {
		t.Fatalf("counter=%s, want %d (no lost updates)", got, ok)
	}
}

func testConcurrentAppendDrain(t *testing.T, h Harness) {
	ctx := context.Background()

	const (
		producers = 4
		perWorker = 25
	)
	var (
		wg   sync.WaitGroup
		done = make(chan struct{})
		seen = make(map[string]int)
	)

	drained := make(chan error, 1)
	go func() {
		for {
			select {
			case <-done:
				drained <- nil
				return
			default:
			}
			got, err := h.Store.ListDrain(ctx, "q")
			if err != nil {
				drained <- err
				return
			}
			for _, b := range got {
				seen[string(b)]++
			}
		}
	}()

	errc := make(chan error, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := h.Store.ListAppend(ctx, "q", []byte(fmt.Sprintf("%d-%d", p, i))); err != nil {
					errc <- err
					return
				}
			}
		}(p)
	}
	wg.Wait()
	close(done)
	if err := <-drained; err != nil {
		t.Fatalf("drain: %v", err)
	}
	close(errc)
	for err := range errc {
		t.Fatalf("append: %v", err)
	}

	rest, err := h.Store.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("final drain: %v", err)
	}
	for _, b := range rest {
		seen[string(b)]++
	}

	if len(seen) != producers*perWorker {
		t.Fatalf("delivered %d distinct entries, want %d", len(seen), producers*perWorker)
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("entry %s delivered %d times, want 1", k, n)
		}
	}
}

func testSetExpires(t *testing.T, h Harness) {
	if h.Advance == nil {
		t.Skip("backend clock cannot be advanced")
	}
	ctx := context.Background()
	mustSet(t, h.Store, "k", "v", 10*time.Second)
	h.Advance(5 * time.Second)
	if _, err := h.Store.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}
	h.Advance(6 * time.Second)
	if _, err := h.Store.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want %v", err, store.ErrNotFound)
	}
	err := h.Store.Update(ctx, "k", func(cur []byte) ([]byte, error) { return cur, nil })
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update expired: err=%v, want %v", err, store.ErrNotFound)
	}
}

func testUpdateKeepsTTL(t *testing.T, h Harness) {
	if h.Advance == nil {
		t.Skip("backend clock cannot be advanced")
	}
	ctx := context.Background()
	mustSet(t, h.Store, "k", "v", 10*time.Second)
	h.Advance(8 * time.Second)
	err := h.Store.Update(ctx, "k", func([]byte) ([]byte, error) { return []byte("w"), nil })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	h.Advance(3 * time.Second)
	if _, err := h.Store.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update must not extend ttl: err=%v, want %v", err, store.ErrNotFound)
	}
}

func testListExpires(t *testing.T, h Harness) {
	if h.Advance == nil {
		t.Skip("backend clock cannot be advanced")
	}
	ctx := context.Background()
	if err := h.Store.ListAppend(ctx, "q", []byte("old")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Store.Expire(ctx, "q", 10*time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}
	h.Advance(11 * time.Second)

	got, err := h.Store.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len=%d, want 0 after expiry", len(got))
	}

	// a fresh append after expiry starts a new list
	if err := h.Store.ListAppend(ctx, "q", []byte("new")); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err = h.Store.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 1 || string(got[0]) != "new" {
		t.Fatalf("got=%q, want [new]", got)
	}
}

func testExpireRefreshes(t *testing.T, h Harness) {
	if h.Advance == nil {
		t.Skip("backend clock cannot be advanced")
	}
	ctx := context.Background()
	mustSet(t, h.Store, "k", "v", 10*time.Second)
	h.Advance(8 * time.Second)
	if err := h.Store.Expire(ctx, "k", 10*time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}
	h.Advance(8 * time.Second)
	got, err := h.Store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get after refresh: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got=%s, want v", got)
	}
}

func testAtomicAppender(t *testing.T, h Harness) {
	a, ok := h.Store.(store.AtomicAppender)
	if !ok {
		t.Skip("backend has no atomic append+expire")
	}
	ctx := context.Background()
	for _, v := range []string{"a", "b"} {
		if err := a.ListAppendExpire(ctx, "q", []byte(v), 10*time.Second); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if h.Advance != nil {
		h.Advance(5 * time.Second)
		if err := a.ListAppendExpire(ctx, "q", []byte("c"), 10*time.Second); err != nil {
			t.Fatalf("append: %v", err)
		}
		// the last append pushed expiry out again
		h.Advance(7 * time.Second)
	}
	got, err := h.Store.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := []string{"a", "b"}
	if h.Advance != nil {
		want = append(want, "c")
	}
	if len(got) != len(want) {
		t.Fatalf("len=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Fatalf("entry %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func testCounter(t *testing.T, h Harness) {
	c, ok := h.Store.(store.Counter)
	if !ok {
		t.Skip("backend cannot count keys")
	}
	ctx := context.Background()
	mustSet(t, h.Store, store.RoomKey("AAAAAA"), "{}", time.Minute)
	mustSet(t, h.Store, store.RoomKey("BBBBBB"), "{}", time.Minute)
	if err := h.Store.ListAppend(ctx, store.QueueKey("AAAAAA", "host"), []byte("{}")); err != nil {
		t.Fatalf("append: %v", err)
	}
	n, err := c.Count(ctx, store.RoomPrefix)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count=%d, want 2", n)
	}
}

// testWrongTypeIsAtomic checks that list operations against a scalar fail
// without touching the scalar or its ttl.
func testWrongTypeIsAtomic(t *testing.T, h Harness) {
	ctx := context.Background()
	mustSet(t, h.Store, "k", "v", 10*time.Second)

	if err := h.Store.ListAppend(ctx, "k", []byte("x")); !errors.Is(err, store.ErrWrongType) {
		t.Fatalf("append: err=%v, want %v", err, store.ErrWrongType)
	}
	if err := store.AppendExpire(ctx, h.Store, "k", []byte("x"), 10*time.Minute); !errors.Is(err, store.ErrWrongType) {
		t.Fatalf("append+expire: err=%v, want %v", err, store.ErrWrongType)
	}
	if _, err := h.Store.ListDrain(ctx, "k"); !errors.Is(err, store.ErrWrongType) {
		t.Fatalf("drain: err=%v, want %v", err, store.ErrWrongType)
	}

	got, err := h.Store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("scalar lost after failed list ops: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got=%s, want v", got)
	}

	if h.Advance != nil {
		h.Advance(11 * time.Second)
		if _, err := h.Store.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("failed append moved the ttl: err=%v, want %v", err, store.ErrNotFound)
		}
	}
}

func testExpireZeroPersists(t *testing.T, h Harness) {
	ctx := context.Background()
	if err := h.Store.ListAppend(ctx, "q", []byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Store.Expire(ctx, "q", 10*time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := h.Store.Expire(ctx, "q", 0); err != nil {
		t.Fatalf("expire 0: %v", err)
	}
	if err := store.AppendExpire(ctx, h.Store, "q", []byte("b"), 0); err != nil {
		t.Fatalf("append+expire 0: %v", err)
	}
	if h.Advance != nil {
		h.Advance(time.Hour)
	}

	got, err := h.Store.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2 (ttl <= 0 means no expiry)", len(got))
	}
}

func mustSet(t *testing.T, s store.Store, key, value string, ttl time.Duration) {
	t.Helper()
	if err := s.Set(context.Background(), key, []byte(value), ttl); err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
}
