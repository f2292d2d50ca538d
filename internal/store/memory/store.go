// Package memory keeps relay state in process memory. It is only correct
// when a single relay instance serves every request.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/thereayou/signal-relay/internal/store"
)

type item struct {
	value     []byte
	list      [][]byte
	isList    bool
	expiresAt time.Time
}

func (it *item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

type Option func(*MemStore)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(ms *MemStore) {
		ms.now = now
	}
}

type MemStore struct {
	mx  *sync.Mutex
	db  map[string]*item
	now func() time.Time
}

func NewMemStore(opts ...Option) *MemStore {
	ms := &MemStore{
		mx:  &sync.Mutex{},
		db:  make(map[string]*item),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// lookup returns the live item under key, dropping it if it has expired.
// Caller holds ms.mx.
func (ms *MemStore) lookup(key string) *item {
	it, ok := ms.db[key]
	if !ok {
		return nil
	}
	if it.expired(ms.now()) {
		delete(ms.db, key)
		return nil
	}
	return it
}

func (ms *MemStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return ms.now().Add(ttl)
}

func (ms *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	it := ms.lookup(key)
	if it == nil {
		return nil, store.ErrNotFound
	}
	if it.isList {
		return nil, store.ErrWrongType
	}
	return clone(it.value), nil
}

func (ms *MemStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.db[key] = &item{
		value:     clone(value),
		expiresAt: ms.deadline(ttl),
	}
	return nil
}

func (ms *MemStore) ListAppend(_ context.Context, key string, entry []byte) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	_, err := ms.appendLocked(key, entry)
	return err
}

func (ms *MemStore) ListAppendExpire(_ context.Context, key string, entry []byte, ttl time.Duration) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	it, err := ms.appendLocked(key, entry)
	if err != nil {
		return err
	}
	it.expiresAt = ms.deadline(ttl)
	return nil
}

func (ms *MemStore) appendLocked(key string, entry []byte) (*item, error) {
	it := ms.lookup(key)
	if it == nil {
		it = &item{isList: true}
		ms.db[key] = it
	}
	if !it.isList {
		return nil, store.ErrWrongType
	}
	it.list = append(it.list, clone(entry))
	return it, nil
}

func (ms *MemStore) ListDrain(_ context.Context, key string) ([][]byte, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	it := ms.lookup(key)
	if it == nil {
		return [][]byte{}, nil
	}
	if !it.isList {
		return nil, store.ErrWrongType
	}
	delete(ms.db, key)
	if it.list == nil {
		return [][]byte{}, nil
	}
	return it.list, nil
}

func (ms *MemStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if it := ms.lookup(key); it != nil {
		it.expiresAt = ms.deadline(ttl)
	}
	return nil
}

func (ms *MemStore) Delete(_ context.Context, key string) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	delete(ms.db, key)
	return nil
}

func (ms *MemStore) Update(_ context.Context, key string, fn store.UpdateFunc) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	it := ms.lookup(key)
	if it == nil {
		return store.ErrNotFound
	}
	if it.isList {
		return store.ErrWrongType
	}
	next, err := fn(clone(it.value))
	if err != nil {
		return err
	}
	it.value = clone(next)
	return nil
}

func (ms *MemStore) Count(_ context.Context, prefix string) (int64, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	now := ms.now()
	var n int64
	for key, it := range ms.db {
		if strings.HasPrefix(key, prefix) && !it.expired(now) {
			n++
		}
	}
	return n, nil
}

// Sweep drops expired keys. Expired keys are removed the first time they are
// seen, so the work is bounded by what is currently stored, not by history.
func (ms *MemStore) Sweep(_ context.Context) (int64, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	now := ms.now()
	var n int64
	for key, it := range ms.db {
		if it.expired(now) {
			delete(ms.db, key)
			n++
		}
	}
	return n, nil
}

func (ms *MemStore) Ping(context.Context) error {
	return nil
}

func (ms *MemStore) Close() error {
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
