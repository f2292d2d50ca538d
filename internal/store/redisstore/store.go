// Package redisstore is the shared store backend. Every relay instance
// pointed at the same Redis sees the same rooms and queues.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/thereayou/signal-relay/internal/store"
)

const defaultMaxUpdateRetries = 16

// Connect parses a redis:// (or bare host:port) address and checks the
// server answers.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(rawURL, "redis://") || strings.HasPrefix(rawURL, "rediss://") {
		parsed, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: rawURL}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

type Option func(*Store)

// WithPrefix namespaces every key, so several deployments can share a server.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

type Store struct {
	rdb        *redis.Client
	prefix     string
	maxRetries int
}

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:        rdb,
		maxRetries: defaultMaxUpdateRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	return b, wrapType(err)
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.rdb.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *Store) ListAppend(ctx context.Context, key string, entry []byte) error {
	return wrapType(s.rdb.RPush(ctx, s.key(key), entry).Err())
}

// appendExpireScript pushes and then sets or clears the ttl. A failing RPUSH
// aborts the script before the ttl is touched.
var appendExpireScript = redis.NewScript(`
redis.call('RPUSH', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
else
	redis.call('PERSIST', KEYS[1])
end
return 1
`)

// drainScript reads and deletes the list. A scalar under the key fails the
// LRANGE and is left in place.
var drainScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return items
`)

// ListAppendExpire runs RPUSH and PEXPIRE as one script.
func (s *Store) ListAppendExpire(ctx context.Context, key string, entry []byte, ttl time.Duration) error {
	err := appendExpireScript.Run(ctx, s.rdb, []string{s.key(key)}, entry, ttl.Milliseconds()).Err()
	return wrapType(err)
}

// ListDrain reads and deletes the list in one script, so an RPUSH from
// another client lands either wholly before or wholly after it.
func (s *Store) ListDrain(ctx context.Context, key string) ([][]byte, error) {
	vals, err := drainScript.Run(ctx, s.rdb, []string{s.key(key)}).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapType(err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// Expire sets the ttl, or removes it when ttl <= 0. PEXPIRE 0 would delete
// the key instead.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	k := s.key(key)
	if ttl <= 0 {
		return s.rdb.Persist(ctx, k).Err()
	}
	return wrapType(s.rdb.PExpire(ctx, k, ttl).Err())
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Update is an optimistic WATCH/MULTI transaction. SET KEEPTTL leaves the
// remaining ttl untouched.
func (s *Store) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	k := s.key(key)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return wrapType(err)
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, next, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return store.ErrConflict
}

func (s *Store) Count(ctx context.Context, prefix string) (int64, error) {
	var n int64
	iter := s.rdb.Scan(ctx, 0, s.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func wrapType(err error) error {
	// errors raised inside a script carry the code after a script prefix
	if err != nil && strings.Contains(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: %v", store.ErrWrongType, err)
	}
	return err
}
