// Package store defines the capability set the relay needs from its backing
// key-value store. Every operation must be safe to call from independent
// processes that share nothing but the backend.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("store: key not found")
	ErrConflict  = errors.New("store: too many concurrent updates")
	ErrWrongType = errors.New("store: operation against a key holding the wrong kind of value")
)

// UpdateFunc receives the current scalar value and returns its replacement.
// It may be invoked more than once when a backend retries after a conflict.
type UpdateFunc func(current []byte) ([]byte, error)

type Store interface {
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites the key and resets its ttl. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// ListAppend pushes entry to the tail, creating the list if needed.
	// It never touches the ttl.
	ListAppend(ctx context.Context, key string, entry []byte) error
	// ListDrain reads the whole list and deletes the key in one step.
	// A missing key yields an empty, non-nil slice.
	ListDrain(ctx context.Context, key string) ([][]byte, error)
	// Expire refreshes the ttl of an existing key. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Update atomically replaces a scalar value, keeping its remaining ttl.
	// ErrNotFound is returned without calling fn when the key is absent.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// AtomicAppender is implemented by backends that can append and refresh the
// ttl as one indivisible step.
type AtomicAppender interface {
	ListAppendExpire(ctx context.Context, key string, entry []byte, ttl time.Duration) error
}

// Counter reports how many live keys start with prefix.
type Counter interface {
	Count(ctx context.Context, prefix string) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper is implemented by backends without native expiry. Sweep removes
// expired keys and reports how many were reclaimed.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// AppendExpire appends entry and refreshes the list ttl, atomically when the
// backend supports it.
func AppendExpire(ctx context.Context, s Store, key string, entry []byte, ttl time.Duration) error {
	if a, ok := s.(AtomicAppender); ok {
		return a.ListAppendExpire(ctx, key, entry, ttl)
	}
	if err := s.ListAppend(ctx, key, entry); err != nil {
		return err
	}
	return s.Expire(ctx, key, ttl)
}
