// Package ratelimit provides a Redis fixed-window limiter shared by every
// relay instance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

var ErrRateLimited = errors.New("rate limit exceeded")

const keyPrefix = "ratelimit:"

type Config struct {
	Redis  *redis.Client
	Logger *zerolog.Logger
	// KeyPrefix namespaces the counters, matching the store's key prefix.
	KeyPrefix string
	// Limit requests per Window and per identifier.
	Limit  int
	Window time.Duration
}

// Limiter counts requests with INCR and lets the counter expire at the end
// of the window. A nil Limiter allows everything.
type Limiter struct {
	redis  *redis.Client
	logger zerolog.Logger
	prefix string
	limit  int
	window time.Duration
}

func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		redis:  cfg.Redis,
		prefix: cfg.KeyPrefix + keyPrefix,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
	if cfg.Logger != nil {
		l.logger = cfg.Logger.With().Str("component", "ratelimit").Logger()
	} else {
		l.logger = zerolog.Nop()
	}
	if l.window <= 0 {
		l.window = time.Minute
	}
	return l
}

// Enabled reports whether Allow can ever refuse a request.
func (l *Limiter) Enabled() bool {
	return l != nil && l.redis != nil && l.limit > 0
}

func (l *Limiter) key(scope, identifier string) string {
	return fmt.Sprintf("%s%s:%s", l.prefix, scope, identifier)
}

// Allow returns ErrRateLimited once identifier has used up its budget for
// scope in the current window. Redis errors let the request through.
func (l *Limiter) Allow(ctx context.Context, scope, identifier string) error {
	if !l.Enabled() {
		return nil
	}

	key := l.key(scope, identifier)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		return nil
	}

	// first hit opens the window
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to set rate limit window")
		}
	}

	if int(count) > l.limit {
		l.logger.Debug().Str("scope", scope).Str("identifier", identifier).Msg("rate limited")
		return ErrRateLimited
	}
	return nil
}

// Remaining reports how many requests identifier has left in the current
// window.
func (l *Limiter) Remaining(ctx context.Context, scope, identifier string) (int, error) {
	if !l.Enabled() {
		return l.limitOrZero(), nil
	}

	count, err := l.redis.Get(ctx, l.key(scope, identifier)).Int()
	if errors.Is(err, redis.Nil) {
		return l.limit, nil
	}
	if err != nil {
		return l.limit, err
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Limiter) limitOrZero() int {
	if l == nil {
		return 0
	}
	return l.limit
}
