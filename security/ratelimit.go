package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Budget is a fixed-window rate limit: at most Limit requests per Window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Limiter answers whether a keyed request fits its budget. Keys are typically
// "ip:endpoint-class".
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// FixedWindowLimiter is an in-process fixed-window counter. Windows are
// aligned to the epoch so all keys roll over together.
type FixedWindowLimiter struct {
	budget  Budget
	nowFunc func() time.Time

	mu     sync.Mutex
	window int64
	counts map[string]int
}

type FixedWindowOption func(*FixedWindowLimiter)

// WithLimiterNowFunc sets the clock (primarily for testing).
func WithLimiterNowFunc(now func() time.Time) FixedWindowOption {
	return func(l *FixedWindowLimiter) {
		l.nowFunc = now
	}
}

func NewFixedWindowLimiter(budget Budget, options ...FixedWindowOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		budget:  budget,
		nowFunc: time.Now,
		counts:  make(map[string]int),
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

func (l *FixedWindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	window := l.nowFunc().UnixNano() / int64(l.budget.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	if window != l.window {
		l.window = window
		l.counts = make(map[string]int)
	}
	if l.counts[key] >= l.budget.Limit {
		return false, nil
	}
	l.counts[key]++
	return true, nil
}

// RedisLimiter is a fixed-window counter shared across instances, backed by
// INCR with a window-length expiry on first increment.
type RedisLimiter struct {
	client *redis.Client
	budget Budget
	prefix string
}

func NewRedisLimiter(client *redis.Client, budget Budget, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, budget: budget, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().UnixNano() / int64(l.budget.Window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, errors.Wrap(err, "[RedisLimiter.Allow] incr")
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.budget.Window).Err(); err != nil {
			return false, errors.Wrap(err, "[RedisLimiter.Allow] expire")
		}
	}
	return count <= int64(l.budget.Limit), nil
}
