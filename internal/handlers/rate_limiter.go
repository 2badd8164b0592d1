package handlers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/masar-academy/api/internal/platform/requestctx"
)

// attemptLimiter throttles repeated attempts per caller, such as coupon code guessing.
type attemptLimiter interface {
	Allow(ctx context.Context, key string) bool
}

func limiterKey(key string) string {
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return "anonymous"
}

// windowLimiter allows limit attempts per key within each fixed window, per process.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]attemptWindow
}

type attemptWindow struct {
	attempts int
	resetAt  time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) attemptLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]attemptWindow),
	}
}

func (l *windowLimiter) Allow(_ context.Context, key string) bool {
	key = limiterKey(key)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.resetAt) {
		l.windows[key] = attemptWindow{attempts: 1, resetAt: now.Add(l.window)}
		l.evictLocked(now)
		return true
	}
	if current.attempts >= l.limit {
		return false
	}
	current.attempts++
	l.windows[key] = current
	return true
}

func (l *windowLimiter) evictLocked(now time.Time) {
	for key, entry := range l.windows {
		if !now.Before(entry.resetAt) {
			delete(l.windows, key)
		}
	}
}

// countAttemptScript increments the window counter and starts its expiry on the first attempt.
var countAttemptScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// redisLimiter shares the fixed window across instances. A Redis failure lets the attempt
// through; the coupon rules still apply.
type redisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func newRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) attemptLimiter {
	if client == nil || limit <= 0 || window <= 0 {
		return nil
	}
	return &redisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) bool {
	n, err := countAttemptScript.Run(ctx, l.client, []string{l.prefix + limiterKey(key)}, l.window.Milliseconds()).Int64()
	if err != nil {
		requestctx.Logger(ctx).Warn("attempt limiter unavailable", zap.Error(err))
		return true
	}
	return n <= int64(l.limit)
}
