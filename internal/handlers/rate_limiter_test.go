package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestRedisLimiterSharesWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	first := newRedisLimiter(client, "test:coupon:", 2, time.Minute)
	second := newRedisLimiter(client, "test:coupon:", 2, time.Minute)

	if !first.Allow(ctx, "user-1") || !second.Allow(ctx, "user-1") {
		t.Fatal("expected the first two attempts to pass")
	}
	if first.Allow(ctx, "user-1") {
		t.Fatal("expected the third attempt across instances to be throttled")
	}
	if !first.Allow(ctx, "user-2") {
		t.Fatal("other users must not share the window")
	}
	if ttl := mr.TTL("test:coupon:user-1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected window expiry, got %v", ttl)
	}

	mr.FastForward(time.Minute)
	if !first.Allow(ctx, "user-1") {
		t.Fatal("expected window to reset after expiry")
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	limiter := newRedisLimiter(client, "test:coupon:", 1, time.Minute)

	mr.Close()
	for range 3 {
		if !limiter.Allow(context.Background(), "user-1") {
			t.Fatal("expected attempts to pass while redis is down")
		}
	}
}

func TestNewRedisLimiterDisabled(t *testing.T) {
	if newRedisLimiter(nil, "p:", 1, time.Minute) != nil {
		t.Fatal("expected nil limiter without a client")
	}
}
