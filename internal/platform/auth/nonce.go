package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// InMemoryNonceStore is a process-local nonce registry for tests and single-instance deployments.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time)}
}

// UseNonce records the nonce for ttl after now, rejecting replays until then. Expiry is judged
// against the caller's now, never the wall clock.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, now time.Time, ttl time.Duration) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	if ttl <= 0 {
		return false, errors.New("auth: nonce ttl must be positive")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, k)
		}
	}
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = now.Add(ttl)
	return true, nil
}

// RedisNonceStore shares nonces across instances with SET NX and a TTL.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNonceStore constructs a store writing keys under prefix.
func NewRedisNonceStore(client redis.UniversalClient, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = "masar:hmac-nonce:"
	}
	return &RedisNonceStore{client: client, prefix: prefix}
}

// UseNonce implements NonceStore. Redis owns expiry, so now is not consulted.
func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, _ time.Time, ttl time.Duration) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	if ttl <= 0 {
		return false, errors.New("auth: nonce ttl must be positive")
	}
	return s.client.SetNX(ctx, s.prefix+scope+":"+nonce, 1, ttl).Result()
}
