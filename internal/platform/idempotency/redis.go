package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "masar:idempotency:"

// completeScript stores the completed entry unless the key is held by another fingerprint.
// Returns 0 on a mismatch.
var completeScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if raw then
  local entry = cjson.decode(raw)
  if entry["fp"] ~= ARGV[1] then return 0 end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// abandonScript deletes the key only while it belongs to the fingerprint that claimed it.
var abandonScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then return 0 end
if cjson.decode(raw)["fp"] ~= ARGV[1] then return 0 end
return redis.call("DEL", KEYS[1])
`)

// RedisStore shares entries between API instances. Expiry is left to Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + digest([]byte(key))
}

// Claim takes the key with SET NX; when it is already taken the stored entry decides.
func (s *RedisStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	ttl = effectiveTTL(ttl)
	now = now.UTC()
	entry := Entry{Fingerprint: fingerprint, ClaimedAt: now, ExpiresAt: now.Add(ttl)}
	payload, err := json.Marshal(entry)
	if err != nil {
		return InFlight, Entry{}, fmt.Errorf("idempotency: encode entry: %w", err)
	}

	rk := s.key(key)
	ok, err := s.client.SetNX(ctx, rk, payload, ttl).Result()
	if err != nil {
		return InFlight, Entry{}, fmt.Errorf("idempotency: claim: %w", err)
	}
	if ok {
		return Acquired, entry, nil
	}

	raw, err := s.client.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SET NX and GET; the client retries.
		return InFlight, Entry{}, nil
	}
	if err != nil {
		return InFlight, Entry{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var existing Entry
	if err := json.Unmarshal(raw, &existing); err != nil {
		return InFlight, Entry{}, fmt.Errorf("idempotency: decode entry: %w", err)
	}
	outcome, err := resolve(existing, fingerprint)
	return outcome, existing, err
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = effectiveTTL(ttl)
	payload, err := json.Marshal(completed(resp, fingerprint, time.Time{}, now.UTC(), ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode entry: %w", err)
	}
	stored, err := completeScript.Run(ctx, s.client, []string{s.key(key)}, fingerprint, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	if stored == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *RedisStore) Abandon(ctx context.Context, key, fingerprint string) error {
	err := abandonScript.Run(ctx, s.client, []string{s.key(key)}, fingerprint).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: abandon: %w", err)
	}
	return nil
}
