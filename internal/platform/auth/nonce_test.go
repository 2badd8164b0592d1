package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNonceStoreRejectsReplayUntilExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	store := NewRedisNonceStore(client, "")
	ctx := context.Background()

	ok, err := store.UseNonce(ctx, "capture-relay", "n-1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UseNonce(ctx, "capture-relay", "n-1", now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.UseNonce(ctx, "other-relay", "n-1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "nonces are scoped per secret")

	mr.FastForward(2 * time.Minute)
	ok, err = store.UseNonce(ctx, "capture-relay", "n-1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInMemoryNonceStoreExpiresEntries(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	store := NewInMemoryNonceStore()
	ctx := context.Background()

	ok, err := store.UseNonce(ctx, "s", "n", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.UseNonce(ctx, "s", "n", now, time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = store.UseNonce(ctx, "s", "n", now, time.Minute)
	assert.True(t, ok)

	_, err = store.UseNonce(ctx, "", "n", now, time.Minute)
	assert.Error(t, err)
	_, err = store.UseNonce(ctx, "s", "m", now, 0)
	assert.Error(t, err)
}

func TestInMemoryNonceStoreUsesCallerClock(t *testing.T) {
	// A clock far from the wall clock must still reject replays within the ttl.
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewInMemoryNonceStore()
	ctx := context.Background()

	ok, err := store.UseNonce(ctx, "s", "n", past, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UseNonce(ctx, "s", "n", past.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.UseNonce(ctx, "s", "n", past.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
