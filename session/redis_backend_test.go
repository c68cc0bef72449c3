package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/storefront-core/session"
)

func setupRedis(t *testing.T) (*session.RedisBackend, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return session.NewRedisBackend(client), mr
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	backend, mr := setupRedis(t)
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, backend.Save(ctx, "p1", session.SessionToken{Value: "abc", CreatedAt: created}))
	assert.True(t, mr.Exists("session:profile:p1"))
	assert.Equal(t, session.TTL, mr.TTL("session:profile:p1"))

	tok, err := backend.Load(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "abc", tok.Value)
	assert.True(t, created.Equal(tok.CreatedAt))

	require.NoError(t, backend.Delete(ctx, "p1"))
	tok, err = backend.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestRedisBackend_CorruptRecord(t *testing.T) {
	backend, mr := setupRedis(t)
	require.NoError(t, mr.Set("session:profile:p1", "{not json"))

	_, err := backend.Load(context.Background(), "p1")
	assert.ErrorIs(t, err, session.ErrCorrupt)
}

func TestStore_WithRedisDiscardsExpired(t *testing.T) {
	backend, mr := setupRedis(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	store := newStore(backend, clock)

	require.NoError(t, store.Set(ctx, "abc"))
	clock.Advance(8 * 24 * time.Hour)

	_, ok := store.Get(ctx)
	assert.False(t, ok)
	assert.False(t, mr.Exists("session:profile:p1"))
}
