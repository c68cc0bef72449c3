package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/storefront-core/session"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// ---- failing backend ----

type errBackend struct {
	loadErr error
	deleted int
}

func (b *errBackend) Load(context.Context, string) (*session.SessionToken, error) {
	return nil, b.loadErr
}
func (b *errBackend) Save(context.Context, string, session.SessionToken) error { return nil }
func (b *errBackend) Delete(context.Context, string) error {
	b.deleted++
	return nil
}

func newStore(backend session.Backend, clock *fakeClock, opts ...session.Option) *session.Store {
	return session.NewStore(backend, "p1", nil, append(opts, session.WithClock(clock.Now))...)
}

func TestStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := newStore(session.NewMemoryBackend(), clock)

	_, ok := store.Get(ctx)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "tok-1"))
	got, ok := store.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", got)
}

func TestStore_ExpiredTokenIsDiscarded(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	backend := session.NewMemoryBackend()
	expired := 0
	store := newStore(backend, clock, session.WithExpiryHook(func(context.Context) { expired++ }))

	require.NoError(t, store.Set(ctx, "tok-1"))

	clock.Advance(session.TTL - time.Second)
	_, ok := store.Get(ctx)
	assert.True(t, ok, "token younger than 7 days is usable")

	clock.Advance(time.Second)
	_, ok = store.Get(ctx)
	assert.False(t, ok, "token at 7 days is never used")
	assert.Equal(t, 1, expired)

	raw, err := backend.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, raw, "expired token is removed in place")
}

func TestStore_SetRefreshesCreationTime(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := newStore(session.NewMemoryBackend(), clock)

	require.NoError(t, store.Set(ctx, "tok-1"))
	clock.Advance(6 * 24 * time.Hour)
	require.NoError(t, store.Set(ctx, "tok-2"))
	clock.Advance(3 * 24 * time.Hour)

	got, ok := store.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok-2", got)
}

func TestStore_EmptySetIgnored(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	store := newStore(session.NewMemoryBackend(), clock)

	require.NoError(t, store.Set(ctx, "tok-1"))
	require.NoError(t, store.Set(ctx, ""))
	got, _ := store.Get(ctx)
	assert.Equal(t, "tok-1", got)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newStore(session.NewMemoryBackend(), &fakeClock{t: time.Now()})

	require.NoError(t, store.Set(ctx, "tok-1"))
	require.NoError(t, store.Clear(ctx))
	_, ok := store.Get(ctx)
	assert.False(t, ok)
}

func TestStore_CorruptRecordIsDeleted(t *testing.T) {
	backend := &errBackend{loadErr: session.ErrCorrupt}
	store := newStore(backend, &fakeClock{t: time.Now()})

	_, ok := store.Get(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 1, backend.deleted)
}

func TestStore_BackendErrorReadsAsAbsent(t *testing.T) {
	backend := &errBackend{loadErr: errors.New("connection refused")}
	store := newStore(backend, &fakeClock{t: time.Now()})

	_, ok := store.Get(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 0, backend.deleted, "transient errors keep the stored token")
}
