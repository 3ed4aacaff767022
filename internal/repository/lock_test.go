package repository

import (
	"context"
	"testing"
	"time"

	"tillsync/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLocker_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := NewStoreLocker(db, "drain", time.Minute)
	b := NewStoreLocker(db, "drain", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a live lease")

	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "holder may renew its own lease")

	require.NoError(t, a.Release(ctx))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := NewStoreLocker(db, "drain", time.Second)
	b := NewStoreLocker(db, "drain", time.Second)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	b.now = func() time.Time { return time.Now().Add(time.Minute) }
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// a no longer holds it, so its release leaves b's lease in place
	require.NoError(t, a.Release(ctx))
	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreLocker_RenewKeepsLeaseAlive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	clock := time.Now()
	a := NewStoreLocker(db, "drain", time.Second)
	b := NewStoreLocker(db, "drain", time.Second)
	a.now = func() time.Time { return clock }
	b.now = func() time.Time { return clock }

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// renewed just before it would have expired
	clock = clock.Add(900 * time.Millisecond)
	require.NoError(t, a.Renew(ctx))

	clock = clock.Add(900 * time.Millisecond)
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a renewed lease is still live")
}

func TestStoreLocker_RenewReportsLostLease(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := NewStoreLocker(db, "drain", time.Second)
	b := NewStoreLocker(db, "drain", time.Second)

	assert.ErrorIs(t, a.Renew(ctx), errs.ErrLeaseLost, "nothing held yet")

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	b.now = func() time.Time { return time.Now().Add(time.Minute) }
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, a.Renew(ctx), errs.ErrLeaseLost)
	assert.NoError(t, b.Renew(ctx))
	assert.Equal(t, time.Second, a.TTL())
}
