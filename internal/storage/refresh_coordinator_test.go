package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshCoordinator_TryAcquire(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := testContext(t)

	c := NewRefreshCoordinator(cache, time.Minute)

	ok, err := c.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "first acquire should succeed")

	// A second replica loses the race and skips
	other := NewRefreshCoordinator(cache, time.Minute)
	ok, err = other.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while lock is held")

	require.NoError(t, c.Release(ctx))

	ok, err = other.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "acquire should succeed after release")
}

func TestRefreshCoordinator_ReleaseNotOwned(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := testContext(t)

	holder := NewRefreshCoordinator(cache, 50*time.Millisecond)
	ok, err := holder.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Lock expires and a different replica takes it
	mr.FastForward(time.Second)

	stealer := NewRefreshCoordinator(cache, time.Minute)
	ok, err = stealer.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Original holder's release must not free the stealer's lock
	require.NoError(t, holder.Release(ctx))

	third := NewRefreshCoordinator(cache, time.Minute)
	ok, err = third.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "stealer's lock must survive the stale release")
}

func TestRefreshCoordinator_LockExpires(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := testContext(t)

	c := NewRefreshCoordinator(cache, 100*time.Millisecond)
	ok, err := c.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(200 * time.Millisecond)

	other := NewRefreshCoordinator(cache, time.Minute)
	ok, err = other.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be acquirable")
}
