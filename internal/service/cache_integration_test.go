package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusuite/website/internal/db"
	"github.com/rusuite/website/internal/repository"
	"github.com/rusuite/website/internal/testutil"
)

func setupCache(t *testing.T) *CacheService {
	t.Helper()
	c := NewCacheService(testutil.RedisURL(t), time.Minute)
	require.True(t, c.Enabled())
	require.NoError(t, c.Client().FlushAll(context.Background()).Err())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheService_RoundTrip(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	_, found, err := c.GetTarget(ctx, "srv")
	require.NoError(t, err)
	assert.False(t, found)
	assert.EqualValues(t, 1, c.Misses())

	require.NoError(t, c.SetTarget(ctx, "srv", true))
	require.NoError(t, c.SetTarget(ctx, "gone", false))

	votable, found, err := c.GetTarget(ctx, "srv")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, votable)

	votable, found, err = c.GetTarget(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, votable)
	assert.EqualValues(t, 2, c.Hits())

	ttl, err := c.Client().TTL(ctx, targetKey("srv")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.InvalidateTargets(ctx, "srv", "gone"))
	_, found, err = c.GetTarget(ctx, "srv")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTargetService_UsesCache(t *testing.T) {
	c := setupCache(t)
	lookup := newFakeLookup()
	svc := NewTargetService(lookup, c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := svc.Votable(ctx, "approved")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.EqualValues(t, 1, lookup.calls.Load())

	// Negative results are cached too.
	for i := 0; i < 2; i++ {
		ok, err := svc.Votable(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.EqualValues(t, 2, lookup.calls.Load())
}

func TestTargetWorker_InvalidatesOnServerChange(t *testing.T) {
	c := setupCache(t)
	pool := testutil.PostgresPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, db.RunMigrations(ctx, pool))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "TRUNCATE vote_events, servers")
	})

	_, err := pool.Exec(ctx, `INSERT INTO servers (id, slug, name, status) VALUES ('w1', 'w1', 'W1', 'APPROVED')`)
	require.NoError(t, err)

	svc := NewTargetService(repository.NewTargetRepo(pool), c)
	ok, err := svc.Votable(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	w := NewTargetWorker(pool, c)
	w.batchMs = 50 * time.Millisecond
	go w.Start(ctx)

	// Let the worker reach LISTEN before changing the row.
	require.Eventually(t, func() bool {
		var n int
		_ = pool.QueryRow(ctx, `SELECT count(*) FROM pg_stat_activity WHERE query = 'LISTEN server_changes'`).Scan(&n)
		return n > 0
	}, 10*time.Second, 50*time.Millisecond)

	_, err = pool.Exec(ctx, `UPDATE servers SET status = 'REJECTED' WHERE id = 'w1'`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, found, err := c.GetTarget(ctx, "w1")
		return err == nil && !found
	}, 10*time.Second, 50*time.Millisecond)

	ok, err = svc.Votable(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}
