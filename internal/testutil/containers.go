// Package testutil starts throwaway Postgres and Redis containers for
// integration tests. Containers are started lazily, once per test binary,
// and tests are skipped in -short mode or when Docker is unavailable.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgURL  string
	pgErr  error

	redisOnce sync.Once
	redisURL  string
	redisErr  error
)

// PostgresURL returns a connection string for a shared Postgres container.
func PostgresURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pgOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("rusuite"),
			postgres.WithUsername("rusuite"),
			postgres.WithPassword("rusuite"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			pgErr = err
			return
		}
		pgURL, pgErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}
	return pgURL
}

// PostgresPool opens a pool against the shared container. The pool is closed
// when the test ends.
func PostgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := PostgresURL(t)

	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// RedisURL returns a redis:// URL for a shared Redis container.
func RedisURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisOnce.Do(func() {
		ctx := context.Background()
		container, err := redis.Run(ctx, "redis:7-alpine")
		if err != nil {
			redisErr = err
			return
		}
		endpoint, err := container.Endpoint(ctx, "")
		if err != nil {
			redisErr = err
			return
		}
		redisURL = "redis://" + endpoint
	})
	if redisErr != nil {
		t.Skipf("redis container unavailable: %v", redisErr)
	}
	return redisURL
}
