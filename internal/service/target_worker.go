package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rusuite/website/internal/middleware"
)

const serverChangesChannel = "server_changes"

// TargetWorker listens for PostgreSQL NOTIFY on the 'server_changes' channel
// and evicts the affected listings from the target cache in batches, so a
// moderation change made on any instance reaches every instance's cache.
type TargetWorker struct {
	pool    *pgxpool.Pool
	cache   *CacheService
	batchMs time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{} // server IDs waiting for eviction
}

// NewTargetWorker creates a cache invalidation worker.
func NewTargetWorker(pool *pgxpool.Pool, cache *CacheService) *TargetWorker {
	return &TargetWorker{
		pool:    pool,
		cache:   cache,
		batchMs: 2 * time.Second,
		log:     middleware.Logger.With().Str("component", "target-worker").Logger(),
		pending: make(map[string]struct{}),
	}
}

// Start listens until ctx is cancelled, reconnecting after errors.
func (w *TargetWorker) Start(ctx context.Context) {
	if !w.cache.Enabled() {
		w.log.Info().Msg("cache disabled, not starting")
		return
	}
	w.log.Info().Dur("batch_window", w.batchMs).Msg("starting")

	for {
		if err := w.listenLoop(ctx); err != nil {
			if ctx.Err() != nil {
				w.log.Info().Msg("stopping (context cancelled)")
				return
			}
			w.log.Warn().Err(err).Msg("listen error, reconnecting in 5s")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				w.log.Info().Msg("stopping (context cancelled)")
				return
			}
		}
	}
}

// listenLoop acquires a dedicated connection, LISTENs on server_changes,
// and collects notifications for the flush loop.
func (w *TargetWorker) listenLoop(ctx context.Context) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+serverChangesChannel); err != nil {
		return err
	}
	w.log.Info().Str("channel", serverChangesChannel).Msg("listening")

	flushCtx, flushCancel := context.WithCancel(ctx)
	defer flushCancel()
	go w.flushLoop(flushCtx)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		w.enqueue(notification.Payload)
	}
}

func (w *TargetWorker) enqueue(serverID string) {
	if serverID == "" {
		return
	}
	w.mu.Lock()
	w.pending[serverID] = struct{}{}
	w.mu.Unlock()
}

// flushLoop periodically drains the pending set.
func (w *TargetWorker) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(w.batchMs)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush(ctx)
		case <-ctx.Done():
			// Final flush before exit
			w.flush(context.Background())
			return
		}
	}
}

// flush swaps out the pending set and evicts it from the cache in one call.
func (w *TargetWorker) flush(ctx context.Context) int {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return 0
	}
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}

	if err := w.cache.InvalidateTargets(ctx, ids...); err != nil {
		w.log.Warn().Err(err).Int("servers", len(ids)).Msg("cache invalidate failed")
		return 0
	}
	w.log.Debug().Int("servers", len(ids)).Msg("batch invalidated")
	return len(ids)
}
