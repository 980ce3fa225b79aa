package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rusuite/website/internal/model"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// VoteRepo is the PostgreSQL vote ledger.
type VoteRepo struct {
	pool *pgxpool.Pool
	voteQueries
}

func NewVoteRepo(pool *pgxpool.Pool) *VoteRepo {
	return &VoteRepo{pool: pool, voteQueries: voteQueries{db: pool}}
}

type voteQueries struct {
	db dbtx
}

// LatestMatching runs the IP lookup and the account lookup as two independent
// index scans and keeps the newer row.
func (q voteQueries) LatestMatching(ctx context.Context, targetID string, id model.Identity) (*model.VoteEvent, error) {
	var accountID *string
	if id.HasAccount() {
		accountID = id.AccountID
	}

	query := `
		SELECT id, target_id, ip_hash, account_id, created_at FROM (
			(SELECT id, target_id, ip_hash, account_id, created_at
			 FROM vote_events
			 WHERE target_id = $1 AND ip_hash = $2
			 ORDER BY created_at DESC
			 LIMIT 1)
			UNION ALL
			(SELECT id, target_id, ip_hash, account_id, created_at
			 FROM vote_events
			 WHERE target_id = $1 AND $3::text IS NOT NULL AND account_id = $3
			 ORDER BY created_at DESC
			 LIMIT 1)
		) matches
		ORDER BY created_at DESC
		LIMIT 1`

	var ev model.VoteEvent
	err := q.db.QueryRow(ctx, query, targetID, id.IP, accountID).Scan(
		&ev.ID, &ev.TargetID, &ev.Identity.IP, &ev.Identity.AccountID, &ev.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest vote: %w", err)
	}
	return &ev, nil
}

// Append inserts a new ledger row. The timestamp is taken from the event, not NOW(),
// so it is fixed by the caller's clock.
func (q voteQueries) Append(ctx context.Context, ev model.VoteEvent) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO vote_events (id, target_id, ip_hash, account_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.TargetID, ev.Identity.IP, ev.Identity.AccountID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// Count returns the number of ledger rows for a target.
func (q voteQueries) Count(ctx context.Context, targetID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM vote_events WHERE target_id = $1`, targetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}

// ListSince returns a target's events created at or after since.
func (r *VoteRepo) ListSince(ctx context.Context, targetID string, since time.Time) ([]model.VoteEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, target_id, ip_hash, account_id, created_at
		FROM vote_events
		WHERE target_id = $1 AND created_at >= $2
		ORDER BY created_at ASC`,
		targetID, since)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var events []model.VoteEvent
	for rows.Next() {
		var ev model.VoteEvent
		if err := rows.Scan(&ev.ID, &ev.TargetID, &ev.Identity.IP, &ev.Identity.AccountID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Serialize opens a transaction, takes a transaction-scoped advisory lock per
// lock key and runs fn against the transaction. Locks are released on commit
// or rollback, so the guarantee holds across multiple API instances.
func (r *VoteRepo) Serialize(ctx context.Context, targetID string, id model.Identity, fn func(q VoteQuerier) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin vote tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, key := range LockKeys(targetID, id) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("acquire vote lock: %w", err)
		}
	}

	if err := fn(voteQueries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit vote tx: %w", err)
	}
	return nil
}
