package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rusuite/website/internal/model"
)

type TargetRepo struct {
	pool *pgxpool.Pool
}

func NewTargetRepo(pool *pgxpool.Pool) *TargetRepo {
	return &TargetRepo{pool: pool}
}

// FindByID returns a server listing by id regardless of its moderation status.
func (r *TargetRepo) FindByID(ctx context.Context, id string) (*model.Server, error) {
	var s model.Server
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, name, status, created_at
		FROM servers
		WHERE id = $1`, id).Scan(&s.ID, &s.Slug, &s.Name, &s.Status, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find server: %w", err)
	}
	return &s, nil
}

// OpenTargets treats every id as an approved listing. It backs the in-memory
// mode, where there is no servers table to consult.
type OpenTargets struct{}

func (OpenTargets) FindByID(_ context.Context, id string) (*model.Server, error) {
	return &model.Server{ID: id, Slug: id, Name: id, Status: model.ServerStatusApproved}, nil
}
