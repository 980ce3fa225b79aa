package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/rusuite/website/internal/middleware"
	"github.com/rusuite/website/internal/model"
	"github.com/rusuite/website/internal/repository"
)

// TargetService answers whether a server listing can receive votes.
type TargetService struct {
	repo  repository.TargetLookup
	cache *CacheService
	group singleflight.Group
}

func NewTargetService(repo repository.TargetLookup, cache *CacheService) *TargetService {
	return &TargetService{repo: repo, cache: cache}
}

// Votable reports whether targetID exists and is approved. Concurrent misses
// for the same id share a single database lookup.
func (s *TargetService) Votable(ctx context.Context, targetID string) (bool, error) {
	if s.cache != nil {
		votable, found, err := s.cache.GetTarget(ctx, targetID)
		if err != nil {
			middleware.Logger.Debug().Err(err).Str("component", "target").Msg("cache read failed")
		}
		if found {
			return votable, nil
		}
	}

	v, err, _ := s.group.Do(targetID, func() (any, error) {
		srv, err := s.repo.FindByID(ctx, targetID)
		votable := false
		switch {
		case errors.Is(err, model.ErrTargetNotFound):
		case err != nil:
			return false, fmt.Errorf("lookup server: %w", err)
		default:
			votable = srv.Votable()
		}

		if s.cache != nil {
			if err := s.cache.SetTarget(ctx, targetID, votable); err != nil {
				middleware.Logger.Debug().Err(err).Str("component", "target").Msg("cache write failed")
			}
		}
		return votable, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
