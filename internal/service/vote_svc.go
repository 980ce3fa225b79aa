package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rusuite/website/internal/model"
	"github.com/rusuite/website/internal/repository"
)

// DefaultCooldown is how long an identity must wait before voting for the same server again.
const DefaultCooldown = 12 * time.Hour

const dayBucketLayout = "2006-01-02"

// VoteService gates and records votes against the ledger.
type VoteService struct {
	store    repository.VoteStore
	clock    clockwork.Clock
	cooldown time.Duration
}

func NewVoteService(store repository.VoteStore, clock clockwork.Clock, cooldown time.Duration) *VoteService {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &VoteService{store: store, clock: clock, cooldown: cooldown}
}

// now is the clock reading at ledger precision. Stored timestamps are
// microseconds, so eligibility must compare against the same resolution.
func (s *VoteService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// Cooldown returns the configured cooldown window.
func (s *VoteService) Cooldown() time.Duration {
	return s.cooldown
}

// CheckEligibility reports whether id may vote for targetID now. It does not
// reserve anything; SubmitVote re-checks under serialization.
func (s *VoteService) CheckEligibility(ctx context.Context, targetID string, id model.Identity) (model.EligibilityResult, error) {
	latest, err := s.store.LatestMatching(ctx, targetID, id)
	if err != nil {
		return model.EligibilityResult{}, fmt.Errorf("check eligibility: %w", err)
	}
	return s.evaluate(latest, s.now()), nil
}

// SubmitVote records a vote for targetID if id is outside its cooldown window.
// While a matching vote is still cooling down it returns a *model.CooldownError.
func (s *VoteService) SubmitVote(ctx context.Context, targetID string, id model.Identity) (*model.VoteResult, error) {
	var count int
	err := s.store.Serialize(ctx, targetID, id, func(q repository.VoteQuerier) error {
		latest, err := q.LatestMatching(ctx, targetID, id)
		if err != nil {
			return err
		}

		now := s.now()
		res := s.evaluate(latest, now)
		if !res.Eligible {
			return &model.CooldownError{
				RetryAfter:         res.RetryAfter,
				Remaining:          res.Remaining,
				RemainingHoursCeil: res.RemainingHoursCeil,
			}
		}

		ev := model.VoteEvent{
			ID:        uuid.New(),
			TargetID:  targetID,
			Identity:  id,
			CreatedAt: now,
		}
		if err := q.Append(ctx, ev); err != nil {
			return err
		}

		count, err = q.Count(ctx, targetID)
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrVoteCooldownActive) {
			return nil, err
		}
		return nil, fmt.Errorf("submit vote: %w", err)
	}

	return &model.VoteResult{
		Success:   true,
		VoteCount: count,
		Message:   "Vote recorded successfully!",
	}, nil
}

// GetVoteCount counts the ledger rows for targetID.
func (s *VoteService) GetVoteCount(ctx context.Context, targetID string) (int, error) {
	n, err := s.store.Count(ctx, targetID)
	if err != nil {
		return 0, fmt.Errorf("get vote count: %w", err)
	}
	return n, nil
}

// GetHistogram buckets the votes cast within window by UTC calendar day.
func (s *VoteService) GetHistogram(ctx context.Context, targetID string, window time.Duration) (*model.Histogram, error) {
	since := s.now().Add(-window)
	events, err := s.store.ListSince(ctx, targetID, since)
	if err != nil {
		return nil, fmt.Errorf("get histogram: %w", err)
	}

	h := &model.Histogram{VotesByDay: make(map[string]int)}
	for _, ev := range events {
		h.VotesByDay[ev.CreatedAt.UTC().Format(dayBucketLayout)]++
		h.Total++
	}
	return h, nil
}

// evaluate applies the cooldown rule to the most recent matching vote.
// A vote becomes possible again at exactly latest.CreatedAt + cooldown.
func (s *VoteService) evaluate(latest *model.VoteEvent, now time.Time) model.EligibilityResult {
	if latest == nil {
		return model.EligibilityResult{Eligible: true}
	}

	retryAfter := latest.CreatedAt.Add(s.cooldown)
	remaining := retryAfter.Sub(now)
	if remaining <= 0 {
		return model.EligibilityResult{Eligible: true}
	}

	return model.EligibilityResult{
		Eligible:           false,
		RetryAfter:         retryAfter,
		Remaining:          remaining,
		RemainingHoursCeil: model.HoursCeil(remaining),
	}
}
