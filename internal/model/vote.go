package model

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the voter as seen by the ledger: a hashed network address and,
// when the request is authenticated, the account id.
type Identity struct {
	IP        string
	AccountID *string
}

// HasAccount reports whether the identity carries an authenticated account.
func (i Identity) HasAccount() bool {
	return i.AccountID != nil && *i.AccountID != ""
}

// VoteEvent is a single immutable ledger entry.
type VoteEvent struct {
	ID        uuid.UUID `json:"id"`
	TargetID  string    `json:"serverId"`
	Identity  Identity  `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// EligibilityResult describes whether an identity may vote for a target right now.
type EligibilityResult struct {
	Eligible           bool
	RetryAfter         time.Time
	Remaining          time.Duration
	RemainingHoursCeil int
}

// VoteResult is the API response after a successful vote.
type VoteResult struct {
	Success   bool   `json:"success"`
	VoteCount int    `json:"voteCount"`
	Message   string `json:"message"`
}

// Histogram holds in-window vote counts bucketed by UTC day (YYYY-MM-DD).
// Days without votes are omitted.
type Histogram struct {
	Total      int            `json:"total"`
	VotesByDay map[string]int `json:"votesByDay"`
}

// VoteCountResponse is the API response for GET /api/votes/:serverId/count.
type VoteCountResponse struct {
	ServerID  string `json:"serverId"`
	VoteCount int    `json:"voteCount"`
}

// CanVoteResponse is the API response for GET /api/votes/:serverId/can-vote.
type CanVoteResponse struct {
	CanVote          bool       `json:"canVote"`
	SecondsRemaining int64      `json:"secondsRemaining"`
	HoursRemaining   int        `json:"hoursRemaining"`
	NextVoteAt       *time.Time `json:"nextVoteAt,omitempty"`
}

// HoursCeil rounds a remaining duration up to whole hours for display.
// Non-positive durations round to zero.
func HoursCeil(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Hour - 1) / time.Hour)
}

// SecondsCeil rounds a remaining duration up to whole seconds.
func SecondsCeil(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
