package repository

import (
	"context"
	"sort"
	"time"

	"github.com/rusuite/website/internal/model"
)

// VoteQuerier is the set of ledger operations available inside a serialized
// section as well as outside of one.
type VoteQuerier interface {
	// LatestMatching returns the most recent event for targetID whose IP equals
	// id.IP or, when id carries an account, whose account equals id.AccountID.
	// It returns nil when nothing matches.
	LatestMatching(ctx context.Context, targetID string, id model.Identity) (*model.VoteEvent, error)
	Append(ctx context.Context, ev model.VoteEvent) error
	Count(ctx context.Context, targetID string) (int, error)
}

// VoteStore is the append-only vote ledger.
type VoteStore interface {
	VoteQuerier

	// ListSince returns events for targetID created at or after since, oldest first.
	ListSince(ctx context.Context, targetID string, since time.Time) ([]model.VoteEvent, error)

	// Serialize runs fn with exclusive access to every lock key derived from
	// (targetID, id). Writes made through q are committed only if fn returns nil.
	Serialize(ctx context.Context, targetID string, id model.Identity, fn func(q VoteQuerier) error) error
}

// TargetLookup resolves vote targets.
type TargetLookup interface {
	// FindByID returns model.ErrTargetNotFound when no listing has the id.
	FindByID(ctx context.Context, id string) (*model.Server, error)
}

// LockKeys returns the serialization keys for a (target, identity) pair in a
// stable order. Two submissions that could block each other always share at
// least one key.
func LockKeys(targetID string, id model.Identity) []string {
	keys := []string{"vote:" + targetID + ":ip:" + id.IP}
	if id.HasAccount() {
		keys = append(keys, "vote:"+targetID+":acct:"+*id.AccountID)
	}
	sort.Strings(keys)
	return keys
}
