package repository

import (
	"context"
	"sync"
	"time"

	"github.com/rusuite/website/internal/model"
)

// MemoryVoteStore is a single-instance ledger kept in process memory. It is
// used for local development and tests; serialization relies on in-process
// keyed mutexes and is therefore not valid across multiple instances.
type MemoryVoteStore struct {
	mu     sync.RWMutex
	events map[string][]model.VoteEvent // target id -> events in insertion order

	locks *keyedMutex
}

func NewMemoryVoteStore() *MemoryVoteStore {
	return &MemoryVoteStore{
		events: make(map[string][]model.VoteEvent),
		locks:  newKeyedMutex(),
	}
}

func (s *MemoryVoteStore) LatestMatching(_ context.Context, targetID string, id model.Identity) (*model.VoteEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.VoteEvent
	for i := range s.events[targetID] {
		ev := &s.events[targetID][i]
		if !matches(ev.Identity, id) {
			continue
		}
		if latest == nil || ev.CreatedAt.After(latest.CreatedAt) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, nil
	}
	found := *latest
	return &found, nil
}

func (s *MemoryVoteStore) Append(_ context.Context, ev model.VoteEvent) error {
	s.mu.Lock()
	s.events[ev.TargetID] = append(s.events[ev.TargetID], ev)
	s.mu.Unlock()
	return nil
}

func (s *MemoryVoteStore) Count(_ context.Context, targetID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[targetID]), nil
}

func (s *MemoryVoteStore) ListSince(_ context.Context, targetID string, since time.Time) ([]model.VoteEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.VoteEvent
	for _, ev := range s.events[targetID] {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryVoteStore) Serialize(_ context.Context, targetID string, id model.Identity, fn func(q VoteQuerier) error) error {
	keys := LockKeys(targetID, id)
	for _, k := range keys {
		s.locks.Lock(k)
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			s.locks.Unlock(keys[i])
		}
	}()
	return fn(s)
}

// matches is the OR predicate: same IP, or same account when both sides have one.
func matches(stored, voter model.Identity) bool {
	if stored.IP == voter.IP {
		return true
	}
	return stored.HasAccount() && voter.HasAccount() && *stored.AccountID == *voter.AccountID
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds or
// waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.Unlock()
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
