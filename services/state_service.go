package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"game-state-sync/models"
)

// PlayerStore is the durable half of the state pair. StoreService implements
// it against Postgres; tests substitute fakes.
type PlayerStore interface {
	LoadPlayer(ctx context.Context, playerID string) (*models.PlayerState, error)
	SavePlayer(ctx context.Context, state *models.PlayerState) error
}

// StateService wraps load → transform → save as the single unit of
// consistency for every balance, streak and boost change. Player-initiated
// call sites are already serialized by the ActorQueue; the bounded retry
// loop covers the remaining cross-process window (a settlement job touching
// a player who is also clicking), and UpdateStateLocked adds the cache lock
// for call sites with no queue protection at all.
type StateService struct {
	Cache    *CacheService
	Store    PlayerStore
	CacheTTL time.Duration
	Retries  int
	Backoff  time.Duration
}

func NewStateService(cache *CacheService, store PlayerStore) *StateService {
	return &StateService{
		Cache:    cache,
		Store:    store,
		CacheTTL: 10 * time.Minute,
		Retries:  3,
		Backoff:  50 * time.Millisecond,
	}
}

// GetState is the read path: cache, else durable (repopulating the cache
// under a bounded TTL), else a fresh zero-valued record. The zero record is
// not persisted until the first accepted mutation.
func (s *StateService) GetState(ctx context.Context, playerID string) (*models.PlayerState, error) {
	return s.load(ctx, playerID)
}

// UpdateState runs the full load → transform → save sequence with bounded
// jittered retries. Either the sequence commits to both tiers (durable drift
// excepted, see below) or nothing is persisted; after exhausting retries it
// fails loudly with ErrConflictExhausted, never silently.
//
// A transform error is a business rejection (cooldown, insufficient
// balance), not a conflict — it aborts without retrying and persists
// nothing.
func (s *StateService) UpdateState(ctx context.Context, playerID string, transform func(*models.PlayerState) error) (*models.PlayerState, error) {
	var lastErr error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			sleep := s.Backoff + time.Duration(rand.Int63n(int64(s.Backoff)+1))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		state, err := s.load(ctx, playerID)
		if err != nil {
			lastErr = err
			continue
		}

		next := state.Clone()
		if err := transform(next); err != nil {
			return nil, err
		}

		if err := s.Cache.SetJSON(ctx, PlayerStateKey(playerID), next, s.CacheTTL); err != nil {
			// The cache write is the commit point; nothing persisted yet, so
			// the whole sequence can rerun.
			lastErr = err
			continue
		}

		if err := s.Store.SavePlayer(ctx, next); err != nil {
			// Cache is now ahead of the durable row. Accepted as bounded
			// drift: the next cache expiry forces a reload that writes
			// through again. Do not roll back the cache value.
			log.Printf("⚠️ [STATE] consistency warning: durable save failed for %s (cache ahead): %v", playerID, err)
		}
		return next, nil
	}
	return nil, fmt.Errorf("%w: player %s: %v", ErrConflictExhausted, playerID, lastErr)
}

// UpdateStateLocked is UpdateState behind the distributed lock, for
// cross-process callers (match settlement, workers) that are not already
// serialized by the ActorQueue. Queue-protected call sites skip the lock —
// taking it there would be redundant.
func (s *StateService) UpdateStateLocked(ctx context.Context, playerID string, transform func(*models.PlayerState) error) (*models.PlayerState, error) {
	release, err := s.Cache.AcquireLock(ctx, PlayerLockKey(playerID), 5*time.Second, 5, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.UpdateState(ctx, playerID, transform)
}

// InvalidateCache drops the cached record, forcing the next read through the
// durable store.
func (s *StateService) InvalidateCache(ctx context.Context, playerID string) {
	s.Cache.Delete(ctx, PlayerStateKey(playerID))
}

func (s *StateService) load(ctx context.Context, playerID string) (*models.PlayerState, error) {
	var cached models.PlayerState
	if s.Cache.GetJSON(ctx, PlayerStateKey(playerID), &cached) {
		if cached.Boosts == nil {
			cached.Boosts = map[string]models.Boost{}
		}
		return &cached, nil
	}

	state, err := s.Store.LoadPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return models.NewPlayerState(playerID), nil
	}
	if state.Boosts == nil {
		state.Boosts = map[string]models.Boost{}
	}
	if err := s.Cache.SetJSON(ctx, PlayerStateKey(playerID), state, s.CacheTTL); err != nil {
		log.Printf("⚠️ [STATE] cache repopulate failed for %s: %v", playerID, err)
	}
	return state, nil
}
