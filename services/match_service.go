package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"game-state-sync/models"

	"github.com/google/uuid"
)

// MatchStore is the durable side of the match lifecycle; StoreService
// implements it, tests use fakes.
type MatchStore interface {
	CreateMatch(ctx context.Context, match *models.Match) error
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	SaveMatch(ctx context.Context, match *models.Match) error
	ListMatchesPastDeadline(ctx context.Context, now time.Time, limit int) ([]models.Match, error)
	ListMatchesForPlayer(ctx context.Context, playerID string, limit int) ([]models.Match, error)
	CreatePendingPayout(ctx context.Context, payout *models.PendingPayout) error
}

// MatchConfig are the lifecycle tunables, loaded from env in main.
type MatchConfig struct {
	DefaultStake   int64
	PayoutFraction float64       // winner's share of the combined stake
	MatchDuration  time.Duration // game timer from accept to deadline
	QueueStale     time.Duration // queue entries older than this are evicted
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		DefaultStake:   100,
		PayoutFraction: 0.9,
		MatchDuration:  60 * time.Second,
		QueueStale:     2 * time.Minute,
	}
}

// MatchService runs the matchmaking queue and the 1v1 contest state machine
// from creation to settlement. Queue membership lives in a Redis sorted set
// scored by join time (FIFO); join, leave and pairing run under the queue
// lock so two processes can never pair the same opponent twice. Every
// lifecycle mutation of an existing match runs under that match's lock, so
// concurrent reporters and settlement sweeps on different instances cannot
// interleave. Stakes are deducted at join and paid out at settlement, both
// through the lock-guarded state updater — these call sites have no
// actor-queue protection.
type MatchService struct {
	Store MatchStore
	State *StateService
	Cache *CacheService
	Cfg   MatchConfig

	subMu sync.Mutex
	subs  map[string]map[int]chan models.Match
	subID int
}

func NewMatchService(store MatchStore, state *StateService, cache *CacheService, cfg MatchConfig) *MatchService {
	return &MatchService{
		Store: store,
		State: state,
		Cache: cache,
		Cfg:   cfg,
		subs:  make(map[string]map[int]chan models.Match),
	}
}

const queueStakesKey = "match:queue:stakes"

// JoinQueue deducts the stake and either pairs the player with the oldest
// eligible (same-stake) waiter or parks them in the queue. Exactly one of
// match/entry is non-nil on success.
func (s *MatchService) JoinQueue(ctx context.Context, playerID string, stake int64) (*models.Match, *models.QueueEntry, error) {
	if stake <= 0 {
		stake = s.Cfg.DefaultStake
	}

	release, err := s.Cache.AcquireLock(ctx, MatchQueueLockKey(), 3*time.Second, 5, 100*time.Millisecond)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	if _, queued := s.Cache.SortedSetScore(ctx, MatchQueueKey(), playerID); queued {
		return nil, nil, ErrAlreadyQueued
	}
	if s.hasLiveMatch(ctx, playerID) {
		return nil, nil, ErrAlreadyQueued
	}

	// Stake comes out at join time, before any pairing decision.
	if _, err := s.State.UpdateStateLocked(ctx, playerID, func(st *models.PlayerState) error {
		if st.Balance < stake {
			return ErrInsufficientBalance
		}
		st.Balance -= stake
		return nil
	}); err != nil {
		return nil, nil, err
	}

	opponentID, ok := s.findEligibleOpponent(ctx, playerID, stake)
	if !ok {
		now := time.Now()
		if err := s.Cache.SortedSetAdd(ctx, MatchQueueKey(), float64(now.UnixMilli()), playerID); err != nil {
			// Queue insert failed: hand the stake back rather than strand it.
			s.refund(ctx, playerID, stake, "queue insert failed")
			return nil, nil, err
		}
		if err := s.Cache.HashSet(ctx, queueStakesKey, playerID, strconv.FormatInt(stake, 10)); err != nil {
			log.Printf("⚠️ [MATCH] stake hash write failed for %s: %v", playerID, err)
		}
		return nil, &models.QueueEntry{PlayerID: playerID, JoinedAt: now}, nil
	}

	// Both players atomically leave the queue and a match is born waiting.
	if _, err := s.Cache.SortedSetRemove(ctx, MatchQueueKey(), opponentID); err != nil {
		log.Printf("⚠️ [MATCH] queue remove failed for %s: %v", opponentID, err)
	}
	match := &models.Match{
		ID:     uuid.NewString(),
		Kind:   "1v1",
		Status: models.MatchStatusWaiting,
		Stake:  stake,
		Participants: []models.MatchParticipant{
			{PlayerID: opponentID, IsChallenger: true}, // earlier joiner challenges
			{PlayerID: playerID},
		},
	}
	if err := s.Store.CreateMatch(ctx, match); err != nil {
		// Undo: restore the opponent's queue slot and both stakes' symmetry —
		// the joiner gets refunded, the opponent keeps waiting (their stake
		// was already held).
		s.Cache.SortedSetAdd(ctx, MatchQueueKey(), float64(time.Now().UnixMilli()), opponentID)
		s.refund(ctx, playerID, stake, "match create failed")
		return nil, nil, err
	}
	s.publish(match)
	return match, nil, nil
}

// LeaveQueue removes the player's entry and refunds the held stake. No
// match is created.
func (s *MatchService) LeaveQueue(ctx context.Context, playerID string) error {
	release, err := s.Cache.AcquireLock(ctx, MatchQueueLockKey(), 3*time.Second, 5, 100*time.Millisecond)
	if err != nil {
		return err
	}
	defer release()

	removed, err := s.Cache.SortedSetRemove(ctx, MatchQueueKey(), playerID)
	if err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	stake := s.queuedStake(ctx, playerID)
	s.refund(ctx, playerID, stake, "left queue")
	return nil
}

// QueueStatus reports the player's queue entry, if any.
func (s *MatchService) QueueStatus(ctx context.Context, playerID string) (*models.QueueEntry, bool) {
	score, ok := s.Cache.SortedSetScore(ctx, MatchQueueKey(), playerID)
	if !ok {
		return nil, false
	}
	return &models.QueueEntry{PlayerID: playerID, JoinedAt: time.UnixMilli(int64(score))}, true
}

// Accept moves a waiting match onto the game timer.
func (s *MatchService) Accept(ctx context.Context, matchID, playerID string) (*models.Match, error) {
	release, err := s.Cache.AcquireLock(ctx, MatchLockKey(matchID), 3*time.Second, 5, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer release()

	match, err := s.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Participant(playerID) == nil {
		return nil, ErrNotParticipant
	}
	if err := s.transition(match, models.MatchStatusInProgress); err != nil {
		return nil, err
	}
	now := time.Now()
	deadline := now.Add(s.Cfg.MatchDuration)
	match.StartedAt = &now
	match.DeadlineAt = &deadline
	if err := s.Store.SaveMatch(ctx, match); err != nil {
		return nil, err
	}
	s.publish(match)
	return match, nil
}

// Decline exits a pending/waiting match and hands both stakes back.
func (s *MatchService) Decline(ctx context.Context, matchID, playerID string) (*models.Match, error) {
	return s.abort(ctx, matchID, playerID, models.MatchStatusDeclined)
}

// Cancel exits a pending/waiting match (e.g. opponent never accepted) and
// hands both stakes back.
func (s *MatchService) Cancel(ctx context.Context, matchID, playerID string) (*models.Match, error) {
	return s.abort(ctx, matchID, playerID, models.MatchStatusCancelled)
}

func (s *MatchService) abort(ctx context.Context, matchID, playerID string, status models.MatchStatus) (*models.Match, error) {
	release, err := s.Cache.AcquireLock(ctx, MatchLockKey(matchID), 3*time.Second, 5, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer release()

	match, err := s.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Participant(playerID) == nil {
		return nil, ErrNotParticipant
	}
	if err := s.transition(match, status); err != nil {
		return nil, err
	}
	now := time.Now()
	match.EndedAt = &now
	if err := s.Store.SaveMatch(ctx, match); err != nil {
		return nil, err
	}
	for _, p := range match.Participants {
		s.refund(ctx, p.PlayerID, match.Stake, string(status))
	}
	s.publish(match)
	return match, nil
}

// ReportScore records a participant's terminal score. A session that
// accumulated enough automation flags forfeits: its score is voided to zero
// no matter how plausible it looked. When both participants have reported,
// the match settles immediately instead of waiting out the timer.
//
// The match lock is held across the read-modify-write so two concurrent
// reports cannot drop each other, and a report racing the settlement sweep
// cannot settle the same match twice.
func (s *MatchService) ReportScore(ctx context.Context, matchID, playerID string, score int64, invalidated bool) (*models.Match, error) {
	release, err := s.Cache.AcquireLock(ctx, MatchLockKey(matchID), 3*time.Second, 5, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer release()

	match, err := s.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status != models.MatchStatusInProgress {
		return nil, ErrInvalidTransition
	}
	participant := match.Participant(playerID)
	if participant == nil {
		return nil, ErrNotParticipant
	}
	if invalidated {
		log.Printf("🚫 [MATCH] result for %s in match %s voided by automation flags (reported %d)", playerID, matchID, score)
		score = 0
	}
	participant.Score = score
	participant.Reported = true

	if match.BothReported() {
		return s.settle(ctx, match)
	}
	if err := s.Store.SaveMatch(ctx, match); err != nil {
		return nil, err
	}
	s.publish(match)
	return match, nil
}

// GetMatch fetches one match row.
func (s *MatchService) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	return s.Store.GetMatch(ctx, matchID)
}

// ListMatches returns the player's recent matches, newest first.
func (s *MatchService) ListMatches(ctx context.Context, playerID string, limit int) ([]models.Match, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Store.ListMatchesForPlayer(ctx, playerID, limit)
}

// hasLiveMatch reports whether the player has a non-terminal match. A player
// mid-contest cannot stake into the queue again; on a store error the check
// fails open, the queue lock and stake deduction remain the hard guards.
func (s *MatchService) hasLiveMatch(ctx context.Context, playerID string) bool {
	recent, err := s.Store.ListMatchesForPlayer(ctx, playerID, 10)
	if err != nil {
		log.Printf("⚠️ [MATCH] live-match check failed for %s: %v", playerID, err)
		return false
	}
	for _, m := range recent {
		if !m.Status.Terminal() {
			return true
		}
	}
	return false
}

// SettleExpired sweeps in-progress matches whose timer elapsed, settling on
// whatever scores were reported. Run from the scheduler. Each match is
// re-read and re-checked under its lock: the listing is a stale snapshot,
// and another instance's sweep (or a both-reported ReportScore) may have
// settled the match since.
func (s *MatchService) SettleExpired(ctx context.Context, now time.Time, limit int) int {
	matches, err := s.Store.ListMatchesPastDeadline(ctx, now, limit)
	if err != nil {
		log.Printf("❌ [MATCH] deadline sweep query failed: %v", err)
		return 0
	}
	settled := 0
	for i := range matches {
		if s.settleExpiredOne(ctx, matches[i].ID) {
			settled++
		}
	}
	return settled
}

func (s *MatchService) settleExpiredOne(ctx context.Context, matchID string) bool {
	release, err := s.Cache.AcquireLock(ctx, MatchLockKey(matchID), 3*time.Second, 5, 100*time.Millisecond)
	if err != nil {
		log.Printf("⚠️ [MATCH] sweep could not lock %s: %v", matchID, err)
		return false
	}
	defer release()

	match, err := s.Store.GetMatch(ctx, matchID)
	if err != nil {
		log.Printf("❌ [MATCH] sweep re-read of %s failed: %v", matchID, err)
		return false
	}
	if match.Status != models.MatchStatusInProgress {
		return false // settled by another path since the listing
	}
	if _, err := s.settle(ctx, match); err != nil {
		log.Printf("❌ [MATCH] settling %s failed: %v", matchID, err)
		return false
	}
	return true
}

// EvictStaleQueueEntries drops queue members past the staleness window,
// refunding their stakes. Run from the scheduler.
func (s *MatchService) EvictStaleQueueEntries(ctx context.Context) int {
	release, err := s.Cache.AcquireLock(ctx, MatchQueueLockKey(), 3*time.Second, 2, 100*time.Millisecond)
	if err != nil {
		return 0
	}
	defer release()

	cutoff := time.Now().Add(-s.Cfg.QueueStale).UnixMilli()
	entries, err := s.Cache.SortedSetRange(ctx, MatchQueueKey(), 0, -1)
	if err != nil {
		return 0
	}
	evicted := 0
	for _, entry := range entries {
		if int64(entry.Score) > cutoff {
			break // set is score-ordered; the rest are fresh
		}
		if _, err := s.Cache.SortedSetRemove(ctx, MatchQueueKey(), entry.Member); err != nil {
			continue
		}
		s.refund(ctx, entry.Member, s.queuedStake(ctx, entry.Member), "queue timeout")
		evicted++
	}
	return evicted
}

// settle is the terminal transition; callers hold the match lock. Status
// flips to completed first — status reflects game-timer truth — and a payout
// failure afterwards is parked as a PendingPayout row for the retry worker,
// never rolled back and never silently lost.
func (s *MatchService) settle(ctx context.Context, match *models.Match) (*models.Match, error) {
	if err := s.transition(match, models.MatchStatusCompleted); err != nil {
		return nil, err
	}
	now := time.Now()
	match.EndedAt = &now

	p1, p2 := match.Participants[0], match.Participants[1]
	switch {
	case p1.Score > p2.Score:
		match.WinnerID = &match.Participants[0].PlayerID
	case p2.Score > p1.Score:
		match.WinnerID = &match.Participants[1].PlayerID
	default:
		match.Draw = true
	}

	if err := s.Store.SaveMatch(ctx, match); err != nil {
		return nil, err
	}

	pot := match.Stake * 2
	payout := int64(float64(pot) * s.Cfg.PayoutFraction)
	if match.Draw {
		// Explicit draw: the pot (less rake) splits evenly, nobody "wins".
		half := payout / 2
		s.credit(ctx, match.ID, p1.PlayerID, half)
		s.credit(ctx, match.ID, p2.PlayerID, half)
	} else {
		s.credit(ctx, match.ID, *match.WinnerID, payout)
	}

	s.publish(match)
	return match, nil
}

func (s *MatchService) credit(ctx context.Context, matchID, playerID string, amount int64) {
	if amount <= 0 {
		return
	}
	_, err := s.State.UpdateStateLocked(ctx, playerID, func(st *models.PlayerState) error {
		st.Balance += amount
		return nil
	})
	if err == nil {
		return
	}
	log.Printf("❌ [MATCH] payout of %d to %s failed, parking for retry: %v", amount, playerID, err)
	payout := &models.PendingPayout{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		PlayerID:  playerID,
		Amount:    amount,
		LastError: err.Error(),
	}
	if err := s.Store.CreatePendingPayout(ctx, payout); err != nil {
		// Both tiers down. The settlement sweep logs loudly; ops replays from
		// the match row.
		log.Printf("❌ [MATCH] CRITICAL: could not park payout %d→%s for match %s: %v", amount, playerID, matchID, err)
	}
}

func (s *MatchService) refund(ctx context.Context, playerID string, stake int64, why string) {
	if stake <= 0 {
		return
	}
	if _, err := s.State.UpdateStateLocked(ctx, playerID, func(st *models.PlayerState) error {
		st.Balance += stake
		return nil
	}); err != nil {
		log.Printf("❌ [MATCH] stake refund of %d to %s (%s) failed: %v", stake, playerID, why, err)
	}
}

func (s *MatchService) queuedStake(ctx context.Context, playerID string) int64 {
	defer func() {
		// Best effort; a dangling hash field is harmless.
		_ = s.Cache.rdb.HDel(context.Background(), queueStakesKey, playerID)
	}()
	raw, ok := s.Cache.HashGet(ctx, queueStakesKey, playerID)
	if !ok {
		return s.Cfg.DefaultStake
	}
	stake, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || stake <= 0 {
		return s.Cfg.DefaultStake
	}
	return stake
}

func (s *MatchService) findEligibleOpponent(ctx context.Context, playerID string, stake int64) (string, bool) {
	entries, err := s.Cache.SortedSetRange(ctx, MatchQueueKey(), 0, -1)
	if err != nil {
		log.Printf("⚠️ [MATCH] queue read failed: %v", err)
		return "", false
	}
	for _, entry := range entries { // oldest first: queue FIFO w.r.t. membership
		if entry.Member == playerID {
			continue
		}
		if s.peekStake(ctx, entry.Member) == stake {
			return entry.Member, true
		}
	}
	return "", false
}

func (s *MatchService) peekStake(ctx context.Context, playerID string) int64 {
	raw, ok := s.Cache.HashGet(ctx, queueStakesKey, playerID)
	if !ok {
		return s.Cfg.DefaultStake
	}
	stake, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || stake <= 0 {
		return s.Cfg.DefaultStake
	}
	return stake
}

func (s *MatchService) transition(match *models.Match, next models.MatchStatus) error {
	if !match.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, match.Status, next)
	}
	match.Status = next
	return nil
}

// --- Subscriptions ---

// Subscribe returns a channel that receives a Match snapshot on every
// transition, plus a cancel func. Consumers observe a stream instead of
// wiring callbacks into the lifecycle.
func (s *MatchService) Subscribe(matchID string) (<-chan models.Match, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subs[matchID] == nil {
		s.subs[matchID] = make(map[int]chan models.Match)
	}
	s.subID++
	id := s.subID
	ch := make(chan models.Match, 8)
	s.subs[matchID][id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if set, ok := s.subs[matchID]; ok {
			if sub, ok := set[id]; ok {
				delete(set, id)
				close(sub)
			}
			if len(set) == 0 {
				delete(s.subs, matchID)
			}
		}
	}
	return ch, cancel
}

func (s *MatchService) publish(match *models.Match) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs[match.ID] {
		select {
		case ch <- *match: // snapshot by value
		default: // slow consumer: skip, the next transition carries the truth
		}
	}
}
