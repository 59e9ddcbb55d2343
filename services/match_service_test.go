package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"game-state-sync/models"

	"github.com/alicebob/miniredis/v2"
)

type fakeMatchStore struct {
	mu      sync.Mutex
	matches map[string]*models.Match
	payouts []models.PendingPayout
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{matches: make(map[string]*models.Match)}
}

func cloneMatch(m *models.Match) *models.Match {
	cp := *m
	cp.Participants = append([]models.MatchParticipant(nil), m.Participants...)
	return &cp
}

func (f *fakeMatchStore) CreateMatch(ctx context.Context, match *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[match.ID] = cloneMatch(match)
	return nil
}

func (f *fakeMatchStore) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match, ok := f.matches[matchID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return cloneMatch(match), nil
}

func (f *fakeMatchStore) SaveMatch(ctx context.Context, match *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[match.ID] = cloneMatch(match)
	return nil
}

func (f *fakeMatchStore) ListMatchesPastDeadline(ctx context.Context, now time.Time, limit int) ([]models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Match
	for _, m := range f.matches {
		if m.Status == models.MatchStatusInProgress && m.DeadlineAt != nil && m.DeadlineAt.Before(now) {
			out = append(out, *cloneMatch(m))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeMatchStore) ListMatchesForPlayer(ctx context.Context, playerID string, limit int) ([]models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Match
	for _, m := range f.matches {
		if m.Participant(playerID) != nil {
			out = append(out, *cloneMatch(m))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeMatchStore) CreatePendingPayout(ctx context.Context, payout *models.PendingPayout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, *payout)
	return nil
}

type matchFixture struct {
	svc     *MatchService
	matches *fakeMatchStore
	players *fakePlayerStore
	cache   *CacheService
	mr      *miniredis.Miniredis
}

func newMatchFixture(t *testing.T) *matchFixture {
	t.Helper()
	cache, mr := newTestCache(t)
	players := newFakePlayerStore()
	players.seed(&models.PlayerState{PlayerID: "p1", Balance: 500})
	players.seed(&models.PlayerState{PlayerID: "p2", Balance: 500})
	matches := newFakeMatchStore()
	svc := NewMatchService(matches, NewStateService(cache, players), cache, DefaultMatchConfig())
	return &matchFixture{svc: svc, matches: matches, players: players, cache: cache, mr: mr}
}

// pair joins both seeded players and returns the waiting match.
func (fx *matchFixture) pair(t *testing.T) *models.Match {
	t.Helper()
	ctx := context.Background()
	if _, entry, err := fx.svc.JoinQueue(ctx, "p1", 0); err != nil || entry == nil {
		t.Fatalf("p1 join: entry=%v err=%v", entry, err)
	}
	match, entry, err := fx.svc.JoinQueue(ctx, "p2", 0)
	if err != nil || match == nil || entry != nil {
		t.Fatalf("p2 join: match=%v entry=%v err=%v", match, entry, err)
	}
	return match
}

func TestJoinQueueParksFirstPlayer(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match, entry, err := fx.svc.JoinQueue(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("JoinQueue failed: %v", err)
	}
	if match != nil || entry == nil {
		t.Fatalf("expected queue entry without a match, got match=%v entry=%v", match, entry)
	}
	if entry.PlayerID != "p1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	// Stake comes out at join time.
	if got := fx.players.balance("p1"); got != 400 {
		t.Fatalf("expected stake deducted to 400, got %d", got)
	}
	if _, queued := fx.svc.QueueStatus(ctx, "p1"); !queued {
		t.Fatal("expected p1 in queue")
	}
}

func TestJoinQueuePairsOldestSameStakeWaiter(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	if match.Status != models.MatchStatusWaiting {
		t.Fatalf("expected waiting match, got %s", match.Status)
	}
	if match.Stake != 100 || match.Kind != "1v1" || len(match.Participants) != 2 {
		t.Fatalf("unexpected match: %+v", match)
	}

	// The earlier joiner is the challenger.
	p1 := match.Participant("p1")
	if p1 == nil || !p1.IsChallenger {
		t.Fatalf("expected p1 as challenger: %+v", match.Participants)
	}

	for _, id := range []string{"p1", "p2"} {
		if _, queued := fx.svc.QueueStatus(ctx, id); queued {
			t.Fatalf("%s must leave the queue on pairing", id)
		}
		if got := fx.players.balance(id); got != 400 {
			t.Fatalf("%s: expected balance 400, got %d", id, got)
		}
	}
}

func TestJoinQueueRequiresMatchingStake(t *testing.T) {
	fx := newMatchFixture(t)
	fx.players.seed(&models.PlayerState{PlayerID: "p3", Balance: 500})
	ctx := context.Background()

	if _, entry, err := fx.svc.JoinQueue(ctx, "p1", 100); err != nil || entry == nil {
		t.Fatalf("p1 join failed: %v", err)
	}
	// Different stake: p2 waits instead of pairing with p1.
	match, entry, err := fx.svc.JoinQueue(ctx, "p2", 300)
	if err != nil || match != nil || entry == nil {
		t.Fatalf("p2 should queue, got match=%v err=%v", match, err)
	}
	// Same stake as p2: pairs with p2, not the older p1.
	match, _, err = fx.svc.JoinQueue(ctx, "p3", 300)
	if err != nil || match == nil {
		t.Fatalf("p3 should pair: %v", err)
	}
	if match.Participant("p2") == nil || match.Participant("p3") == nil {
		t.Fatalf("expected p2 vs p3, got %+v", match.Participants)
	}
	if match.Stake != 300 {
		t.Fatalf("expected stake 300, got %d", match.Stake)
	}
	if _, queued := fx.svc.QueueStatus(ctx, "p1"); !queued {
		t.Fatal("p1 should still be waiting")
	}
}

func TestJoinQueueInsufficientBalance(t *testing.T) {
	fx := newMatchFixture(t)
	fx.players.seed(&models.PlayerState{PlayerID: "poor", Balance: 50})
	ctx := context.Background()

	_, _, err := fx.svc.JoinQueue(ctx, "poor", 0)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, queued := fx.svc.QueueStatus(ctx, "poor"); queued {
		t.Fatal("rejected join must not enqueue")
	}
	if got := fx.players.balance("poor"); got != 50 {
		t.Fatalf("rejected join must not touch the balance, got %d", got)
	}
}

func TestJoinQueueRejectsDoubleJoin(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	if _, _, err := fx.svc.JoinQueue(ctx, "p1", 0); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if _, _, err := fx.svc.JoinQueue(ctx, "p1", 0); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	if got := fx.players.balance("p1"); got != 400 {
		t.Fatalf("stake must be deducted exactly once, got %d", got)
	}
}

func TestLeaveQueueRefundsStake(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	if _, _, err := fx.svc.JoinQueue(ctx, "p1", 0); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := fx.svc.LeaveQueue(ctx, "p1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if _, queued := fx.svc.QueueStatus(ctx, "p1"); queued {
		t.Fatal("expected p1 out of the queue")
	}
	if got := fx.players.balance("p1"); got != 500 {
		t.Fatalf("expected stake refunded to 500, got %d", got)
	}

	// Leaving while not queued is a no-op.
	if err := fx.svc.LeaveQueue(ctx, "p1"); err != nil {
		t.Fatalf("idempotent leave failed: %v", err)
	}
	if got := fx.players.balance("p1"); got != 500 {
		t.Fatalf("no-op leave must not refund again, got %d", got)
	}
}

func TestMatchLifecycleToSettlement(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	match, err := fx.svc.Accept(ctx, match.ID, "p2")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if match.Status != models.MatchStatusInProgress {
		t.Fatalf("expected in_progress, got %s", match.Status)
	}
	if match.StartedAt == nil || match.DeadlineAt == nil {
		t.Fatal("expected game timer set on accept")
	}

	match, err = fx.svc.ReportScore(ctx, match.ID, "p1", 10, false)
	if err != nil {
		t.Fatalf("first report failed: %v", err)
	}
	if match.Status != models.MatchStatusInProgress {
		t.Fatalf("one report must not settle, got %s", match.Status)
	}

	match, err = fx.svc.ReportScore(ctx, match.ID, "p2", 7, false)
	if err != nil {
		t.Fatalf("second report failed: %v", err)
	}
	if match.Status != models.MatchStatusCompleted {
		t.Fatalf("expected completed, got %s", match.Status)
	}
	if match.WinnerID == nil || *match.WinnerID != "p1" || match.Draw {
		t.Fatalf("expected p1 victory, got winner=%v draw=%v", match.WinnerID, match.Draw)
	}
	if match.EndedAt == nil {
		t.Fatal("expected EndedAt on settlement")
	}

	// Winner takes 90% of the 200 pot: 500 - 100 + 180.
	if got := fx.players.balance("p1"); got != 580 {
		t.Fatalf("expected winner balance 580, got %d", got)
	}
	if got := fx.players.balance("p2"); got != 400 {
		t.Fatalf("expected loser balance 400, got %d", got)
	}
}

func TestDrawSplitsPayout(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := fx.svc.ReportScore(ctx, match.ID, "p1", 10, false); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	match, err := fx.svc.ReportScore(ctx, match.ID, "p2", 10, false)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if !match.Draw || match.WinnerID != nil {
		t.Fatalf("expected draw, got winner=%v draw=%v", match.WinnerID, match.Draw)
	}
	for _, id := range []string{"p1", "p2"} {
		if got := fx.players.balance(id); got != 490 {
			t.Fatalf("%s: expected 490 after split payout, got %d", id, got)
		}
	}
}

func TestInvalidatedScoreForfeits(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	// A flagged session's score is voided no matter how high it was.
	if _, err := fx.svc.ReportScore(ctx, match.ID, "p1", 9999, true); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	match, err := fx.svc.ReportScore(ctx, match.ID, "p2", 5, false)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if match.WinnerID == nil || *match.WinnerID != "p2" {
		t.Fatalf("expected p2 to win by forfeit, got %+v", match)
	}
	if got := match.Participant("p1").Score; got != 0 {
		t.Fatalf("expected voided score 0, got %d", got)
	}
}

func TestDeclineRefundsBothStakes(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	match, err := fx.svc.Decline(ctx, match.ID, "p2")
	if err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	if match.Status != models.MatchStatusDeclined {
		t.Fatalf("expected declined, got %s", match.Status)
	}
	for _, id := range []string{"p1", "p2"} {
		if got := fx.players.balance(id); got != 500 {
			t.Fatalf("%s: expected full refund to 500, got %d", id, got)
		}
	}
}

func TestMatchTransitionGuards(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)

	// Scores cannot land before the match is accepted.
	if _, err := fx.svc.ReportScore(ctx, match.ID, "p1", 5, false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := fx.svc.Accept(ctx, match.ID, "outsider"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	// No way back out of in_progress except completion.
	if _, err := fx.svc.Decline(ctx, match.ID, "p2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	fx.svc.ReportScore(ctx, match.ID, "p1", 1, false)
	fx.svc.ReportScore(ctx, match.ID, "p2", 2, false)
	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed match must be terminal, got %v", err)
	}

	if _, err := fx.svc.GetMatch(ctx, "no-such-match"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestSettleExpiredUsesReportedScores(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := fx.svc.ReportScore(ctx, match.ID, "p1", 5, false); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	// Timer elapses with p2 silent: the sweep settles on what was reported.
	past := time.Now().Add(-time.Minute)
	fx.matches.mu.Lock()
	fx.matches.matches[match.ID].DeadlineAt = &past
	fx.matches.mu.Unlock()

	if settled := fx.svc.SettleExpired(ctx, time.Now(), 50); settled != 1 {
		t.Fatalf("expected 1 settled match, got %d", settled)
	}
	match, err := fx.svc.GetMatch(ctx, match.ID)
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if match.Status != models.MatchStatusCompleted || match.WinnerID == nil || *match.WinnerID != "p1" {
		t.Fatalf("expected p1 win on expiry, got %+v", match)
	}
	if got := fx.players.balance("p1"); got != 580 {
		t.Fatalf("expected winner credited, got %d", got)
	}
}

func TestEvictStaleQueueEntriesRefunds(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	if _, _, err := fx.svc.JoinQueue(ctx, "p1", 0); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	// Age the entry past the staleness window.
	old := time.Now().Add(-5 * time.Minute)
	if err := fx.cache.SortedSetAdd(ctx, MatchQueueKey(), float64(old.UnixMilli()), "p1"); err != nil {
		t.Fatalf("aging entry failed: %v", err)
	}

	if evicted := fx.svc.EvictStaleQueueEntries(ctx); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, queued := fx.svc.QueueStatus(ctx, "p1"); queued {
		t.Fatal("expected p1 evicted")
	}
	if got := fx.players.balance("p1"); got != 500 {
		t.Fatalf("expected stake refunded on eviction, got %d", got)
	}
}

func TestPayoutParkedWhenCreditFails(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := fx.svc.ReportScore(ctx, match.ID, "p1", 10, false); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	// The winner's record becomes unreadable between the reports: the cached
	// copy is gone and the durable tier errors. Settlement still completes,
	// the unpayable credit is parked for the retry worker.
	fx.svc.State.Backoff = time.Millisecond
	fx.svc.State.InvalidateCache(ctx, "p1")
	fx.players.loadErr = errors.New("durable tier down")

	match, err := fx.svc.ReportScore(ctx, match.ID, "p2", 7, false)
	if err != nil {
		t.Fatalf("settlement must not fail on payout error: %v", err)
	}
	if match.Status != models.MatchStatusCompleted {
		t.Fatalf("expected completed, got %s", match.Status)
	}

	fx.matches.mu.Lock()
	payouts := append([]models.PendingPayout(nil), fx.matches.payouts...)
	fx.matches.mu.Unlock()
	if len(payouts) != 1 {
		t.Fatalf("expected 1 parked payout, got %d", len(payouts))
	}
	p := payouts[0]
	if p.PlayerID != "p1" || p.Amount != 180 || p.MatchID != match.ID {
		t.Fatalf("unexpected parked payout: %+v", p)
	}
	if p.PaidAt != nil || p.LastError == "" {
		t.Fatalf("expected unpaid payout with error recorded: %+v", p)
	}
}

// gatedMatchStore holds every deadline listing at a barrier until all
// expected sweepers have read, modelling two instances whose sweeps both
// see the same in-progress match before either settles it.
type gatedMatchStore struct {
	*fakeMatchStore
	listGate *sync.WaitGroup
}

func (g *gatedMatchStore) ListMatchesPastDeadline(ctx context.Context, now time.Time, limit int) ([]models.Match, error) {
	out, err := g.fakeMatchStore.ListMatchesPastDeadline(ctx, now, limit)
	g.listGate.Done()
	g.listGate.Wait()
	return out, err
}

func TestConcurrentSweepsSettleOnce(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := fx.svc.ReportScore(ctx, match.ID, "p1", 10, false); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	fx.matches.mu.Lock()
	fx.matches.matches[match.ID].DeadlineAt = &past
	fx.matches.mu.Unlock()

	var gate sync.WaitGroup
	gate.Add(2)
	gated := &gatedMatchStore{fakeMatchStore: fx.matches, listGate: &gate}
	sweeper := NewMatchService(gated, fx.svc.State, fx.cache, DefaultMatchConfig())

	results := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- sweeper.SettleExpired(ctx, time.Now(), 50)
		}()
	}
	total := <-results + <-results

	if total != 1 {
		t.Fatalf("expected exactly one sweep to settle, got %d", total)
	}
	// One credit of 180, not one per sweeper.
	if got := fx.players.balance("p1"); got != 580 {
		t.Fatalf("winner double-paid: balance %d, want 580", got)
	}
	match, err := fx.svc.GetMatch(ctx, match.ID)
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if match.Status != models.MatchStatusCompleted {
		t.Fatalf("expected completed, got %s", match.Status)
	}
}

func TestConcurrentScoreReportsBothLand(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	var wg sync.WaitGroup
	report := func(playerID string, score int64) {
		defer wg.Done()
		if _, err := fx.svc.ReportScore(ctx, match.ID, playerID, score, false); err != nil {
			t.Errorf("%s report failed: %v", playerID, err)
		}
	}
	wg.Add(2)
	go report("p1", 10)
	go report("p2", 7)
	wg.Wait()

	match, err := fx.svc.GetMatch(ctx, match.ID)
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if match.Status != models.MatchStatusCompleted {
		t.Fatalf("expected completed, got %s", match.Status)
	}
	for _, p := range match.Participants {
		if !p.Reported {
			t.Fatalf("a concurrent report was lost: %+v", match.Participants)
		}
	}
	if match.WinnerID == nil || *match.WinnerID != "p1" {
		t.Fatalf("expected p1 victory, got %+v", match)
	}
	if got := fx.players.balance("p1"); got != 580 {
		t.Fatalf("expected winner balance 580, got %d", got)
	}
	if got := fx.players.balance("p2"); got != 400 {
		t.Fatalf("expected loser balance 400, got %d", got)
	}
}

func TestJoinQueueRejectsPlayerWithLiveMatch(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	// Mid-contest: staking into the queue again is refused.
	if _, _, err := fx.svc.JoinQueue(ctx, "p1", 0); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued with a live match, got %v", err)
	}
	if got := fx.players.balance("p1"); got != 400 {
		t.Fatalf("rejected join must not deduct, got %d", got)
	}

	// Once the match is terminal the player can queue again.
	if _, err := fx.svc.Decline(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	if _, entry, err := fx.svc.JoinQueue(ctx, "p1", 0); err != nil || entry == nil {
		t.Fatalf("join after terminal match failed: entry=%v err=%v", entry, err)
	}
}

func TestListMatchesReturnsPlayerHistory(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	fx.svc.Accept(ctx, match.ID, "p1")
	fx.svc.ReportScore(ctx, match.ID, "p1", 10, false)
	fx.svc.ReportScore(ctx, match.ID, "p2", 7, false)

	history, err := fx.svc.ListMatches(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != match.ID {
		t.Fatalf("expected the settled match in p1's history, got %+v", history)
	}

	history, err = fx.svc.ListMatches(ctx, "outsider", 10)
	if err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history for a non-participant, got %d", len(history))
	}
}

func TestSubscribeObservesTransitions(t *testing.T) {
	fx := newMatchFixture(t)
	ctx := context.Background()

	match := fx.pair(t)
	updates, cancel := fx.svc.Subscribe(match.ID)
	defer cancel()

	if _, err := fx.svc.Accept(ctx, match.ID, "p1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	select {
	case snapshot := <-updates:
		if snapshot.Status != models.MatchStatusInProgress {
			t.Fatalf("expected in_progress snapshot, got %s", snapshot.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published on transition")
	}
}
