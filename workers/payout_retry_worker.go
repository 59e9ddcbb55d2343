package workers

import (
	"context"
	"log"
	"time"

	"game-state-sync/models"
	"game-state-sync/services"
)

// PayoutStore is the slice of the durable store the retry loop needs.
type PayoutStore interface {
	ListUnpaidPayouts(ctx context.Context, limit int) ([]models.PendingPayout, error)
	SavePayout(ctx context.Context, payout *models.PendingPayout) error
}

// PayoutRetryWorker replays settlement credits that failed after their match
// was already marked completed. Match status is never rolled back, so a
// parked payout must eventually land — this loop retries until it does.
type PayoutRetryWorker struct {
	Store PayoutStore
	State *services.StateService
}

func NewPayoutRetryWorker(store PayoutStore, state *services.StateService) *PayoutRetryWorker {
	return &PayoutRetryWorker{Store: store, State: state}
}

// Run polls for unpaid payouts until ctx is cancelled.
func (w *PayoutRetryWorker) Run(ctx context.Context, pollInterval time.Duration) {
	log.Println("Starting payout retry worker...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Payout retry worker stopped.")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *PayoutRetryWorker) sweep(ctx context.Context) {
	payouts, err := w.Store.ListUnpaidPayouts(ctx, 100)
	if err != nil {
		log.Printf("❌ [PAYOUT] listing unpaid payouts failed: %v", err)
		return
	}
	if len(payouts) == 0 {
		return
	}
	log.Printf("📥 [PAYOUT] Retrying %d parked payout(s)", len(payouts))

	for i := range payouts {
		p := &payouts[i]
		p.Attempts++

		_, err := w.State.UpdateStateLocked(ctx, p.PlayerID, func(st *models.PlayerState) error {
			st.Balance += p.Amount
			return nil
		})
		if err != nil {
			p.LastError = err.Error()
			if saveErr := w.Store.SavePayout(ctx, p); saveErr != nil {
				log.Printf("❌ [PAYOUT] recording failed attempt for %s: %v", p.ID, saveErr)
			}
			log.Printf("❌ [PAYOUT] retry %d for %s (match %s) failed: %v", p.Attempts, p.PlayerID, p.MatchID, err)
			continue
		}

		now := time.Now()
		p.PaidAt = &now
		p.LastError = ""
		if err := w.Store.SavePayout(ctx, p); err != nil {
			// The credit landed but the row still says unpaid — this would
			// double-pay on the next sweep, so shout.
			log.Printf("❌ [PAYOUT] CRITICAL: payout %s credited but not marked paid: %v", p.ID, err)
			continue
		}
		log.Printf("✅ [PAYOUT] Credited %d to %s for match %s (attempt %d)", p.Amount, p.PlayerID, p.MatchID, p.Attempts)
	}
}
