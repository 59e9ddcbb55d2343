// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the periodic housekeeping the lifecycle
// depends on: settling matches whose timer elapsed, evicting stale queue
// entries (with refunds), and pruning idle detector sessions.
func StartMaintenanceScheduler(matches *MatchService, detector *AutomationDetector) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every 15s: settle in-progress matches past their deadline
	_, _ = sched.NewJob(
		gocron.DurationJob(15*time.Second),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if n := matches.SettleExpired(ctx, time.Now(), 50); n > 0 {
				log.Printf("[Scheduler] ✅ Settled %d expired match(es)", n)
			}
		}),
	)

	// Every 30s: evict matchmaking entries past the staleness window
	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if n := matches.EvictStaleQueueEntries(ctx); n > 0 {
				log.Printf("[Scheduler] Evicted %d stale queue entr(ies)", n)
			}
		}),
	)

	// Every 5m: drop idle detector sessions
	_, _ = sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			if n := detector.PruneIdle(time.Now()); n > 0 {
				log.Printf("[Scheduler] Pruned %d idle detector session(s)", n)
			}
		}),
	)
}
