package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"game-state-sync/models"
	"game-state-sync/utils"
)

// ReportStore is the slice of the durable store the flush loop needs.
type ReportStore interface {
	InsertAbuseReports(ctx context.Context, reports []models.AbuseReport) error
	ListUnarchivedReports(ctx context.Context, before time.Time, limit int) ([]models.AbuseReport, error)
	MarkReportsArchived(ctx context.Context, ids []string) error
}

// AbuseFlushWorker drains the automation detector's throttled report feed
// into Postgres in batches, and periodically bundles aged reports into a
// JSON archive on R2 so the hot table stays small.
type AbuseFlushWorker struct {
	Store      ReportStore
	Reports    <-chan models.AbuseReport
	BatchSize  int
	ArchiveAge time.Duration
}

func NewAbuseFlushWorker(store ReportStore, reports <-chan models.AbuseReport) *AbuseFlushWorker {
	return &AbuseFlushWorker{
		Store:      store,
		Reports:    reports,
		BatchSize:  50,
		ArchiveAge: 24 * time.Hour,
	}
}

// Run buffers incoming reports and flushes on size or interval, archiving on
// a slower cadence, until ctx is cancelled.
func (w *AbuseFlushWorker) Run(ctx context.Context, flushInterval, archiveInterval time.Duration) {
	log.Println("Starting abuse report flush worker...")

	flushTicker := time.NewTicker(flushInterval)
	defer flushTicker.Stop()
	archiveTicker := time.NewTicker(archiveInterval)
	defer archiveTicker.Stop()

	var pending []models.AbuseReport

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := w.Store.InsertAbuseReports(ctx, pending); err != nil {
			// Keep the batch — retry on the next tick rather than lose it.
			log.Printf("❌ [ABUSE] flushing %d report(s) failed: %v", len(pending), err)
			return
		}
		log.Printf("✅ [ABUSE] Flushed %d report(s)", len(pending))
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			log.Println("Abuse report flush worker stopped.")
			return
		case report := <-w.Reports:
			pending = append(pending, report)
			if len(pending) >= w.BatchSize {
				flush()
			}
		case <-flushTicker.C:
			flush()
		case <-archiveTicker.C:
			w.archive(ctx)
		}
	}
}

// archive bundles reports older than ArchiveAge into one JSON object on R2
// and marks the rows archived. Advancing the marker only after a successful
// upload means a failed run retries the same window next tick.
func (w *AbuseFlushWorker) archive(ctx context.Context) {
	cutoff := time.Now().Add(-w.ArchiveAge)
	reports, err := w.Store.ListUnarchivedReports(ctx, cutoff, 1000)
	if err != nil {
		log.Printf("❌ [ABUSE] listing reports to archive failed: %v", err)
		return
	}
	if len(reports) == 0 {
		return
	}

	payload, err := json.Marshal(reports)
	if err != nil {
		log.Printf("❌ [ABUSE] marshalling archive failed: %v", err)
		return
	}

	key := fmt.Sprintf("abuse-reports/%s.json", time.Now().UTC().Format("2006-01-02T15-04-05"))
	url, err := utils.UploadArchive(key, payload, "application/json")
	if err != nil {
		log.Printf("❌ [ABUSE] archive upload failed: %v", err)
		return
	}

	ids := make([]string, len(reports))
	for i, r := range reports {
		ids[i] = r.ID
	}
	if err := w.Store.MarkReportsArchived(ctx, ids); err != nil {
		log.Printf("❌ [ABUSE] marking %d report(s) archived failed: %v", len(ids), err)
		return
	}
	log.Printf("✅ [ABUSE] Archived %d report(s) → %s", len(reports), url)
}
