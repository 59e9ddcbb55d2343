package services

import (
	"testing"
	"time"

	"game-state-sync/models"
)

func TestDetectorFlagsSubhumanIntervals(t *testing.T) {
	d := NewAutomationDetector(DefaultDetectorConfig())
	base := time.Now()

	if v := d.Validate("p1", "sess", ActionSample{At: base}); !v.Valid {
		t.Fatalf("first sample has no interval to judge: %+v", v)
	}
	v := d.Validate("p1", "sess", ActionSample{At: base.Add(10 * time.Millisecond)})
	if v.Valid {
		t.Fatal("10ms interval must be flagged")
	}
	if v.Reason != "min_interval" || v.Severity != models.AbuseSeveritySevere {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestDetectorFlagsMetronomicTiming(t *testing.T) {
	d := NewAutomationDetector(DefaultDetectorConfig())
	base := time.Now()

	// Eleven samples exactly 100ms apart: each interval clears the floor, but
	// the coefficient of variation over the regularity window is zero.
	var last ValidationResult
	for i := 0; i < 11; i++ {
		last = d.Validate("p1", "sess", ActionSample{At: base.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	if last.Valid {
		t.Fatal("perfectly regular timing must be flagged")
	}
	if last.Reason != "interval_regularity" || last.Severity != models.AbuseSeveritySevere {
		t.Fatalf("unexpected verdict: %+v", last)
	}
}

func TestDetectorPassesHumanJitter(t *testing.T) {
	d := NewAutomationDetector(DefaultDetectorConfig())
	base := time.Now()

	// Alternating 100ms/220ms intervals with wandering positions: plausible
	// fast play, high interval variance.
	at := base
	for i := 0; i < 25; i++ {
		if i%2 == 0 {
			at = at.Add(100 * time.Millisecond)
		} else {
			at = at.Add(220 * time.Millisecond)
		}
		sample := ActionSample{At: at, X: float64(40 + i*13%200), Y: float64(90 + i*29%150), HasPos: true}
		if v := d.Validate("p1", "sess", sample); !v.Valid {
			t.Fatalf("sample %d wrongly flagged: %+v", i, v)
		}
	}
	if d.WarningCount("sess") != 0 {
		t.Fatalf("expected clean session, %d warnings", d.WarningCount("sess"))
	}
}

func TestDetectorFlagsPositionRepetition(t *testing.T) {
	d := NewAutomationDetector(DefaultDetectorConfig())
	base := time.Now()

	// Same pixel every time, with enough timing jitter to dodge the CV check.
	at := base
	flagged := false
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			at = at.Add(110 * time.Millisecond)
		} else {
			at = at.Add(240 * time.Millisecond)
		}
		v := d.Validate("p1", "sess", ActionSample{At: at, X: 512, Y: 384, HasPos: true})
		if !v.Valid {
			if v.Reason != "position_repetition" || v.Severity != models.AbuseSeverityWarning {
				t.Fatalf("sample %d: unexpected verdict %+v", i, v)
			}
			flagged = true
		}
	}
	if !flagged {
		t.Fatal("identical positions were never flagged")
	}
}

func TestDetectorInvalidatesMatchAfterWarningLimit(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.WarningLimit = 3
	d := NewAutomationDetector(cfg)
	base := time.Now()

	d.Validate("p1", "sess", ActionSample{At: base})
	for i := 1; i <= 3; i++ {
		v := d.Validate("p1", "sess", ActionSample{At: base.Add(time.Duration(i) * 5 * time.Millisecond)})
		if v.Valid {
			t.Fatalf("burst sample %d should be flagged", i)
		}
	}

	if !d.ShouldInvalidateMatch("sess") {
		t.Fatalf("expected invalidation at %d warnings", d.WarningCount("sess"))
	}
	if d.ShouldInvalidateMatch("other-sess") {
		t.Fatal("unknown session must not be invalidated")
	}
}

func TestDetectorThrottlesReports(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.ReportInterval = time.Hour
	d := NewAutomationDetector(cfg)
	base := time.Now()

	d.Validate("p1", "sess", ActionSample{At: base})
	for i := 1; i <= 4; i++ {
		d.Validate("p1", "sess", ActionSample{At: base.Add(time.Duration(i) * 5 * time.Millisecond)})
	}

	// Four flags, one report: the rest fall inside the throttle interval.
	var reports []models.AbuseReport
	for {
		select {
		case r := <-d.Reports():
			reports = append(reports, r)
			continue
		default:
		}
		break
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 throttled report, got %d", len(reports))
	}
	r := reports[0]
	if r.PlayerID != "p1" || r.SessionID != "sess" || r.Reason != "min_interval" {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.ID == "" || r.FlaggedAt.IsZero() {
		t.Fatalf("report missing identity fields: %+v", r)
	}

	// Rejection itself is never throttled.
	if d.WarningCount("sess") != 4 {
		t.Fatalf("expected 4 warnings, got %d", d.WarningCount("sess"))
	}
}

func TestDetectorPrunesIdleSessions(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.SessionIdle = time.Minute
	d := NewAutomationDetector(cfg)
	base := time.Now()

	d.Validate("p1", "stale", ActionSample{At: base})
	d.Validate("p2", "fresh", ActionSample{At: base.Add(5 * time.Minute)})

	if pruned := d.PruneIdle(base.Add(5 * time.Minute)); pruned != 1 {
		t.Fatalf("expected 1 pruned session, got %d", pruned)
	}
	if d.ShouldInvalidateMatch("stale") {
		t.Fatal("pruned session state must be gone")
	}
}
