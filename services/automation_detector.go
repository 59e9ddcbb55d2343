package services

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"game-state-sync/models"

	"github.com/google/uuid"
)

// ActionSample is one input event as seen by the detector. Position is
// optional — the repetition check only runs when clients supply it.
type ActionSample struct {
	At     time.Time
	X, Y   float64
	HasPos bool
}

// ValidationResult is the detector's verdict for a single action.
type ValidationResult struct {
	Valid    bool
	Reason   string
	Severity models.AbuseSeverity
}

// DetectorConfig holds the heuristic thresholds.
type DetectorConfig struct {
	MinInterval      time.Duration // floor between consecutive actions
	MaxPerSecond     int           // ceiling on the trailing one-second window
	RegularityWindow int           // intervals examined by the CV check
	RegularityCV     float64       // CV below this means scripted timing
	PositionWindow   int           // samples examined by the repetition check
	MinDistinctRatio float64       // distinct-positions / total floor
	ReportInterval   time.Duration // at most one report per session per interval
	WarningLimit     int           // cumulative flags that void a match result
	SampleCap        int           // ring size per session
	SessionIdle      time.Duration // sessions idle this long are pruned
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinInterval:      40 * time.Millisecond,
		MaxPerSecond:     18,
		RegularityWindow: 10,
		RegularityCV:     0.05,
		PositionWindow:   30,
		MinDistinctRatio: 0.2,
		ReportInterval:   10 * time.Second,
		WarningLimit:     5,
		SampleCap:        64,
		SessionIdle:      10 * time.Minute,
	}
}

type detectorSession struct {
	playerID     string
	samples      []ActionSample // bounded ring, oldest first
	warnings     int
	lastReportAt time.Time
	lastSeen     time.Time
}

// AutomationDetector is the stateful, session-local heuristic gate in front
// of the state updater. It never leaves the process: the cross-process
// defences are the rate limiter and the queue. Flagged actions are always
// rejected from reward processing; the report channel is only the throttled
// audit feed drained by the abuse flush worker.
type AutomationDetector struct {
	mu       sync.Mutex
	cfg      DetectorConfig
	sessions map[string]*detectorSession
	reports  chan models.AbuseReport
}

func NewAutomationDetector(cfg DetectorConfig) *AutomationDetector {
	return &AutomationDetector{
		cfg:      cfg,
		sessions: make(map[string]*detectorSession),
		reports:  make(chan models.AbuseReport, 256),
	}
}

// Reports is the throttled audit feed of flagged activity.
func (d *AutomationDetector) Reports() <-chan models.AbuseReport {
	return d.reports
}

// Validate evaluates one action against every heuristic. Any single flag
// marks the action invalid; checks run in order of confidence and the first
// hit wins.
func (d *AutomationDetector) Validate(playerID, sessionID string, sample ActionSample) ValidationResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess := d.sessions[sessionID]
	if sess == nil {
		sess = &detectorSession{playerID: playerID}
		d.sessions[sessionID] = sess
	}
	sess.lastSeen = sample.At

	prev := lastSample(sess.samples)
	sess.samples = append(sess.samples, sample)
	if len(sess.samples) > d.cfg.SampleCap {
		sess.samples = sess.samples[len(sess.samples)-d.cfg.SampleCap:]
	}

	if prev != nil {
		if gap := sample.At.Sub(prev.At); gap < d.cfg.MinInterval {
			return d.flag(sess, sessionID, "min_interval", models.AbuseSeveritySevere,
				fmt.Sprintf("interval %s below floor %s", gap, d.cfg.MinInterval))
		}
	}

	if n := countSince(sess.samples, sample.At.Add(-time.Second)); n > d.cfg.MaxPerSecond {
		return d.flag(sess, sessionID, "rate_ceiling", models.AbuseSeverityModerate,
			fmt.Sprintf("%d actions in trailing second (max %d)", n, d.cfg.MaxPerSecond))
	}

	if cv, ok := intervalCV(sess.samples, d.cfg.RegularityWindow); ok && cv < d.cfg.RegularityCV {
		return d.flag(sess, sessionID, "interval_regularity", models.AbuseSeveritySevere,
			fmt.Sprintf("interval CV %.4f below %.4f over last %d actions", cv, d.cfg.RegularityCV, d.cfg.RegularityWindow))
	}

	if ratio, ok := distinctPositionRatio(sess.samples, d.cfg.PositionWindow); ok && ratio < d.cfg.MinDistinctRatio {
		return d.flag(sess, sessionID, "position_repetition", models.AbuseSeverityWarning,
			fmt.Sprintf("distinct position ratio %.3f below %.3f", ratio, d.cfg.MinDistinctRatio))
	}

	return ValidationResult{Valid: true}
}

// ShouldInvalidateMatch reports whether the session accumulated enough flags
// to void an entire match result, plausible final score or not.
func (d *AutomationDetector) ShouldInvalidateMatch(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess := d.sessions[sessionID]
	return sess != nil && sess.warnings >= d.cfg.WarningLimit
}

// WarningCount returns the session's cumulative flag count.
func (d *AutomationDetector) WarningCount(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sess := d.sessions[sessionID]; sess != nil {
		return sess.warnings
	}
	return 0
}

// PruneIdle drops sessions with no activity past the idle window. Called
// from the scheduler.
func (d *AutomationDetector) PruneIdle(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	pruned := 0
	for id, sess := range d.sessions {
		if now.Sub(sess.lastSeen) > d.cfg.SessionIdle {
			delete(d.sessions, id)
			pruned++
		}
	}
	return pruned
}

// flag records the warning and emits a throttled report. Rejection is
// unconditional; only the report cadence is limited.
func (d *AutomationDetector) flag(sess *detectorSession, sessionID, reason string, severity models.AbuseSeverity, detail string) ValidationResult {
	sess.warnings++

	now := sess.lastSeen
	if now.Sub(sess.lastReportAt) >= d.cfg.ReportInterval {
		sess.lastReportAt = now
		report := models.AbuseReport{
			ID:          uuid.NewString(),
			PlayerID:    sess.playerID,
			SessionID:   sessionID,
			Reason:      reason,
			Severity:    severity,
			Detail:      detail,
			ActionCount: len(sess.samples),
			FlaggedAt:   now,
		}
		select {
		case d.reports <- report:
		default:
			log.Printf("⚠️ [DETECTOR] report buffer full, dropping %s report for %s", reason, sess.playerID)
		}
	}

	return ValidationResult{Valid: false, Reason: reason, Severity: severity}
}

func lastSample(samples []ActionSample) *ActionSample {
	if len(samples) == 0 {
		return nil
	}
	return &samples[len(samples)-1]
}

func countSince(samples []ActionSample, cutoff time.Time) int {
	n := 0
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].At.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// intervalCV computes the coefficient of variation of the last `window`
// inter-action intervals. ok is false until enough samples accumulated.
func intervalCV(samples []ActionSample, window int) (float64, bool) {
	if len(samples) < window+1 {
		return 0, false
	}
	recent := samples[len(samples)-(window+1):]
	intervals := make([]float64, window)
	var sum float64
	for i := 1; i < len(recent); i++ {
		iv := recent[i].At.Sub(recent[i-1].At).Seconds()
		intervals[i-1] = iv
		sum += iv
	}
	mean := sum / float64(window)
	if mean <= 0 {
		return 0, true
	}
	var variance float64
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	variance /= float64(window)
	return math.Sqrt(variance) / mean, true
}

// distinctPositionRatio is distinct positions over total, across the trailing
// window of position-bearing samples. ok is false without position data or
// with too few samples to judge.
func distinctPositionRatio(samples []ActionSample, window int) (float64, bool) {
	start := 0
	if len(samples) > window {
		start = len(samples) - window
	}
	type cell struct{ x, y int }
	seen := map[cell]struct{}{}
	total := 0
	for _, s := range samples[start:] {
		if !s.HasPos {
			continue
		}
		total++
		seen[cell{int(math.Round(s.X)), int(math.Round(s.Y))}] = struct{}{}
	}
	if total < window/2 {
		return 0, false
	}
	return float64(len(seen)) / float64(total), true
}
