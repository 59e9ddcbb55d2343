package models

import "time"

// AbuseSeverity grades a flagged action.
type AbuseSeverity string

const (
	AbuseSeverityWarning  AbuseSeverity = "warning"
	AbuseSeverityModerate AbuseSeverity = "moderate"
	AbuseSeveritySevere   AbuseSeverity = "severe"
)

// AbuseReport is one throttled automation-detector report. Flagged actions
// are always rejected from reward processing; reports are merely the audit
// trail, batched into Postgres and archived to object storage by a worker.
type AbuseReport struct {
	ID          string        `gorm:"primaryKey;type:uuid" json:"id"`
	PlayerID    string        `gorm:"index;not null" json:"player_id"`
	SessionID   string        `gorm:"index" json:"session_id"`
	Reason      string        `gorm:"type:varchar(64);not null" json:"reason"`
	Severity    AbuseSeverity `gorm:"type:varchar(16);not null" json:"severity"`
	Detail      string        `json:"detail,omitempty"`
	ActionCount int           `json:"action_count"` // samples in the session window at flag time
	FlaggedAt   time.Time     `gorm:"index;not null" json:"flagged_at"`
	Archived    bool          `gorm:"default:false;index" json:"archived"`

	Timestamps
}
