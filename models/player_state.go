package models

import (
	"time"

	"gorm.io/gorm"
)

// Boost is a purchasable reward multiplier. Stored inside PlayerState.Boosts
// (JSONB) rather than its own table — boosts are read on every action and
// never queried independently.
type Boost struct {
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Magnitude float64    `json:"magnitude"` // reward multiplier, e.g. 2.0
}

// IsLive reports whether the boost applies at the given instant.
func (b Boost) IsLive(now time.Time) bool {
	if !b.Active {
		return false
	}
	if b.ExpiresAt != nil && !now.Before(*b.ExpiresAt) {
		return false
	}
	return true
}

// OfflineAccrual tracks passive earnings between sessions.
type OfflineAccrual struct {
	LastSettledAt *time.Time `json:"last_settled_at,omitempty"`
	RatePerHour   float64    `json:"rate_per_hour"`
	CapHours      float64    `json:"cap_hours"` // max accruable window
}

// PlayerState is the authoritative per-player game record. It lives in both
// tiers: cached as JSON in Redis under a bounded TTL, and upserted into
// Postgres on every accepted mutation. Balance is only ever mutated inside
// a StateService update — no other component writes it directly.
type PlayerState struct {
	PlayerID       string           `gorm:"primaryKey;not null" json:"player_id"`
	Balance        int64            `gorm:"default:0;check:balance >= 0" json:"balance"`
	TotalActions   int64            `gorm:"default:0" json:"total_actions"`
	LastActionAt   *time.Time       `json:"last_action_at,omitempty"`
	CooldownUntil  *time.Time       `json:"cooldown_until,omitempty"`
	StreakDays     int              `gorm:"default:0" json:"streak_days"`
	LastStreakDate *time.Time       `gorm:"type:date" json:"last_streak_date,omitempty"`
	Boosts         map[string]Boost `gorm:"serializer:json;type:jsonb" json:"boosts,omitempty"`
	Accrual        OfflineAccrual   `gorm:"serializer:json;type:jsonb" json:"offline_accrual"`

	Timestamps
}

// NewPlayerState returns the zero-valued record created on first access.
func NewPlayerState(playerID string) *PlayerState {
	return &PlayerState{
		PlayerID: playerID,
		Boosts:   map[string]Boost{},
	}
}

// Clone deep-copies the state so a transform can work on a scratch copy
// without aliasing the cached record.
func (p *PlayerState) Clone() *PlayerState {
	cp := *p
	cp.Boosts = make(map[string]Boost, len(p.Boosts))
	for id, b := range p.Boosts {
		cp.Boosts[id] = b
	}
	return &cp
}

// ActiveMultiplier folds every live boost into a single reward multiplier.
func (p *PlayerState) ActiveMultiplier(now time.Time) float64 {
	mult := 1.0
	for _, b := range p.Boosts {
		if b.IsLive(now) {
			mult *= b.Magnitude
		}
	}
	return mult
}

// OnCooldown reports whether the action cooldown is still running.
func (p *PlayerState) OnCooldown(now time.Time) bool {
	return p.CooldownUntil != nil && now.Before(*p.CooldownUntil)
}

// OfflineShadow is the client's local fallback mirror of PlayerState,
// reported back on reconnect. Counters merge additively (the shadow carries
// deltas earned offline), scalar fields are last-writer-wins by capture time.
type OfflineShadow struct {
	BalanceDelta int64      `json:"balance_delta"`
	ActionsDelta int64      `json:"actions_delta"`
	LastActionAt *time.Time `json:"last_action_at,omitempty"`
	CapturedAt   time.Time  `json:"captured_at"`
}

// MergeShadow reconciles an offline shadow into the authoritative state.
func (p *PlayerState) MergeShadow(s OfflineShadow) {
	if s.BalanceDelta > 0 {
		p.Balance += s.BalanceDelta
	}
	if s.ActionsDelta > 0 {
		p.TotalActions += s.ActionsDelta
	}
	if s.LastActionAt != nil && (p.LastActionAt == nil || s.LastActionAt.After(*p.LastActionAt)) {
		p.LastActionAt = s.LastActionAt
	}
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
