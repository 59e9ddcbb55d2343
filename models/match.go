package models

import "time"

// MatchStatus is the lifecycle state of a 1v1 contest. Transitions are
// monotonic — there is no path back from a later state to an earlier one.
type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "pending"
	MatchStatusWaiting    MatchStatus = "waiting"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusDeclined   MatchStatus = "declined"
	MatchStatusCancelled  MatchStatus = "cancelled"
)

// matchTransitions enumerates every legal forward edge. Declined/cancelled
// are reachable only from pending/waiting.
var matchTransitions = map[MatchStatus][]MatchStatus{
	MatchStatusPending:    {MatchStatusWaiting, MatchStatusInProgress, MatchStatusDeclined, MatchStatusCancelled},
	MatchStatusWaiting:    {MatchStatusInProgress, MatchStatusDeclined, MatchStatusCancelled},
	MatchStatusInProgress: {MatchStatusCompleted},
}

// CanTransitionTo reports whether next is a legal forward step from s.
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	for _, allowed := range matchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s MatchStatus) Terminal() bool {
	return len(matchTransitions[s]) == 0
}

// MatchParticipant is one of the exactly two players fixed at creation.
type MatchParticipant struct {
	PlayerID     string `json:"player_id"`
	Score        int64  `json:"score"`
	Reported     bool   `json:"reported"`
	IsChallenger bool   `json:"is_challenger"`
}

// Match records a single 1v1 timed contest from creation to settlement.
// WinnerID is set if and only if the match completed with differing scores;
// a draw leaves it nil with Draw=true.
type Match struct {
	ID           string             `gorm:"primaryKey;type:uuid" json:"id"`
	Kind         string             `gorm:"type:varchar(16);default:'1v1'" json:"kind"`
	Status       MatchStatus        `gorm:"type:varchar(16);index;not null" json:"status"`
	Stake        int64              `gorm:"not null;check:stake > 0" json:"stake"`
	Participants []MatchParticipant `gorm:"serializer:json;type:jsonb" json:"participants"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	DeadlineAt   *time.Time         `gorm:"index" json:"deadline_at,omitempty"` // game-timer truth for settlement
	WinnerID     *string            `json:"winner_id,omitempty"`
	Draw         bool               `gorm:"default:false" json:"draw"`

	Timestamps
}

// Participant returns the entry for playerID, or nil if the player is not
// part of this match.
func (m *Match) Participant(playerID string) *MatchParticipant {
	for i := range m.Participants {
		if m.Participants[i].PlayerID == playerID {
			return &m.Participants[i]
		}
	}
	return nil
}

// Opponent returns the other participant's ID.
func (m *Match) Opponent(playerID string) string {
	for _, p := range m.Participants {
		if p.PlayerID != playerID {
			return p.PlayerID
		}
	}
	return ""
}

// BothReported reports whether every participant submitted a terminal score.
func (m *Match) BothReported() bool {
	for _, p := range m.Participants {
		if !p.Reported {
			return false
		}
	}
	return len(m.Participants) == 2
}

// QueueEntry mirrors one member of the Redis matchmaking sorted set for API
// responses. The set itself (scored by join time) is the source of truth.
type QueueEntry struct {
	PlayerID string    `json:"player_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// PendingPayout parks a settlement credit whose balance update failed after
// the match was already marked completed. Status is never rolled back; the
// payout is retried by a worker until it lands.
type PendingPayout struct {
	ID        string     `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID   string     `gorm:"index;not null" json:"match_id"`
	PlayerID  string     `gorm:"index;not null" json:"player_id"`
	Amount    int64      `gorm:"not null" json:"amount"`
	Attempts  int        `gorm:"default:0" json:"attempts"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	Timestamps
}
