package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"game-state-sync/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreService is the durable-store adapter: the authoritative Postgres
// record behind the cache tier. It is read on cache miss and written
// synchronously on every accepted mutation, so the durable row is never more
// than one mutation behind the cache.
type StoreService struct {
	DB *gorm.DB
}

func NewStoreService(db *gorm.DB) *StoreService {
	return &StoreService{DB: db}
}

// LoadPlayer fetches the authoritative record, (nil, nil) when the player
// has no row yet.
func (s *StoreService) LoadPlayer(ctx context.Context, playerID string) (*models.PlayerState, error) {
	var state models.PlayerState
	err := s.DB.WithContext(ctx).First(&state, "player_id = ?", playerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SavePlayer upserts the full record by player id in one statement.
func (s *StoreService) SavePlayer(ctx context.Context, state *models.PlayerState) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"balance",
			"total_actions",
			"last_action_at",
			"cooldown_until",
			"streak_days",
			"last_streak_date",
			"boosts",
			"accrual",
			"updated_at",
		}),
	}).Create(state).Error
}

// --- Match rows ---

func (s *StoreService) CreateMatch(ctx context.Context, match *models.Match) error {
	return s.DB.WithContext(ctx).Create(match).Error
}

func (s *StoreService) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	var match models.Match
	err := s.DB.WithContext(ctx).First(&match, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (s *StoreService) SaveMatch(ctx context.Context, match *models.Match) error {
	return s.DB.WithContext(ctx).Save(match).Error
}

// ListMatchesPastDeadline returns in-progress matches whose game timer has
// elapsed, for the settlement sweep.
func (s *StoreService) ListMatchesPastDeadline(ctx context.Context, now time.Time, limit int) ([]models.Match, error) {
	var matches []models.Match
	err := s.DB.WithContext(ctx).
		Where("status = ? AND deadline_at IS NOT NULL AND deadline_at <= ?", models.MatchStatusInProgress, now).
		Order("deadline_at ASC").
		Limit(limit).
		Find(&matches).Error
	return matches, err
}

// ListMatchesForPlayer returns the player's recent matches, newest first,
// via jsonb containment on the participants column.
func (s *StoreService) ListMatchesForPlayer(ctx context.Context, playerID string, limit int) ([]models.Match, error) {
	probe, err := json.Marshal([]map[string]string{{"player_id": playerID}})
	if err != nil {
		return nil, err
	}
	var matches []models.Match
	err = s.DB.WithContext(ctx).
		Where("participants @> ?", string(probe)).
		Order("created_at DESC").
		Limit(limit).
		Find(&matches).Error
	return matches, err
}

// --- Pending payouts ---

func (s *StoreService) CreatePendingPayout(ctx context.Context, payout *models.PendingPayout) error {
	return s.DB.WithContext(ctx).Create(payout).Error
}

func (s *StoreService) ListUnpaidPayouts(ctx context.Context, limit int) ([]models.PendingPayout, error) {
	var payouts []models.PendingPayout
	err := s.DB.WithContext(ctx).
		Where("paid_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&payouts).Error
	return payouts, err
}

func (s *StoreService) SavePayout(ctx context.Context, payout *models.PendingPayout) error {
	return s.DB.WithContext(ctx).Save(payout).Error
}

// --- Abuse reports ---

func (s *StoreService) InsertAbuseReports(ctx context.Context, reports []models.AbuseReport) error {
	if len(reports) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Create(&reports).Error
}

func (s *StoreService) ListUnarchivedReports(ctx context.Context, before time.Time, limit int) ([]models.AbuseReport, error) {
	var reports []models.AbuseReport
	err := s.DB.WithContext(ctx).
		Where("archived = ? AND flagged_at < ?", false, before).
		Order("flagged_at ASC").
		Limit(limit).
		Find(&reports).Error
	return reports, err
}

func (s *StoreService) MarkReportsArchived(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).
		Model(&models.AbuseReport{}).
		Where("id IN ?", ids).
		Update("archived", true).Error
}
