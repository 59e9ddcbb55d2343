package services

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/unicode/norm"
)

// LeaderboardService keeps a Redis sorted-set ranking fed by every accepted
// action, with a display-name hash alongside. Purely a cache-tier feature:
// the board rebuilds organically from fresh play if Redis is flushed, so
// write failures are logged and dropped rather than retried.
type LeaderboardService struct {
	Cache *CacheService
	Board string // free-form board name, slugified into the key
}

func NewLeaderboardService(cache *CacheService, board string) *LeaderboardService {
	if board == "" {
		board = "taps"
	}
	return &LeaderboardService{Cache: cache, Board: board}
}

// LeaderboardRow is one ranked entry.
type LeaderboardRow struct {
	Rank        int64  `json:"rank"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name,omitempty"`
	Score       int64  `json:"score"`
}

// RecordScore adds delta to the player's board score.
func (s *LeaderboardService) RecordScore(ctx context.Context, playerID string, delta int64) {
	if delta <= 0 {
		return
	}
	if _, err := s.Cache.SortedSetIncr(ctx, LeaderboardKey(s.Board), float64(delta), playerID); err != nil {
		log.Printf("⚠️ [LEADERBOARD] ZINCRBY failed for %s: %v", playerID, err)
	}
}

// SetDisplayName stores the NFC-normalized display name for board rows.
func (s *LeaderboardService) SetDisplayName(ctx context.Context, playerID, name string) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return
	}
	if err := s.Cache.HashSet(ctx, LeaderboardNamesKey(), playerID, name); err != nil {
		log.Printf("⚠️ [LEADERBOARD] name write failed for %s: %v", playerID, err)
	}
}

// Top returns the highest-scored rows, rank starting at 1.
func (s *LeaderboardService) Top(ctx context.Context, limit int64) []LeaderboardRow {
	members, err := s.Cache.SortedSetTop(ctx, LeaderboardKey(s.Board), limit)
	if err != nil {
		log.Printf("⚠️ [LEADERBOARD] top query failed: %v", err)
		return nil
	}
	names := s.Cache.HashGetAll(ctx, LeaderboardNamesKey())
	rows := make([]LeaderboardRow, 0, len(members))
	for i, m := range members {
		rows = append(rows, LeaderboardRow{
			Rank:        int64(i + 1),
			PlayerID:    m.Member,
			DisplayName: names[m.Member],
			Score:       int64(m.Score),
		})
	}
	return rows
}

// PlayerRow returns the player's own rank and score.
func (s *LeaderboardService) PlayerRow(ctx context.Context, playerID string) (LeaderboardRow, bool) {
	rank, ok := s.Cache.SortedSetRank(ctx, LeaderboardKey(s.Board), playerID)
	if !ok {
		return LeaderboardRow{}, false
	}
	score, _ := s.Cache.SortedSetScore(ctx, LeaderboardKey(s.Board), playerID)
	name, _ := s.Cache.HashGet(ctx, LeaderboardNamesKey(), playerID)
	return LeaderboardRow{Rank: rank + 1, PlayerID: playerID, DisplayName: name, Score: int64(score)}, true
}

// --- HTTP handlers ---

// GetTop serves GET /leaderboard?limit=N.
func (s *LeaderboardService) GetTop(c *fiber.Ctx) error {
	limit := int64(25)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > 100 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid limit parameter"})
		}
		limit = n
	}
	rows := s.Top(c.Context(), limit)
	return c.JSON(fiber.Map{"board": s.Board, "entries": rows, "count": len(rows)})
}

// GetSelf serves GET /leaderboard/me for the authenticated player.
func (s *LeaderboardService) GetSelf(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	row, ok := s.PlayerRow(c.Context(), playerID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no score recorded yet"})
	}
	return c.JSON(row)
}

// SetName serves PUT /leaderboard/name.
func (s *LeaderboardService) SetName(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "display_name is required"})
	}
	s.SetDisplayName(c.Context(), playerID, req.DisplayName)
	return c.JSON(fiber.Map{"message": "OK"})
}
