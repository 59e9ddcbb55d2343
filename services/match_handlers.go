package services

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
)

// HTTP surface of the match lifecycle. Handlers only parse, delegate and
// map the error taxonomy; every lifecycle rule lives in match_service.go.

// HandleJoinQueue serves POST /s/matches/queue.
func (s *MatchService) HandleJoinQueue(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)

	var req struct {
		Stake int64 `json:"stake"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	match, entry, err := s.JoinQueue(c.Context(), playerID, req.Stake)
	if err != nil {
		return s.respondMatchError(c, err)
	}
	if match != nil {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"matched": true, "match": match})
	}
	return c.JSON(fiber.Map{"matched": false, "queue_entry": entry})
}

// HandleLeaveQueue serves DELETE /s/matches/queue.
func (s *MatchService) HandleLeaveQueue(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	if err := s.LeaveQueue(c.Context(), playerID); err != nil {
		return s.respondMatchError(c, err)
	}
	return c.JSON(fiber.Map{"message": "left queue"})
}

// HandleQueueStatus serves GET /s/matches/queue.
func (s *MatchService) HandleQueueStatus(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	entry, queued := s.QueueStatus(c.Context(), playerID)
	if !queued {
		return c.JSON(fiber.Map{"queued": false})
	}
	return c.JSON(fiber.Map{"queued": true, "queue_entry": entry})
}

// HandleListMatches serves GET /s/matches — the player's match history.
func (s *MatchService) HandleListMatches(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	matches, err := s.ListMatches(c.Context(), playerID, c.QueryInt("limit", 20))
	if err != nil {
		return s.respondMatchError(c, err)
	}
	return c.JSON(fiber.Map{"matches": matches, "count": len(matches)})
}

// HandleGetMatch serves GET /s/matches/:id.
func (s *MatchService) HandleGetMatch(c *fiber.Ctx) error {
	match, err := s.GetMatch(c.Context(), c.Params("id"))
	if err != nil {
		return s.respondMatchError(c, err)
	}
	return c.JSON(match)
}

// HandleAccept serves POST /s/matches/:id/accept.
func (s *MatchService) HandleAccept(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	match, err := s.Accept(c.Context(), c.Params("id"), playerID)
	if err != nil {
		return s.respondMatchError(c, err)
	}
	return c.JSON(match)
}

// HandleDecline serves POST /s/matches/:id/decline.
func (s *MatchService) HandleDecline(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	match, err := s.Decline(c.Context(), c.Params("id"), playerID)
	if err != nil {
		return s.respondMatchError(c, err)
	}
	return c.JSON(match)
}

// HandleCancel serves POST /s/matches/:id/cancel.
func (s *MatchService) HandleCancel(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	match, err := s.Cancel(c.Context(), c.Params("id"), playerID)
	if err != nil {
		return s.respondMatchError(c, err)
	}
	return c.JSON(match)
}

// HandleReportScore serves POST /s/matches/:id/score. The detector verdict
// for the session is resolved here so the lifecycle itself stays free of
// detector wiring.
func (s *MatchService) HandleReportScore(detector *AutomationDetector) fiber.Handler {
	return func(c *fiber.Ctx) error {
		playerID := c.Locals("player_id").(string)

		var req struct {
			Score     int64  `json:"score"`
			SessionID string `json:"session_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = playerID
		}

		invalidated := detector.ShouldInvalidateMatch(sessionID)
		match, err := s.ReportScore(c.Context(), c.Params("id"), playerID, req.Score, invalidated)
		if err != nil {
			return s.respondMatchError(c, err)
		}
		return c.JSON(match)
	}
}

func (s *MatchService) respondMatchError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrMatchNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "match not found"})
	case errors.Is(err, ErrNotParticipant):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant"})
	case errors.Is(err, ErrAlreadyQueued):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already queued"})
	case errors.Is(err, ErrInsufficientBalance):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "insufficient balance for stake"})
	case errors.Is(err, ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "match is not in a state that allows this"})
	case errors.Is(err, ErrLockNotAcquired):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "matchmaking busy, try again"})
	default:
		log.Printf("❌ [MATCH] unexpected failure: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
