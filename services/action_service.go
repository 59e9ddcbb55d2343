package services

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"game-state-sync/models"

	"github.com/gofiber/fiber/v2"
)

// BoostDef is one purchasable boost in the catalog.
type BoostDef struct {
	Cost      int64         `json:"cost"`
	Duration  time.Duration `json:"duration"`
	Magnitude float64       `json:"magnitude"`
}

// ActionConfig are the economy tunables, loaded from env in main.
type ActionConfig struct {
	BaseReward     int64         // per accepted tap, before multipliers
	ActionCooldown time.Duration // cooldown set after every accepted tap
	TapLimit       int           // sliding-window limit for tap input
	TapWindow      time.Duration
	CoarseLimit    int // fixed-window limit for coarse actions
	CoarseWindow   time.Duration
	DailyReward    int64   // base for the daily streak claim
	StreakStep     float64 // multiplier grows by this per streak day
	BoostCatalog   map[string]BoostDef
}

func DefaultActionConfig() ActionConfig {
	return ActionConfig{
		BaseReward:     100,
		ActionCooldown: 500 * time.Millisecond,
		TapLimit:       10,
		TapWindow:      time.Second,
		CoarseLimit:    5,
		CoarseWindow:   time.Minute,
		DailyReward:    200,
		StreakStep:     0.1,
		BoostCatalog: map[string]BoostDef{
			"double-taps": {Cost: 500, Duration: 10 * time.Minute, Magnitude: 2.0},
			"gold-rush":   {Cost: 2000, Duration: 2 * time.Minute, Magnitude: 5.0},
		},
	}
}

// StreakMultiplier is the reward multiplier earned by the daily streak:
// 1 + step per streak day (5 days at the default step = 1.5×).
func (c ActionConfig) StreakMultiplier(streakDays int) float64 {
	return 1 + c.StreakStep*float64(streakDays)
}

// ActionService is the thin action controller in front of the core: every
// player-initiated mutation enters through the per-actor queue, is gated by
// the automation detector and the rate limiter, and lands in the optimistic
// state updater. The HTTP handlers below only parse, call and map errors.
type ActionService struct {
	Queue         *ActorQueue
	TapLimiter    RateLimiter // sliding window: authoritative for tap input
	CoarseLimiter RateLimiter // fixed window: daily claim, boosts, merges
	Detector      *AutomationDetector
	State         *StateService
	Leaderboard   *LeaderboardService
	Cfg           ActionConfig
}

func NewActionService(queue *ActorQueue, cache *CacheService, detector *AutomationDetector, state *StateService, leaderboard *LeaderboardService, cfg ActionConfig) *ActionService {
	return &ActionService{
		Queue:         queue,
		TapLimiter:    &SlidingWindowLimiter{Cache: cache},
		CoarseLimiter: &FixedWindowLimiter{Cache: cache},
		Detector:      detector,
		State:         state,
		Leaderboard:   leaderboard,
		Cfg:           cfg,
	}
}

// TapResult is what an accepted tap earned.
type TapResult struct {
	Reward     int64               `json:"reward"`
	Multiplier float64             `json:"multiplier"`
	State      *models.PlayerState `json:"state"`
}

// PerformTap runs one click through the full gate chain. Called from inside
// the actor queue, so the load-transform-save below needs no extra lock.
func (s *ActionService) PerformTap(ctx context.Context, playerID, sessionID string, sample ActionSample) (*TapResult, error) {
	if verdict := s.Detector.Validate(playerID, sessionID, sample); !verdict.Valid {
		log.Printf("🚫 [ACTION] tap by %s flagged: %s (%s)", playerID, verdict.Reason, verdict.Severity)
		return nil, ErrValidationFailed
	}

	if res := s.TapLimiter.Allow(ctx, RateKey(playerID, "tap"), s.Cfg.TapLimit, s.Cfg.TapWindow); !res.Allowed {
		return nil, ErrRateLimited
	}

	var result TapResult
	state, err := s.State.UpdateState(ctx, playerID, func(st *models.PlayerState) error {
		now := time.Now()
		if st.OnCooldown(now) {
			return ErrCooldownActive
		}
		mult := s.Cfg.StreakMultiplier(st.StreakDays) * st.ActiveMultiplier(now)
		reward := int64(math.Round(float64(s.Cfg.BaseReward) * mult))

		st.Balance += reward
		st.TotalActions++
		st.LastActionAt = &now
		cooldown := now.Add(s.Cfg.ActionCooldown)
		st.CooldownUntil = &cooldown

		result.Reward = reward
		result.Multiplier = mult
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.State = state

	s.Leaderboard.RecordScore(ctx, playerID, result.Reward)
	return &result, nil
}

// ClaimDaily advances the consecutive-day streak and credits the daily
// reward. A gap of more than one calendar day resets the streak to 1.
func (s *ActionService) ClaimDaily(ctx context.Context, playerID string) (*models.PlayerState, error) {
	if res := s.CoarseLimiter.Allow(ctx, RateKey(playerID, "daily claim"), s.Cfg.CoarseLimit, s.Cfg.CoarseWindow); !res.Allowed {
		return nil, ErrRateLimited
	}
	return s.State.UpdateState(ctx, playerID, func(st *models.PlayerState) error {
		now := time.Now().UTC()
		today := now.Truncate(24 * time.Hour)
		if st.LastStreakDate != nil {
			last := st.LastStreakDate.UTC().Truncate(24 * time.Hour)
			switch {
			case last.Equal(today):
				return ErrCooldownActive // already claimed today
			case last.Equal(today.AddDate(0, 0, -1)):
				st.StreakDays++
			default:
				st.StreakDays = 1
			}
		} else {
			st.StreakDays = 1
		}
		st.LastStreakDate = &today
		reward := int64(math.Round(float64(s.Cfg.DailyReward) * s.Cfg.StreakMultiplier(st.StreakDays)))
		st.Balance += reward
		return nil
	})
}

// ActivateBoost buys a catalog boost out of the balance.
func (s *ActionService) ActivateBoost(ctx context.Context, playerID, boostID string) (*models.PlayerState, error) {
	def, ok := s.Cfg.BoostCatalog[boostID]
	if !ok {
		return nil, ErrUnknownBoost
	}
	return s.State.UpdateState(ctx, playerID, func(st *models.PlayerState) error {
		if st.Balance < def.Cost {
			return ErrInsufficientBalance
		}
		now := time.Now()
		expires := now.Add(def.Duration)
		st.Balance -= def.Cost
		st.Boosts[boostID] = models.Boost{Active: true, ExpiresAt: &expires, Magnitude: def.Magnitude}
		return nil
	})
}

// SettleOffline credits passive accrual for the capped time away.
func (s *ActionService) SettleOffline(ctx context.Context, playerID string) (int64, *models.PlayerState, error) {
	var earned int64
	state, err := s.State.UpdateState(ctx, playerID, func(st *models.PlayerState) error {
		now := time.Now()
		since := st.Accrual.LastSettledAt
		if since == nil {
			since = st.LastActionAt
		}
		if since == nil || st.Accrual.RatePerHour <= 0 {
			st.Accrual.LastSettledAt = &now
			return nil
		}
		hours := now.Sub(*since).Hours()
		if st.Accrual.CapHours > 0 && hours > st.Accrual.CapHours {
			hours = st.Accrual.CapHours
		}
		earned = int64(math.Floor(st.Accrual.RatePerHour * hours))
		st.Balance += earned
		st.Accrual.LastSettledAt = &now
		return nil
	})
	return earned, state, err
}

// MergeShadow reconciles a client's offline fallback mirror on reconnect.
func (s *ActionService) MergeShadow(ctx context.Context, playerID string, shadow models.OfflineShadow) (*models.PlayerState, error) {
	if res := s.CoarseLimiter.Allow(ctx, RateKey(playerID, "shadow merge"), s.Cfg.CoarseLimit, s.Cfg.CoarseWindow); !res.Allowed {
		return nil, ErrRateLimited
	}
	return s.State.UpdateState(ctx, playerID, func(st *models.PlayerState) error {
		st.MergeShadow(shadow)
		return nil
	})
}

// --- HTTP handlers ---

// HandleTap serves POST /s/actions/tap.
func (s *ActionService) HandleTap(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)

	var req struct {
		SessionID string   `json:"session_id"`
		X         *float64 `json:"x"`
		Y         *float64 `json:"y"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = playerID
	}
	sample := ActionSample{At: time.Now()}
	if req.X != nil && req.Y != nil {
		sample.X, sample.Y, sample.HasPos = *req.X, *req.Y, true
	}

	value, err := s.Queue.Enqueue(playerID, func() (any, error) {
		return s.PerformTap(c.Context(), playerID, sessionID, sample)
	})
	if err != nil {
		return s.respondActionError(c, err)
	}

	result := value.(*TapResult)
	return c.JSON(fiber.Map{
		"rewarded":   true,
		"reward":     result.Reward,
		"multiplier": result.Multiplier,
		"balance":    result.State.Balance,
		"state":      result.State,
	})
}

// HandleGetState serves GET /s/state.
func (s *ActionService) HandleGetState(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	state, err := s.State.GetState(c.Context(), playerID)
	if err != nil {
		log.Printf("❌ [ACTION] state read failed for %s: %v", playerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch state"})
	}
	return c.JSON(state)
}

// HandleClaimDaily serves POST /s/actions/daily.
func (s *ActionService) HandleClaimDaily(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	value, err := s.Queue.Enqueue(playerID, func() (any, error) {
		return s.ClaimDaily(c.Context(), playerID)
	})
	if err != nil {
		return s.respondActionError(c, err)
	}
	state := value.(*models.PlayerState)
	return c.JSON(fiber.Map{"rewarded": true, "streak_days": state.StreakDays, "balance": state.Balance})
}

// HandleActivateBoost serves POST /s/boosts/:id/activate.
func (s *ActionService) HandleActivateBoost(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	boostID := c.Params("id")
	if _, ok := s.Cfg.BoostCatalog[boostID]; !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown boost"})
	}
	value, err := s.Queue.Enqueue(playerID, func() (any, error) {
		return s.ActivateBoost(c.Context(), playerID, boostID)
	})
	if err != nil {
		return s.respondActionError(c, err)
	}
	state := value.(*models.PlayerState)
	return c.JSON(fiber.Map{"activated": boostID, "balance": state.Balance, "boosts": state.Boosts})
}

// HandleSettleOffline serves POST /s/actions/offline-settle.
func (s *ActionService) HandleSettleOffline(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	value, err := s.Queue.Enqueue(playerID, func() (any, error) {
		earned, state, err := s.SettleOffline(c.Context(), playerID)
		if err != nil {
			return nil, err
		}
		return fiber.Map{"earned": earned, "balance": state.Balance}, nil
	})
	if err != nil {
		return s.respondActionError(c, err)
	}
	return c.JSON(value)
}

// HandleMergeShadow serves POST /s/state/shadow-merge.
func (s *ActionService) HandleMergeShadow(c *fiber.Ctx) error {
	playerID := c.Locals("player_id").(string)
	var shadow models.OfflineShadow
	if err := c.BodyParser(&shadow); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	value, err := s.Queue.Enqueue(playerID, func() (any, error) {
		return s.MergeShadow(c.Context(), playerID, shadow)
	})
	if err != nil {
		return s.respondActionError(c, err)
	}
	state := value.(*models.PlayerState)
	return c.JSON(state)
}

// respondActionError maps the error taxonomy onto the HTTP surface.
// Rate-limit and cooldown rejections stay soft — 200 with rewarded:false.
// Validation failures get a generic rejection only: the response must not
// tell automation which heuristic caught it.
func (s *ActionService) respondActionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrRateLimited):
		return c.JSON(fiber.Map{"rewarded": false, "reason": "rate_limited"})
	case errors.Is(err, ErrCooldownActive):
		return c.JSON(fiber.Map{"rewarded": false, "reason": "cooldown"})
	case errors.Is(err, ErrValidationFailed):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "action rejected"})
	case errors.Is(err, ErrQueueTimeout):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "busy, try again"})
	case errors.Is(err, ErrInsufficientBalance):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "insufficient balance"})
	default:
		log.Printf("❌ [ACTION] unexpected failure: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
