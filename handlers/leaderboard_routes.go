// handlers/leaderboard_routes.go
package handlers

import (
	"game-state-sync/middleware"
	"game-state-sync/services"

	"github.com/gofiber/fiber/v2"
)

func SetupLeaderboardRoutes(app *fiber.App, leaderboardService *services.LeaderboardService) {
	// 🔓 Public read — still behind the global Gateway auth
	app.Get("/leaderboard", leaderboardService.GetTop)

	secured := app.Group("/s", middleware.PlayerContextMiddleware())
	secured.Get("/leaderboard/me", leaderboardService.GetSelf)
	secured.Put("/leaderboard/name", leaderboardService.SetName)
}
