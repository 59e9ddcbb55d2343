// handlers/action_routes.go
package handlers

import (
	"game-state-sync/middleware"
	"game-state-sync/services"

	"github.com/gofiber/fiber/v2"
)

func SetupActionRoutes(app *fiber.App, actionService *services.ActionService) {
	// 🔐 Everything mutating player state requires player context
	secured := app.Group("/s", middleware.PlayerContextMiddleware())

	secured.Get("/state", actionService.HandleGetState)
	secured.Post("/state/shadow-merge", actionService.HandleMergeShadow)

	secured.Post("/actions/tap", actionService.HandleTap)
	secured.Post("/actions/daily", actionService.HandleClaimDaily)
	secured.Post("/actions/offline-settle", actionService.HandleSettleOffline)

	secured.Post("/boosts/:id/activate", actionService.HandleActivateBoost)
}
