// handlers/match_routes.go
package handlers

import (
	"game-state-sync/middleware"
	"game-state-sync/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, matchService *services.MatchService, detector *services.AutomationDetector) {
	secured := app.Group("/s", middleware.PlayerContextMiddleware())

	secured.Post("/matches/queue", matchService.HandleJoinQueue)
	secured.Delete("/matches/queue", matchService.HandleLeaveQueue)
	secured.Get("/matches/queue", matchService.HandleQueueStatus)

	secured.Get("/matches", matchService.HandleListMatches)
	secured.Get("/matches/:id", matchService.HandleGetMatch)
	secured.Post("/matches/:id/accept", matchService.HandleAccept)
	secured.Post("/matches/:id/decline", matchService.HandleDecline)
	secured.Post("/matches/:id/cancel", matchService.HandleCancel)
	secured.Post("/matches/:id/score", matchService.HandleReportScore(detector))

	// EventSource can't set headers — the stream authenticates via query
	app.Get("/matches/:id/stream", middleware.SSEAuthMiddleware(), matchService.StreamMatchSSE)
}
