// middleware/sse_auth.go
package middleware

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SSEAuthMiddleware authenticates the match stream endpoint. EventSource
// cannot set headers, so the gateway token and player id arrive as query
// params instead.
//
// Usage:
//
//	app.Get("/matches/:id/stream", middleware.SSEAuthMiddleware(), matchService.StreamMatchSSE)
func SSEAuthMiddleware() fiber.Handler {
	expectedToken := os.Getenv("STATE_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal("❌ STATE_SERVICE_TOKEN is not set — service cannot authenticate SSE clients")
	}

	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		playerID := strings.TrimSpace(c.Query("player_id"))

		if token == "" || playerID == "" {
			log.Printf("[SSEAuth] ❌ Missing query params on %s", c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or player_id in query",
			})
		}
		if token != expectedToken {
			log.Printf("[SSEAuth] ❌ Invalid token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals("player_id", playerID)
		return c.Next()
	}
}
