// middleware/player_context.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlayerContextMiddleware extracts the player identity resolved upstream by
// the auth layer. The core never verifies wallets or sessions itself — it
// trusts the Gateway's X-Player-ID on secured routes.
func PlayerContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		playerID := c.Get("X-Player-ID")
		sessionID := c.Get("X-Session-ID")

		// 🔐 Player identity is mandatory on secured paths (/s/...)
		path := c.Path()
		if strings.HasPrefix(path, "/s/") && playerID == "" {
			log.Printf("❌ [PLAYER_CTX] X-Player-ID required but missing on secured route: %s", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Player-ID — request must come through gateway with auth context",
			})
		}

		c.Locals("player_id", playerID)
		c.Locals("session_id", sessionID)

		return c.Next()
	}
}
