// middleware/gateway.go
package middleware

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware validates the Bearer token from the Gateway. The
// state service is never exposed directly; every request must carry the
// shared service token.
func GatewayAuthMiddleware() fiber.Handler {
	expectedToken := os.Getenv("STATE_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal("❌ STATE_SERVICE_TOKEN is not set — service cannot authenticate Gateway")
	}

	return func(c *fiber.Ctx) error {
		// EventSource cannot set headers. The match stream endpoint carries
		// the same token as a query param instead, checked by SSEAuthMiddleware.
		path := c.Path()
		if strings.HasPrefix(path, "/matches/") && strings.HasSuffix(path, "/stream") {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.Printf("🚫 [GATEWAY_AUTH] Missing Authorization header for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		// Parse "Bearer <token>", falling back to the raw header value
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if token != expectedToken {
			log.Printf("❌ [GATEWAY_AUTH] Invalid token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}
