// middleware/auth.go
package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// UserContextMiddleware requires the X-User-ID header set by the gateway and
// stores it in c.Locals("user_id").
func UserContextMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		if userID == "" {
			logger.Warn("[USER_CTX] X-User-ID missing on secured route", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID: request must come through the gateway with auth context",
			})
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

// UserID returns the caller set by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
