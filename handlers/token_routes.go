// handlers/token_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"quest-vault-service/middleware"
	"quest-vault-service/services"
)

func SetupTokenRoutes(secured fiber.Router, tokens *services.TokenService, logger *zap.Logger) {
	secured.Get("/tokens/balances", func(c *fiber.Ctx) error {
		list, err := tokens.TokenBalances(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{"balances": list})
	})

	secured.Post("/tokens/:id/withdraw", func(c *fiber.Ctx) error {
		var req struct {
			Amount int64 `json:"amount"` // base units
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		res, err := tokens.Withdraw(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Amount)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(res)
	})
}
