// handlers/quest_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"quest-vault-service/middleware"
	"quest-vault-service/services"
)

func SetupQuestRoutes(secured fiber.Router, quests *services.QuestService, logger *zap.Logger) {
	secured.Post("/quests", func(c *fiber.Ctx) error {
		var req services.CreateQuestRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		created, err := quests.CreateQuest(c.UserContext(), middleware.UserID(c), req)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	secured.Post("/quests/:id/join", func(c *fiber.Ctx) error {
		join, err := quests.JoinQuest(c.UserContext(), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.Status(fiber.StatusCreated).JSON(join)
	})
}
