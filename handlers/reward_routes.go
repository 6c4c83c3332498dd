// handlers/reward_routes.go
package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"quest-vault-service/middleware"
	"quest-vault-service/services"
)

// rewardStreamInterval is how often the stream polls for newly settled rewards.
var rewardStreamInterval = 2 * time.Second

func SetupRewardRoutes(secured fiber.Router, rewards *services.RewardService, logger *zap.Logger) {
	secured.Get("/rewards", func(c *fiber.Ctx) error {
		list, err := rewards.ClaimableRewards(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{"rewards": list})
	})

	secured.Get("/rewards/stream", func(c *fiber.Ctx) error {
		return streamRewards(c, rewards, logger)
	})

	secured.Post("/rewards/:id/claim", func(c *fiber.Ctx) error {
		reward, err := rewards.Claim(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(reward)
	})
}

// streamRewards pushes an SSE "reward" event for every reward settled after the
// stream opened. It ends when the client goes away.
func streamRewards(c *fiber.Ctx, rewards *services.RewardService, logger *zap.Logger) error {
	userID := middleware.UserID(c)
	ctx := c.UserContext()
	reqCtx := c.Context()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	since := time.Now().UTC()
	reqCtx.SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(rewardStreamInterval)
		defer ticker.Stop()

		_, _ = w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				fresh, err := rewards.RewardsSince(ctx, userID, since)
				if err != nil {
					logger.Warn("[SSE] reward query failed", zap.String("user_id", userID), zap.Error(err))
					continue
				}
				if len(fresh) == 0 {
					// keepalive; a failed flush means the client is gone
					_, _ = w.WriteString(":\n\n")
				}
				for _, r := range fresh {
					payload, _ := json.Marshal(r)
					fmt.Fprintf(w, "event: reward\ndata: %s\n\n", payload)
					since = r.CreatedAt
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-reqCtx.Done():
				return
			}
		}
	})
	return nil
}
