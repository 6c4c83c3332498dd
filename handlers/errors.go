// handlers/errors.go
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"quest-vault-service/services"
)

var (
	notFound = []error{
		services.ErrQuestNotFound,
		services.ErrRewardNotFound,
		services.ErrTokenNotFound,
		services.ErrUserNotFound,
		services.ErrBalanceNotFound,
	}
	conflict = []error{
		services.ErrRewardAlreadyClaimed,
		services.ErrAlreadyJoined,
		services.ErrWithdrawalInFlight,
		services.ErrQuestBusy,
	}
	unprocessable = []error{
		services.ErrQuestEnded,
		services.ErrQuestNotPaid,
		services.ErrQuestNotEnded,
		services.ErrQuestClosed,
		services.ErrOwnQuest,
		services.ErrInvalidMaxCount,
		services.ErrEndDateInPast,
		services.ErrNoActions,
		services.ErrInvalidActionURL,
		services.ErrInvalidActionType,
		services.ErrInvalidRewardAmount,
		services.ErrInvalidAmount,
		services.ErrSocialAuthMissing,
		services.ErrWalletMissing,
		services.ErrBelowWithdrawThreshold,
		services.ErrInsufficientBalance,
	}
	unavailable = []error{
		services.ErrInsufficientTreasuryFunds,
		services.ErrInsufficientFeeFunds,
		services.ErrInsufficientPayerFunds,
		services.ErrTransferNotConfirmed,
	}
)

func statusFor(err error) int {
	matches := func(targets []error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
	switch {
	case matches(notFound):
		return fiber.StatusNotFound
	case matches(conflict):
		return fiber.StatusConflict
	case matches(unprocessable):
		return fiber.StatusUnprocessableEntity
	case matches(unavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError maps a service error to its status. Unexpected errors are logged and hidden.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		logger.Error("[HTTP] request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
