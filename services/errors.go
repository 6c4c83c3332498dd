// services/errors.go
package services

import "errors"

// Caller-facing validation.
var (
	ErrQuestNotFound          = errors.New("quest not found")
	ErrQuestEnded             = errors.New("quest is ended")
	ErrQuestNotPaid           = errors.New("quest is not paid yet")
	ErrQuestNotEnded          = errors.New("quest end date has not passed")
	ErrQuestClosed            = errors.New("quest end date has passed")
	ErrOwnQuest               = errors.New("you cannot join your own quest")
	ErrAlreadyJoined          = errors.New("you have already joined this quest")
	ErrInvalidMaxCount        = errors.New("max count must be greater than 0")
	ErrEndDateInPast          = errors.New("end date must be in the future")
	ErrNoActions              = errors.New("quest needs at least one action")
	ErrTokenNotFound          = errors.New("token not found")
	ErrInvalidActionURL       = errors.New("invalid action url")
	ErrInvalidRewardAmount    = errors.New("invalid reward amount")
	ErrSocialAuthMissing      = errors.New("user has no linked twitter account")
	ErrUserNotFound           = errors.New("user not found")
	ErrRewardNotFound         = errors.New("reward not found")
	ErrRewardAlreadyClaimed   = errors.New("reward is already claimed")
	ErrWalletMissing          = errors.New("user wallet address not found")
	ErrBalanceNotFound        = errors.New("user token balance not found")
	ErrBelowWithdrawThreshold = errors.New("cannot withdraw below the token threshold")
	ErrInsufficientBalance    = errors.New("insufficient token balance")
	ErrWithdrawalInFlight     = errors.New("another withdrawal is in progress")
)

// Business-rule violations while moving funds on the ledger.
var (
	ErrInsufficientVaultBalance   = errors.New("insufficient vault balance")
	ErrInsufficientFeeFunds       = errors.New("insufficient funds to sponsor fee")
	ErrInsufficientTreasuryFunds  = errors.New("insufficient treasury balance")
	ErrMissingTokenAccount        = errors.New("token account not found")
	ErrTransferNotConfirmed       = errors.New("transaction not confirmed")
	ErrWithdrawalAwaitingFinality = errors.New("previous vault withdrawal still pending")
	ErrFeeUnavailable             = errors.New("fee estimate unavailable")
)

var ErrInsufficientPayerFunds = errors.New("payer balance below transfer amount")

var ErrQuestBusy = errors.New("quest is being processed by another worker")

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidActionType = errors.New("unknown quest action type")
)
