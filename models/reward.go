// models/reward.go
package models

import "time"

// Reward is one settlement ledger entry per (user, quest action).
// Only IsClaimed and DateClaimed change after creation.
type Reward struct {
	Base
	UserID        string      `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_reward_user_action;index"`
	QuestActionID string      `json:"quest_action_id" gorm:"type:uuid;not null;uniqueIndex:idx_reward_user_action"`
	QuestAction   QuestAction `json:"-" gorm:"foreignKey:QuestActionID"`
	TokenID       string      `json:"token_id" gorm:"type:uuid;not null"`
	Token         Token       `json:"-" gorm:"foreignKey:TokenID"`
	Amount        int64       `json:"amount" gorm:"not null"`
	IsClaimed     bool        `json:"is_claimed" gorm:"not null;default:false;index"`
	DateClaimed   *time.Time  `json:"date_claimed,omitempty"`
}

// UserTokenBalance is the claimed, not yet withdrawn balance of a user for a token.
type UserTokenBalance struct {
	Base
	UserID  string `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_balance_user_token"`
	TokenID string `json:"token_id" gorm:"type:uuid;not null;uniqueIndex:idx_balance_user_token"`
	Token   Token  `json:"-" gorm:"foreignKey:TokenID"`
	Balance int64  `json:"balance" gorm:"not null;default:0"`
}
