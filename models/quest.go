// models/quest.go
package models

import "time"

type QuestActionType string

const (
	QuestActionFollow QuestActionType = "follow"
	QuestActionRepost QuestActionType = "repost"
)

// Quest is a time-bound campaign whose reward pool sits in its own custodial vault.
// IsPaid and IsEnded only ever move from false to true.
type Quest struct {
	Base
	Title        string    `json:"title" gorm:"not null"`
	Slug         string    `json:"slug" gorm:"index"`
	Description  string    `json:"description"`
	RewardAmount int64     `json:"reward_amount" gorm:"not null"` // base units
	TokenID      string    `json:"token_id" gorm:"type:uuid;not null;index"`
	Token        Token     `json:"token" gorm:"foreignKey:TokenID"`
	UserID       string    `json:"user_id" gorm:"type:uuid;not null;index"` // creator
	EndDate      time.Time `json:"end_date" gorm:"not null"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"not null;index"`
	IsPaid       bool      `json:"is_paid" gorm:"not null;default:false;index"`
	IsEnded      bool      `json:"is_ended" gorm:"not null;default:false;index"`

	// 🔐 Vault
	VaultKey     string `json:"-" gorm:"type:text;not null"` // base64 KMS ciphertext of the ed25519 secret key
	VaultAddress string `json:"vault_address" gorm:"type:varchar(64);not null"`

	Actions []QuestAction `json:"actions,omitempty" gorm:"foreignKey:QuestID;constraint:OnDelete:CASCADE"`
}

type QuestAction struct {
	Base
	QuestID      string          `json:"quest_id" gorm:"type:uuid;not null;index"`
	Action       QuestActionType `json:"action" gorm:"type:varchar(16);not null"`
	URL          string          `json:"url" gorm:"not null"`
	PlatformID   string          `json:"platform_id" gorm:"not null"` // account to follow or post to repost
	RewardAmount int64           `json:"reward_amount" gorm:"not null"`
	MaxCount     int             `json:"max_count" gorm:"not null;default:10"`
}

// UserJoinedQuest records participation. Join order decides who gets capped slots.
type UserJoinedQuest struct {
	Base
	UserID  string `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_quest"`
	QuestID string `json:"quest_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_quest;index"`
}

// UserCompletedQuestAction is derived state, rebuilt for an action on every verification pass.
type UserCompletedQuestAction struct {
	Base
	UserID        string `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_action"`
	QuestActionID string `json:"quest_action_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_action;index"`
}
