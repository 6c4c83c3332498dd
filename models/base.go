// models/base.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base carries the id and timestamps shared by every table.
// Hard deletes only: completion rows are replaced wholesale and must free their unique keys.
type Base struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// MigrateModels lists every table in creation order.
var MigrateModels = []any{
	&Token{},
	&User{},
	&SocialAuth{},
	&Quest{},
	&QuestAction{},
	&UserJoinedQuest{},
	&UserCompletedQuestAction{},
	&Reward{},
	&UserTokenBalance{},
	&Transaction{},
	&VaultWithdrawal{},
}
