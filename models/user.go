package models

import "time"

type SocialProvider string

const SocialProviderTwitter SocialProvider = "twitter"

// User holds only what settlement and payouts read. Profiles live elsewhere.
type User struct {
	Base
	Username      *string      `json:"username,omitempty"`
	WalletAddress *string      `json:"wallet_address,omitempty" gorm:"type:varchar(64)"`
	SocialAuths   []SocialAuth `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// SocialAuth links a user to a social platform account.
type SocialAuth struct {
	Base
	UserID       string         `json:"user_id" gorm:"type:uuid;not null;index"`
	Provider     SocialProvider `json:"provider" gorm:"type:varchar(16);not null"`
	PlatformID   *string        `json:"platform_id,omitempty"`
	AccessToken  string         `json:"-" gorm:"type:text;not null"`
	RefreshToken *string        `json:"-" gorm:"type:text"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty" gorm:"index"`
}
