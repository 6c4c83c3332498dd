// models/token.go
package models

// Token is a payout asset. A nil Address means the network's native asset (SOL);
// otherwise Address is the SPL mint.
type Token struct {
	Base
	Address           *string `json:"address" gorm:"type:varchar(64);uniqueIndex"`
	Symbol            string  `json:"symbol" gorm:"not null"`
	Name              string  `json:"name" gorm:"not null"`
	Decimals          int     `json:"decimals" gorm:"not null"`
	ImageURL          *string `json:"image_url,omitempty"`
	WithdrawThreshold int64   `json:"withdraw_threshold" gorm:"not null;default:0"` // base units
}

func (t *Token) IsNative() bool {
	return t.Address == nil || *t.Address == ""
}
