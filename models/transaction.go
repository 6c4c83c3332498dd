// models/transaction.go
package models

import "github.com/shopspring/decimal"

type TransactionCategory string

const (
	TransactionCategoryDeposit    TransactionCategory = "deposit"
	TransactionCategorySettlement TransactionCategory = "settlement"
	TransactionCategoryWithdraw   TransactionCategory = "withdraw"
)

// Transaction is an append-only log of ledger movements. Amount is in UI units.
type Transaction struct {
	Base
	Hash     *string             `json:"hash,omitempty" gorm:"type:varchar(128);uniqueIndex"`
	UserID   string              `json:"user_id" gorm:"type:uuid;not null;index"`
	TokenID  string              `json:"token_id" gorm:"type:uuid;not null"`
	QuestID  *string             `json:"quest_id,omitempty" gorm:"type:uuid;index"`
	Category TransactionCategory `json:"category" gorm:"type:varchar(16);not null"`
	Amount   decimal.Decimal     `json:"amount" gorm:"type:decimal(38,18);not null"`
}

type VaultWithdrawalStatus string

const (
	VaultWithdrawalPending   VaultWithdrawalStatus = "pending"
	VaultWithdrawalConfirmed VaultWithdrawalStatus = "confirmed"
)

// VaultWithdrawal is written before the vault → treasury transfer is broadcast so a
// settlement retried after a crash can find out whether the first attempt landed.
type VaultWithdrawal struct {
	Base
	QuestID              string                `json:"quest_id" gorm:"type:uuid;not null;uniqueIndex"`
	Signature            string                `json:"signature" gorm:"type:varchar(128);not null"`
	LastValidBlockHeight uint64                `json:"last_valid_block_height"`
	Status               VaultWithdrawalStatus `json:"status" gorm:"type:varchar(16);not null"`
}
