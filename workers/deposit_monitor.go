// workers/deposit_monitor.go
package workers

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quest-vault-service/models"
	"quest-vault-service/services"
	"quest-vault-service/utils"
)

// DepositMonitor marks a quest paid once its vault holds the full reward pool.
type DepositMonitor struct {
	db      *gorm.DB
	ledger  services.Ledger
	custody utils.KeyCustody
	logger  *zap.Logger
	metrics *services.Metrics
}

func NewDepositMonitor(db *gorm.DB, ledger services.Ledger, custody utils.KeyCustody, logger *zap.Logger, metrics *services.Metrics) *DepositMonitor {
	return &DepositMonitor{db: db, ledger: ledger, custody: custody, logger: logger, metrics: metrics}
}

func (m *DepositMonitor) Name() string { return "deposit-monitor" }

// Run checks every unpaid quest once. Per-quest failures are logged and retried next run.
func (m *DepositMonitor) Run(ctx context.Context) error {
	var quests []models.Quest
	if err := m.db.WithContext(ctx).Preload("Token").Where("is_paid = ?", false).Find(&quests).Error; err != nil {
		return fmt.Errorf("load unpaid quests: %w", err)
	}

	funded := 0
	for i := range quests {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := m.check(ctx, &quests[i])
		if err != nil {
			m.logger.Warn("[DEPOSIT] check skipped", zap.String("quest_id", quests[i].ID), zap.Error(err))
			continue
		}
		if ok {
			funded++
		}
	}
	m.logger.Info("[DEPOSIT] run finished", zap.Int("checked", len(quests)), zap.Int("funded", funded))
	return nil
}

func (m *DepositMonitor) check(ctx context.Context, quest *models.Quest) (bool, error) {
	vault, err := services.OpenVaultKey(ctx, m.custody, quest.VaultKey)
	if err != nil {
		return false, err
	}
	owner := vault.PublicKey()

	var balance uint64
	if quest.Token.IsNative() {
		balance, err = m.ledger.Balance(ctx, owner)
	} else {
		var mint solana.PublicKey
		mint, err = solana.PublicKeyFromBase58(*quest.Token.Address)
		if err != nil {
			return false, fmt.Errorf("parse mint %s: %w", *quest.Token.Address, err)
		}
		balance, err = m.ledger.TokenBalance(ctx, owner, mint)
	}
	if err != nil {
		return false, err
	}
	if balance < uint64(quest.RewardAmount) {
		return false, nil
	}

	marked := false
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Quest{}).
			Where("id = ? AND is_paid = ?", quest.ID, false).
			Update("is_paid", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		marked = true
		questID := quest.ID
		return tx.Create(&models.Transaction{
			UserID:   quest.UserID,
			TokenID:  quest.TokenID,
			QuestID:  &questID,
			Category: models.TransactionCategoryDeposit,
			Amount:   services.ToUIAmount(quest.RewardAmount, quest.Token.Decimals),
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	if marked {
		m.metrics.DepositConfirmed()
		m.logger.Info("[DEPOSIT] quest funded",
			zap.String("quest_id", quest.ID),
			zap.String("vault", owner.String()),
			zap.Uint64("balance", balance),
		)
	}
	return marked, nil
}
