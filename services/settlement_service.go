// services/settlement_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-vault-service/models"
	"quest-vault-service/utils"
)

const settleLockTTL = 15 * time.Minute

// SettlementService withdraws a quest vault into the treasury, writes the reward
// ledger and marks the quest ended.
type SettlementService struct {
	DB       *gorm.DB
	Ledger   Ledger
	Pipeline *TransferPipeline
	Custody  utils.KeyCustody
	Treasury solana.PrivateKey
	Locker   utils.Locker
	Reports  utils.ReportStore // optional
	Logger   *zap.Logger
	Metrics  *Metrics
	Now      func() time.Time
}

func (s *SettlementService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Settle is safe to call repeatedly: an ended quest returns immediately and a
// confirmed vault withdrawal is never broadcast twice.
func (s *SettlementService) Settle(ctx context.Context, questID string) error {
	release, ok, err := s.Locker.TryLock(ctx, "settle:"+questID, settleLockTTL)
	if err != nil {
		return fmt.Errorf("lock quest: %w", err)
	}
	if !ok {
		return ErrQuestBusy
	}
	defer release()

	var quest models.Quest
	if err := s.DB.WithContext(ctx).Preload("Token").First(&quest, "id = ?", questID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrQuestNotFound
		}
		return err
	}
	if quest.IsEnded {
		return nil
	}
	if !quest.IsPaid {
		return ErrQuestNotPaid
	}
	if s.now().Before(quest.EndDate) {
		return ErrQuestNotEnded
	}

	vault, err := OpenVaultKey(ctx, s.Custody, quest.VaultKey)
	if err != nil {
		s.Metrics.Settlement("key_unrecoverable")
		s.Logger.Error("[SETTLE] vault key unrecoverable", zap.String("quest_id", quest.ID), zap.Error(err))
		return err
	}

	sig, err := s.withdrawVault(ctx, &quest, vault)
	if err != nil {
		s.Metrics.Settlement("withdrawal_failed")
		s.Logger.Error("[SETTLE] vault withdrawal failed", zap.String("quest_id", quest.ID), zap.Error(err))
		return err
	}

	rewards, settled, err := s.finalize(ctx, &quest, sig)
	if err != nil {
		s.Metrics.Settlement("finalize_failed")
		s.Logger.Error("[SETTLE] finalize failed", zap.String("quest_id", quest.ID), zap.Error(err))
		return err
	}
	if !settled {
		return nil
	}

	s.Metrics.Settlement("settled")
	s.Logger.Info("[SETTLE] quest settled",
		zap.String("quest_id", quest.ID),
		zap.String("signature", sig),
		zap.Int("rewards", len(rewards)),
	)
	s.archive(ctx, &quest, sig, rewards)
	return nil
}

// withdrawVault moves the reward pool to the treasury at most once per quest.
func (s *SettlementService) withdrawVault(ctx context.Context, quest *models.Quest, vault solana.PrivateKey) (string, error) {
	var record models.VaultWithdrawal
	err := s.DB.WithContext(ctx).Where("quest_id = ?", quest.ID).Take(&record).Error
	switch {
	case err == nil:
		resolved, err := s.resolvePrevious(ctx, &record)
		if err != nil || resolved {
			return record.Signature, err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", fmt.Errorf("load vault withdrawal: %w", err)
	}

	req, err := s.vaultTransfer(ctx, quest, vault)
	if err != nil {
		return "", err
	}
	req.OnSigned = func(sig solana.Signature, lastValid uint64) error {
		return s.recordPending(ctx, quest.ID, sig.String(), lastValid)
	}

	sig, err := s.Pipeline.Execute(ctx, req)
	if err != nil {
		return "", err
	}
	if err := s.DB.WithContext(ctx).Model(&models.VaultWithdrawal{}).
		Where("quest_id = ?", quest.ID).
		Update("status", models.VaultWithdrawalConfirmed).Error; err != nil {
		// The pending row resolves to confirmed through the signature status on the next attempt.
		s.Logger.Warn("[SETTLE] could not mark withdrawal confirmed", zap.String("quest_id", quest.ID), zap.Error(err))
	}
	return sig.String(), nil
}

// resolvePrevious reports true when an earlier withdrawal already landed. It returns
// ErrWithdrawalAwaitingFinality while an earlier broadcast may still land.
func (s *SettlementService) resolvePrevious(ctx context.Context, record *models.VaultWithdrawal) (bool, error) {
	if record.Status == models.VaultWithdrawalConfirmed {
		s.Logger.Info("[SETTLE] vault withdrawal already confirmed, skipping broadcast",
			zap.String("quest_id", record.QuestID),
			zap.String("signature", record.Signature),
		)
		return true, nil
	}

	sig, err := solana.SignatureFromBase58(record.Signature)
	if err != nil {
		return false, fmt.Errorf("parse recorded signature: %w", err)
	}
	state, err := s.Ledger.SignatureStatus(ctx, sig)
	if err != nil {
		return false, err
	}
	switch state {
	case SignatureConfirmed:
		if err := s.DB.WithContext(ctx).Model(record).Update("status", models.VaultWithdrawalConfirmed).Error; err != nil {
			return false, fmt.Errorf("mark withdrawal confirmed: %w", err)
		}
		return true, nil
	case SignatureFailed:
		return false, nil
	}

	height, err := s.Ledger.BlockHeight(ctx)
	if err != nil {
		return false, err
	}
	if height <= record.LastValidBlockHeight {
		return false, fmt.Errorf("%w: %s valid until height %d", ErrWithdrawalAwaitingFinality, record.Signature, record.LastValidBlockHeight)
	}
	s.Logger.Info("[SETTLE] previous withdrawal expired, rebuilding",
		zap.String("quest_id", record.QuestID),
		zap.String("signature", record.Signature),
	)
	return false, nil
}

func (s *SettlementService) recordPending(ctx context.Context, questID, sig string, lastValid uint64) error {
	row := models.VaultWithdrawal{
		QuestID:              questID,
		Signature:            sig,
		LastValidBlockHeight: lastValid,
		Status:               models.VaultWithdrawalPending,
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "quest_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"signature", "last_valid_block_height", "status", "updated_at"}),
	}).Create(&row).Error
}

func (s *SettlementService) vaultTransfer(ctx context.Context, quest *models.Quest, vault solana.PrivateKey) (TransferRequest, error) {
	vaultPK := vault.PublicKey()
	treasury := s.Treasury.PublicKey()
	amount := uint64(quest.RewardAmount)
	label := "quest " + quest.ID + " vault withdrawal"

	if quest.Token.IsNative() {
		balance, err := s.Ledger.Balance(ctx, vaultPK)
		if err != nil {
			return TransferRequest{}, err
		}
		if balance < amount {
			return TransferRequest{}, fmt.Errorf("%w: vault holds %d, reward is %d", ErrInsufficientVaultBalance, balance, amount)
		}
		return TransferRequest{
			Label:        label,
			Payer:        vault,
			Instructions: []solana.Instruction{system.NewTransferInstruction(amount, vaultPK, treasury).Build()},
			NativeSpend:  amount,
			Sponsor:      s.Treasury,
		}, nil
	}

	mint, err := solana.PublicKeyFromBase58(*quest.Token.Address)
	if err != nil {
		return TransferRequest{}, fmt.Errorf("parse mint %s: %w", *quest.Token.Address, err)
	}
	vaultATA, err := AssociatedTokenAddress(vaultPK, mint)
	if err != nil {
		return TransferRequest{}, err
	}
	treasuryATA, err := AssociatedTokenAddress(treasury, mint)
	if err != nil {
		return TransferRequest{}, err
	}

	balance, err := s.Ledger.TokenBalance(ctx, vaultPK, mint)
	if err != nil {
		return TransferRequest{}, err
	}
	if balance < amount {
		return TransferRequest{}, fmt.Errorf("%w: vault holds %d tokens, reward is %d", ErrInsufficientVaultBalance, balance, amount)
	}
	exists, err := s.Ledger.AccountExists(ctx, treasuryATA)
	if err != nil {
		return TransferRequest{}, err
	}
	if !exists {
		return TransferRequest{}, fmt.Errorf("%w: treasury %s", ErrMissingTokenAccount, treasuryATA)
	}

	return TransferRequest{
		Label:              label,
		Payer:              vault,
		Instructions:       []solana.Instruction{token.NewTransferInstruction(amount, vaultATA, treasuryATA, vaultPK, nil).Build()},
		Sponsor:            s.Treasury,
		CreatePayerAccount: true,
	}, nil
}

// finalize writes rewards, the settlement log entry and the ended flag in one transaction.
// settled is false when another process ended the quest first.
func (s *SettlementService) finalize(ctx context.Context, quest *models.Quest, sig string) ([]models.Reward, bool, error) {
	var rewards []models.Reward
	settled := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Quest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Actions").
			First(&locked, "id = ?", quest.ID).Error; err != nil {
			return err
		}
		if locked.IsEnded {
			return nil
		}

		for _, action := range locked.Actions {
			var completions []models.UserCompletedQuestAction
			if err := tx.Where("quest_action_id = ?", action.ID).
				Order("created_at ASC, id ASC").
				Find(&completions).Error; err != nil {
				return err
			}
			if len(completions) == 0 {
				continue
			}

			share, remainder := SplitReward(action.RewardAmount, len(completions))
			for _, c := range completions {
				reward := models.Reward{
					UserID:        c.UserID,
					QuestActionID: action.ID,
					TokenID:       locked.TokenID,
					Amount:        share,
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "user_id"}, {Name: "quest_action_id"}},
					DoNothing: true,
				}).Create(&reward).Error; err != nil {
					return fmt.Errorf("create reward: %w", err)
				}
				rewards = append(rewards, reward)
			}
			if remainder > 0 {
				s.Logger.Info("[SETTLE] remainder retained by treasury",
					zap.String("action_id", action.ID),
					zap.Int64("remainder", remainder),
				)
			}
		}

		hash := sig
		questID := locked.ID
		entry := models.Transaction{
			Hash:     &hash,
			UserID:   locked.UserID,
			TokenID:  locked.TokenID,
			QuestID:  &questID,
			Category: models.TransactionCategorySettlement,
			Amount:   ToUIAmount(locked.RewardAmount, quest.Token.Decimals),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("log settlement: %w", err)
		}

		res := tx.Model(&models.Quest{}).
			Where("id = ? AND is_ended = ?", locked.ID, false).
			Update("is_ended", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("quest %s ended concurrently", locked.ID)
		}
		settled = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rewards, settled, nil
}

type settlementReport struct {
	QuestID   string         `json:"quest_id"`
	Title     string         `json:"title"`
	Token     string         `json:"token"`
	Pool      int64          `json:"pool"`
	Signature string         `json:"signature"`
	SettledAt time.Time      `json:"settled_at"`
	Rewards   []reportReward `json:"rewards"`
}

type reportReward struct {
	UserID        string `json:"user_id"`
	QuestActionID string `json:"quest_action_id"`
	Amount        int64  `json:"amount"`
}

// archive uploads a settlement report. Failures are logged only; the quest is already settled.
func (s *SettlementService) archive(ctx context.Context, quest *models.Quest, sig string, rewards []models.Reward) {
	if s.Reports == nil {
		return
	}
	report := settlementReport{
		QuestID:   quest.ID,
		Title:     quest.Title,
		Token:     quest.Token.Symbol,
		Pool:      quest.RewardAmount,
		Signature: sig,
		SettledAt: s.now().UTC(),
		Rewards:   make([]reportReward, 0, len(rewards)),
	}
	for _, r := range rewards {
		report.Rewards = append(report.Rewards, reportReward{UserID: r.UserID, QuestActionID: r.QuestActionID, Amount: r.Amount})
	}
	body, err := json.Marshal(report)
	if err != nil {
		s.Logger.Warn("[SETTLE] encode report", zap.Error(err))
		return
	}
	if err := s.Reports.PutObject(ctx, ReportKey(quest), body, "application/json"); err != nil {
		s.Logger.Warn("[SETTLE] upload report", zap.String("quest_id", quest.ID), zap.Error(err))
	}
}

// ReportKey is the object key of a quest's settlement report.
func ReportKey(quest *models.Quest) string {
	name := quest.Slug
	if name == "" {
		name = slug.Make(quest.Title)
	}
	return fmt.Sprintf("settlements/%s-%s.json", name, quest.ID)
}
