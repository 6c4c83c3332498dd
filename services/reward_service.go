// services/reward_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-vault-service/models"
)

type RewardService struct {
	DB      *gorm.DB
	Logger  *zap.Logger
	Metrics *Metrics
	Now     func() time.Time
}

func NewRewardService(db *gorm.DB, logger *zap.Logger, metrics *Metrics) *RewardService {
	return &RewardService{DB: db, Logger: logger, Metrics: metrics}
}

func (s *RewardService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Claim moves an unclaimed reward into the user's token balance.
// The is_claimed guard makes a second claim fail without touching the balance.
func (s *RewardService) Claim(ctx context.Context, userID, rewardID string) (*models.Reward, error) {
	var reward models.Reward
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&models.Reward{}).
			Where("id = ? AND user_id = ? AND is_claimed = ?", rewardID, userID, false).
			Updates(map[string]any{"is_claimed": true, "date_claimed": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing models.Reward
			if err := tx.Where("id = ? AND user_id = ?", rewardID, userID).Take(&existing).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrRewardNotFound
				}
				return err
			}
			return ErrRewardAlreadyClaimed
		}

		if err := tx.First(&reward, "id = ?", rewardID).Error; err != nil {
			return err
		}

		balance := models.UserTokenBalance{
			UserID:  userID,
			TokenID: reward.TokenID,
			Balance: reward.Amount,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "token_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("user_token_balances.balance + excluded.balance"),
				"updated_at": now,
			}),
		}).Create(&balance).Error
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.Claimed()
	s.Logger.Info("[CLAIM] reward claimed",
		zap.String("user_id", userID),
		zap.String("reward_id", rewardID),
		zap.Int64("amount", reward.Amount),
	)
	return &reward, nil
}

type ClaimableReward struct {
	ID            string          `json:"id"`
	Amount        int64           `json:"amount"`
	UIAmount      decimal.Decimal `json:"ui_amount" gorm:"-"`
	QuestActionID string          `json:"quest_action_id"`
	Action        string          `json:"action"`
	QuestID       string          `json:"quest_id"`
	QuestTitle    string          `json:"quest_title"`
	TokenID       string          `json:"token_id"`
	TokenSymbol   string          `json:"token_symbol"`
	TokenDecimals int             `json:"token_decimals"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ClaimableRewards lists the user's unclaimed rewards, newest first.
func (s *RewardService) ClaimableRewards(ctx context.Context, userID string) ([]ClaimableReward, error) {
	return s.scanUnclaimed(s.unclaimed(ctx, userID).Order("r.created_at DESC"))
}

// RewardsSince lists unclaimed rewards created after since, oldest first.
// The reward stream polls it with the newest CreatedAt it has sent.
func (s *RewardService) RewardsSince(ctx context.Context, userID string, since time.Time) ([]ClaimableReward, error) {
	return s.scanUnclaimed(s.unclaimed(ctx, userID).Where("r.created_at > ?", since).Order("r.created_at ASC"))
}

func (s *RewardService) unclaimed(ctx context.Context, userID string) *gorm.DB {
	return s.DB.WithContext(ctx).
		Table("rewards AS r").
		Select(`r.id, r.amount, r.quest_action_id, r.created_at, qa.action, q.id AS quest_id, q.title AS quest_title,
			t.id AS token_id, t.symbol AS token_symbol, t.decimals AS token_decimals`).
		Joins("JOIN quest_actions qa ON qa.id = r.quest_action_id").
		Joins("JOIN quests q ON q.id = qa.quest_id").
		Joins("JOIN tokens t ON t.id = r.token_id").
		Where("r.user_id = ? AND r.is_claimed = ?", userID, false)
}

func (s *RewardService) scanUnclaimed(query *gorm.DB) ([]ClaimableReward, error) {
	var out []ClaimableReward
	if err := query.Scan(&out).Error; err != nil {
		return nil, err
	}
	for i := range out {
		out[i].UIAmount = ToUIAmount(out[i].Amount, out[i].TokenDecimals)
	}
	return out, nil
}
