// services/quest_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quest-vault-service/models"
	"quest-vault-service/utils"
)

// QuestService creates quests with their vaults and records participation.
type QuestService struct {
	DB      *gorm.DB
	Social  SocialVerifier
	Custody utils.KeyCustody
	Logger  *zap.Logger
	// CreationExpiry is how long a new quest may stay unfunded before cleanup removes it.
	CreationExpiry time.Duration
	Now            func() time.Time
}

func (s *QuestService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type CreateActionRequest struct {
	Action       models.QuestActionType `json:"action"`
	URL          string                 `json:"url"`
	RewardAmount decimal.Decimal        `json:"reward_amount"` // token units
	MaxCount     int                    `json:"max_count"`
}

type CreateQuestRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	TokenID     string                `json:"token_id"`
	EndDate     time.Time             `json:"end_date"`
	Actions     []CreateActionRequest `json:"actions"`
}

type CreatedQuest struct {
	QuestID           string          `json:"quest_id"`
	TotalRewardAmount int64           `json:"total_reward_amount"`
	UITotal           decimal.Decimal `json:"ui_total"`
	DepositAddress    string          `json:"deposit_address"`
	ExpiresAt         time.Time       `json:"expires_at"`
}

// CreateQuest validates the actions, generates a vault and stores the quest unfunded.
// The creator must fund DepositAddress with the total reward before ExpiresAt.
func (s *QuestService) CreateQuest(ctx context.Context, userID string, req CreateQuestRequest) (*CreatedQuest, error) {
	now := s.now()
	if len(req.Actions) == 0 {
		return nil, ErrNoActions
	}
	if !req.EndDate.After(now) {
		return nil, ErrEndDateInPast
	}
	for _, a := range req.Actions {
		if a.MaxCount <= 0 {
			return nil, ErrInvalidMaxCount
		}
	}

	var tok models.Token
	if err := s.DB.WithContext(ctx).First(&tok, "id = ?", req.TokenID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	var auth models.SocialAuth
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, models.SocialProviderTwitter).
		Take(&auth).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSocialAuthMissing
		}
		return nil, err
	}

	actions := make([]models.QuestAction, 0, len(req.Actions))
	var total int64
	for _, a := range req.Actions {
		platformID, err := s.resolveTarget(ctx, auth.AccessToken, a)
		if err != nil {
			return nil, err
		}
		amount, err := ToBaseUnits(a.RewardAmount, tok.Decimals)
		if err != nil {
			return nil, err
		}
		if total > math.MaxInt64-amount {
			return nil, fmt.Errorf("%w: reward total overflows", ErrInvalidRewardAmount)
		}
		total += amount
		actions = append(actions, models.QuestAction{
			Action:       a.Action,
			URL:          a.URL,
			PlatformID:   platformID,
			RewardAmount: amount,
			MaxCount:     a.MaxCount,
		})
	}

	blob, address, err := SealVaultKey(ctx, s.Custody)
	if err != nil {
		return nil, err
	}

	quest := models.Quest{
		Title:        req.Title,
		Slug:         slug.Make(req.Title),
		Description:  req.Description,
		RewardAmount: total,
		TokenID:      tok.ID,
		UserID:       userID,
		EndDate:      req.EndDate,
		ExpiresAt:    now.Add(s.CreationExpiry),
		VaultKey:     blob,
		VaultAddress: address.String(),
		Actions:      actions,
	}
	if err := s.DB.WithContext(ctx).Create(&quest).Error; err != nil {
		return nil, fmt.Errorf("create quest: %w", err)
	}

	s.Logger.Info("[QUEST] created",
		zap.String("quest_id", quest.ID),
		zap.String("vault", quest.VaultAddress),
		zap.Int64("reward", total),
		zap.String("token", tok.Symbol),
	)
	return &CreatedQuest{
		QuestID:           quest.ID,
		TotalRewardAmount: total,
		UITotal:           ToUIAmount(total, tok.Decimals),
		DepositAddress:    quest.VaultAddress,
		ExpiresAt:         quest.ExpiresAt,
	}, nil
}

func (s *QuestService) resolveTarget(ctx context.Context, accessToken string, a CreateActionRequest) (string, error) {
	switch a.Action {
	case models.QuestActionFollow:
		username, ok := ExtractUsername(a.URL)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrInvalidActionURL, a.URL)
		}
		id, err := s.Social.UserIDByUsername(ctx, accessToken, username)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidActionURL, a.URL, err)
		}
		return id, nil
	case models.QuestActionRepost:
		id, ok := ExtractTweetID(a.URL)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrInvalidActionURL, a.URL)
		}
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidActionType, a.Action)
	}
}

// JoinQuest records that userID participates. Join time decides priority for capped actions.
func (s *QuestService) JoinQuest(ctx context.Context, questID, userID string) (*models.UserJoinedQuest, error) {
	var quest models.Quest
	if err := s.DB.WithContext(ctx).First(&quest, "id = ?", questID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestNotFound
		}
		return nil, err
	}
	switch {
	case quest.IsEnded:
		return nil, ErrQuestEnded
	case !quest.IsPaid:
		return nil, ErrQuestNotPaid
	case !s.now().Before(quest.EndDate):
		return nil, ErrQuestClosed
	case quest.UserID == userID:
		return nil, ErrOwnQuest
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.UserJoinedQuest{}).
		Where("quest_id = ? AND user_id = ?", questID, userID).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrAlreadyJoined
	}

	join := models.UserJoinedQuest{QuestID: questID, UserID: userID}
	if err := s.DB.WithContext(ctx).Create(&join).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyJoined
		}
		return nil, err
	}
	s.Logger.Info("[QUEST] joined", zap.String("quest_id", questID), zap.String("user_id", userID))
	return &join, nil
}

// DeleteExpiredUnfunded removes quests that were never funded before ExpiresAt.
// Each quest goes in its own transaction; a quest funded meanwhile is kept.
func (s *QuestService) DeleteExpiredUnfunded(ctx context.Context) (int, error) {
	var quests []models.Quest
	if err := s.DB.WithContext(ctx).
		Where("expires_at < ? AND is_paid = ?", s.now(), false).
		Find(&quests).Error; err != nil {
		return 0, fmt.Errorf("load expired quests: %w", err)
	}

	deleted := 0
	for _, q := range quests {
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			actionIDs := tx.Model(&models.QuestAction{}).Select("id").Where("quest_id = ?", q.ID)
			if err := tx.Where("quest_action_id IN (?)", actionIDs).Delete(&models.UserCompletedQuestAction{}).Error; err != nil {
				return err
			}
			if err := tx.Where("quest_id = ?", q.ID).Delete(&models.UserJoinedQuest{}).Error; err != nil {
				return err
			}
			if err := tx.Where("quest_id = ?", q.ID).Delete(&models.QuestAction{}).Error; err != nil {
				return err
			}
			res := tx.Where("id = ? AND is_paid = ?", q.ID, false).Delete(&models.Quest{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrQuestBusy
			}
			return nil
		})
		if err != nil {
			s.Logger.Warn("[CLEANUP] quest kept", zap.String("quest_id", q.ID), zap.Error(err))
			continue
		}
		deleted++
		s.Logger.Info("[CLEANUP] deleted unfunded quest", zap.String("quest_id", q.ID), zap.String("vault", q.VaultAddress))
	}
	return deleted, nil
}
