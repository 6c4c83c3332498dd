// services/verification_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"quest-vault-service/models"
	"quest-vault-service/utils"
)

const verifyLockTTL = 10 * time.Minute

// QuestSettler closes out a quest whose end date has passed.
type QuestSettler interface {
	Settle(ctx context.Context, questID string) error
}

// VerificationService rebuilds completion records from the social platform.
type VerificationService struct {
	DB      *gorm.DB
	Social  SocialVerifier
	Settler QuestSettler
	Locker  utils.Locker
	Logger  *zap.Logger
	Metrics *Metrics
	Now     func() time.Time
}

func (s *VerificationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RunPass verifies every quest that is not ended. A failing quest is logged and skipped.
func (s *VerificationService) RunPass(ctx context.Context) error {
	var quests []models.Quest
	if err := s.DB.WithContext(ctx).Where("is_ended = ?", false).Order("created_at ASC").Find(&quests).Error; err != nil {
		return fmt.Errorf("load open quests: %w", err)
	}

	s.Logger.Info("[VERIFY] pass started", zap.Int("quests", len(quests)))
	for _, q := range quests {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.VerifyQuest(ctx, q.ID); err != nil {
			s.Logger.Error("[VERIFY] quest skipped", zap.String("quest_id", q.ID), zap.Error(err))
		}
	}
	return nil
}

// VerifyQuest recomputes completions for every action of the quest and settles it once its end date passed.
func (s *VerificationService) VerifyQuest(ctx context.Context, questID string) error {
	release, ok, err := s.Locker.TryLock(ctx, "verify:"+questID, verifyLockTTL)
	if err != nil {
		return fmt.Errorf("lock quest: %w", err)
	}
	if !ok {
		s.Logger.Info("[VERIFY] quest locked elsewhere, skipping", zap.String("quest_id", questID))
		return nil
	}
	defer release()

	var quest models.Quest
	if err := s.DB.WithContext(ctx).Preload("Actions").First(&quest, "id = ?", questID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrQuestNotFound
		}
		return err
	}
	if quest.IsEnded {
		return nil
	}

	var joins []models.UserJoinedQuest
	if err := s.DB.WithContext(ctx).
		Where("quest_id = ?", quest.ID).
		Order("created_at ASC, id ASC").
		Find(&joins).Error; err != nil {
		return fmt.Errorf("load joins: %w", err)
	}

	platformIDs, err := s.platformIDs(ctx, joins)
	if err != nil {
		return err
	}

	verdicts := make(map[string][]string, len(quest.Actions))
	for _, action := range quest.Actions {
		verdicts[action.ID] = s.evaluate(ctx, action, joins, platformIDs)
	}

	written := 0
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, action := range quest.Actions {
			if err := tx.Where("quest_action_id = ?", action.ID).Delete(&models.UserCompletedQuestAction{}).Error; err != nil {
				return fmt.Errorf("clear completions of %s: %w", action.ID, err)
			}
			users := verdicts[action.ID]
			if len(users) == 0 {
				continue
			}
			rows := make([]models.UserCompletedQuestAction, 0, len(users))
			for _, userID := range users {
				rows = append(rows, models.UserCompletedQuestAction{UserID: userID, QuestActionID: action.ID})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("write completions of %s: %w", action.ID, err)
			}
			written += len(rows)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Metrics.CompletionsWritten(written)
	s.Logger.Info("[VERIFY] completions rebuilt",
		zap.String("quest_id", quest.ID),
		zap.Int("actions", len(quest.Actions)),
		zap.Int("completions", written),
	)

	if s.now().Before(quest.EndDate) {
		return nil
	}
	if !quest.IsPaid {
		s.Logger.Warn("[VERIFY] quest ended without funding, leaving it for cleanup", zap.String("quest_id", quest.ID))
		return nil
	}
	return s.Settler.Settle(ctx, quest.ID)
}

// evaluate walks joins in order and stops once MaxCount users are credited.
// A failed platform call counts as not completed for this pass.
func (s *VerificationService) evaluate(ctx context.Context, action models.QuestAction, joins []models.UserJoinedQuest, platformIDs map[string]string) []string {
	var completed []string
	for _, j := range joins {
		if len(completed) >= action.MaxCount {
			break
		}
		platformUserID, ok := platformIDs[j.UserID]
		if !ok {
			continue
		}

		var done bool
		var err error
		switch action.Action {
		case models.QuestActionFollow:
			done, err = s.Social.Follows(ctx, platformUserID, action.PlatformID)
		case models.QuestActionRepost:
			done, err = s.Social.Reposted(ctx, platformUserID, action.PlatformID)
		default:
			s.Logger.Warn("[VERIFY] unknown action type", zap.String("action_id", action.ID), zap.String("type", string(action.Action)))
			return nil
		}
		if err != nil {
			s.Logger.Warn("[VERIFY] platform check failed",
				zap.String("action_id", action.ID),
				zap.String("user_id", j.UserID),
				zap.Error(err),
			)
			continue
		}
		if done {
			completed = append(completed, j.UserID)
		}
	}
	return completed
}

func (s *VerificationService) platformIDs(ctx context.Context, joins []models.UserJoinedQuest) (map[string]string, error) {
	ids := make(map[string]string, len(joins))
	if len(joins) == 0 {
		return ids, nil
	}
	userIDs := make([]string, 0, len(joins))
	for _, j := range joins {
		userIDs = append(userIDs, j.UserID)
	}

	var auths []models.SocialAuth
	if err := s.DB.WithContext(ctx).
		Where("user_id IN ? AND provider = ? AND platform_id IS NOT NULL", userIDs, models.SocialProviderTwitter).
		Find(&auths).Error; err != nil {
		return nil, fmt.Errorf("load social auths: %w", err)
	}
	for _, a := range auths {
		if a.PlatformID != nil && *a.PlatformID != "" {
			ids[a.UserID] = *a.PlatformID
		}
	}
	return ids, nil
}
