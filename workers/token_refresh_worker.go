// workers/token_refresh_worker.go
package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"quest-vault-service/models"
	"quest-vault-service/services"
)

const refreshWindow = time.Hour

// TokenRefreshWorker renews social platform tokens that expire within the next hour.
type TokenRefreshWorker struct {
	db     *gorm.DB
	social services.SocialVerifier
	logger *zap.Logger
	now    func() time.Time
}

func NewTokenRefreshWorker(db *gorm.DB, social services.SocialVerifier, logger *zap.Logger) *TokenRefreshWorker {
	return &TokenRefreshWorker{db: db, social: social, logger: logger, now: time.Now}
}

func (w *TokenRefreshWorker) Name() string { return "token-refresh" }

func (w *TokenRefreshWorker) Run(ctx context.Context) error {
	now := w.now()
	var auths []models.SocialAuth
	if err := w.db.WithContext(ctx).
		Where("provider = ? AND refresh_token IS NOT NULL AND expires_at IS NOT NULL AND expires_at < ?",
			models.SocialProviderTwitter, now.Add(refreshWindow)).
		Find(&auths).Error; err != nil {
		return fmt.Errorf("load expiring auths: %w", err)
	}

	refreshed := 0
	for _, auth := range auths {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := w.social.RefreshToken(ctx, *auth.RefreshToken)
		if err != nil {
			w.logger.Warn("[REFRESH] token refresh failed", zap.String("user_id", auth.UserID), zap.Error(err))
			continue
		}

		expires := now.Add(time.Duration(tok.ExpiresIn) * time.Second)
		updates := map[string]any{
			"access_token": tok.AccessToken,
			"expires_at":   expires,
		}
		if tok.RefreshToken != "" {
			updates["refresh_token"] = tok.RefreshToken
		}
		if err := w.db.WithContext(ctx).Model(&models.SocialAuth{}).Where("id = ?", auth.ID).Updates(updates).Error; err != nil {
			w.logger.Warn("[REFRESH] store refreshed token", zap.String("user_id", auth.UserID), zap.Error(err))
			continue
		}
		refreshed++
	}
	if len(auths) > 0 {
		w.logger.Info("[REFRESH] run finished", zap.Int("expiring", len(auths)), zap.Int("refreshed", refreshed))
	}
	return nil
}
