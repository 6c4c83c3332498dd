// workers/user_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-vault-service/models"
)

// remoteProfile is one row of the profile service's change feed.
type remoteProfile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	UpdatedAt time.Time `json:"updated_at"`
}

// remoteWallet is one row of the profile service's wallet feed.
type remoteWallet struct {
	UserID     string    `json:"user_id"`
	Chain      string    `json:"chain"`
	Address    string    `json:"address"`
	IsTreasury bool      `json:"is_treasury"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserSyncWorker mirrors users and their payout wallets from the profile service.
// Each feed keeps its own cursor, advanced only after a batch is stored.
// Cursors live in memory, so a restart resyncs both feeds from the beginning.
type UserSyncWorker struct {
	db           *gorm.DB
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	logger       *zap.Logger

	profilesSince time.Time
	walletsSince  time.Time
}

func NewUserSyncWorker(db *gorm.DB, baseURL, serviceToken string, httpClient *http.Client, logger *zap.Logger) *UserSyncWorker {
	return &UserSyncWorker{
		db:           db,
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   httpClient,
		logger:       logger,
	}
}

func (w *UserSyncWorker) Name() string { return "user-sync" }

func (w *UserSyncWorker) Run(ctx context.Context) error {
	if err := w.syncProfiles(ctx); err != nil {
		return err
	}
	return w.syncWallets(ctx)
}

func (w *UserSyncWorker) syncProfiles(ctx context.Context) error {
	var resp struct {
		Users []remoteProfile `json:"users"`
	}
	if err := w.fetch(ctx, "/api/v1/public/profiles", w.profilesSince, &resp); err != nil {
		return err
	}
	if len(resp.Users) == 0 {
		return nil
	}

	users := make([]models.User, 0, len(resp.Users))
	latest := w.profilesSince
	for _, p := range resp.Users {
		username := p.Username
		users = append(users, models.User{Base: models.Base{ID: p.ID}, Username: &username})
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
		}
	}
	if err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}).Create(&users).Error; err != nil {
		return fmt.Errorf("upsert %d user(s): %w", len(users), err)
	}

	w.profilesSince = latest
	w.logger.Info("[SYNC] users mirrored", zap.Int("count", len(users)), zap.Time("cursor", latest))
	return nil
}

func (w *UserSyncWorker) syncWallets(ctx context.Context) error {
	var resp struct {
		Wallets []remoteWallet `json:"wallets"`
	}
	if err := w.fetch(ctx, "/api/v1/public/wallets", w.walletsSince, &resp); err != nil {
		return err
	}

	latest := w.walletsSince
	applied := 0
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, wl := range resp.Wallets {
			if wl.UpdatedAt.After(latest) {
				latest = wl.UpdatedAt
			}
			if !strings.EqualFold(wl.Chain, "solana") || wl.IsTreasury {
				continue
			}
			var address any
			if wl.IsActive {
				address = wl.Address
			}
			query := tx.Model(&models.User{}).Where("id = ?", wl.UserID)
			if !wl.IsActive {
				// only clear the wallet that was deactivated
				query = query.Where("wallet_address = ?", wl.Address)
			}
			res := query.Update("wallet_address", address)
			if res.Error != nil {
				return res.Error
			}
			applied += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply wallet changes: %w", err)
	}

	w.walletsSince = latest
	if len(resp.Wallets) > 0 {
		w.logger.Info("[SYNC] wallets mirrored",
			zap.Int("received", len(resp.Wallets)),
			zap.Int("applied", applied),
			zap.Time("cursor", latest),
		)
	}
	return nil
}

func (w *UserSyncWorker) fetch(ctx context.Context, path string, since time.Time, out any) error {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(path)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call sync service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sync service returned %d for %s: %s", resp.StatusCode, path, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
