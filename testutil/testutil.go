// Package testutil holds the in-memory database and fakes shared by package tests.
package testutil

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quest-vault-service/models"
	"quest-vault-service/utils"
)

// NewDB opens a private in-memory database with every table migrated.
// The pool holds one connection, so code under test must use tx inside transactions.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.MigrateModels...))
	return db
}

// Custody flips bytes instead of calling KMS.
type Custody struct {
	FailDecrypt bool
}

func (c *Custody) Encrypt(_ context.Context, raw []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(flip(raw)), nil
}

func (c *Custody) Decrypt(_ context.Context, blob string) ([]byte, error) {
	if c.FailDecrypt {
		return nil, fmt.Errorf("%w: key disabled", utils.ErrKeyUnrecoverable)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: bad blob", utils.ErrKeyUnrecoverable)
	}
	return flip(raw), nil
}

func flip(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ 0xff
	}
	return out
}

// NativeToken creates a SOL token row.
func NativeToken(t *testing.T, db *gorm.DB) *models.Token {
	t.Helper()
	tok := &models.Token{Symbol: "SOL", Name: "Solana", Decimals: 9, WithdrawThreshold: 1_000_000}
	require.NoError(t, db.Create(tok).Error)
	return tok
}

// SPLToken creates a token row for mint.
func SPLToken(t *testing.T, db *gorm.DB, mint string) *models.Token {
	t.Helper()
	tok := &models.Token{Address: &mint, Symbol: "USDC", Name: "USD Coin", Decimals: 6, WithdrawThreshold: 5_000_000}
	require.NoError(t, db.Create(tok).Error)
	return tok
}

// User creates a user linked to platformID on twitter. An empty platformID creates no link.
func User(t *testing.T, db *gorm.DB, platformID string) *models.User {
	t.Helper()
	u := &models.User{}
	require.NoError(t, db.Create(u).Error)
	if platformID != "" {
		auth := &models.SocialAuth{
			UserID:      u.ID,
			Provider:    models.SocialProviderTwitter,
			PlatformID:  &platformID,
			AccessToken: "access-" + platformID,
		}
		require.NoError(t, db.Create(auth).Error)
	}
	return u
}
