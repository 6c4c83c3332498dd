// config/config.go
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	SocialBackendLive = "live"
	SocialBackendMock = "mock"
)

type Config struct {
	// Core
	DatabaseURL  string `env:"DATABASE_URL,required,notEmpty"`
	ServiceToken string `env:"SERVICE_TOKEN,required,notEmpty"` // Gateway → this service
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":5200"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Ledger
	SolanaRPCURL        string        `env:"SOLANA_RPC_URL,required,notEmpty"`
	AdminPrivateKey     string        `env:"ADMIN_PRIVATE_KEY,required,notEmpty"` // base58 treasury secret key
	SettlementDelay     time.Duration `env:"SETTLEMENT_DELAY" envDefault:"10s"`
	ConfirmPollInterval time.Duration `env:"CONFIRM_POLL_INTERVAL" envDefault:"2s"`

	// Key custody
	KMSAccessKeyID     string `env:"AWS_KMS_ACCESS_KEY_ID,required,notEmpty"`
	KMSSecretAccessKey string `env:"AWS_KMS_SECRET_ACCESS_KEY,required,notEmpty"`
	KMSRegion          string `env:"AWS_KMS_REGION,required,notEmpty"`
	KMSKeyID           string `env:"AWS_KMS_KEY_ID,required,notEmpty"`

	// Social platform
	SocialBackend       string `env:"SOCIAL_BACKEND" envDefault:"live"`
	RapidAPIKey         string `env:"RAPIDAPI_KEY"`
	RapidAPIBaseURL     string `env:"RAPIDAPI_BASE_URL" envDefault:"https://twitter154.p.rapidapi.com"`
	TwitterAPIBaseURL   string `env:"TWITTER_API_BASE_URL" envDefault:"https://api.twitter.com"`
	TwitterClientID     string `env:"TWITTER_CLIENT_ID"`
	TwitterClientSecret string `env:"TWITTER_CLIENT_SECRET"`

	// Schedules
	DepositCheckInterval time.Duration `env:"DEPOSIT_CHECK_INTERVAL" envDefault:"1m"`
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" envDefault:"1m"`
	VerificationInterval time.Duration `env:"VERIFICATION_INTERVAL" envDefault:"30m"`
	QuestCreationExpiry  time.Duration `env:"QUEST_CREATION_EXPIRY" envDefault:"24h"`

	// Optional: user and wallet mirror from the profile service
	SyncServiceURL   string        `env:"SYNC_SERVICE_URL"`
	SyncServiceToken string        `env:"SYNC_SERVICE_TOKEN"`
	UserSyncInterval time.Duration `env:"USER_SYNC_INTERVAL" envDefault:"1m"`

	// Optional: distributed locks
	RedisURL string `env:"REDIS_URL"`

	// Optional: settlement report archive (Cloudflare R2)
	R2AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	R2Bucket          string `env:"R2_BUCKET_NAME"`
}

// Load reads .env (if present) and the process environment.
// A missing required secret is an error; the process must not start without it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SocialBackend {
	case SocialBackendMock:
	case SocialBackendLive:
		var missing []string
		if c.RapidAPIKey == "" {
			missing = append(missing, "RAPIDAPI_KEY")
		}
		if c.TwitterClientID == "" {
			missing = append(missing, "TWITTER_CLIENT_ID")
		}
		if c.TwitterClientSecret == "" {
			missing = append(missing, "TWITTER_CLIENT_SECRET")
		}
		if len(missing) > 0 {
			return fmt.Errorf("parse config: live social backend requires %s", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("parse config: unknown SOCIAL_BACKEND %q", c.SocialBackend)
	}
	if c.SyncServiceURL != "" && c.SyncServiceToken == "" {
		return fmt.Errorf("parse config: SYNC_SERVICE_URL requires SYNC_SERVICE_TOKEN")
	}
	if c.SettlementDelay < 0 {
		return fmt.Errorf("parse config: SETTLEMENT_DELAY must not be negative")
	}
	return nil
}

func (c *Config) R2Enabled() bool {
	return c.R2Bucket != "" && c.R2AccountID != ""
}
