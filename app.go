package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"quest-vault-service/config"
	"quest-vault-service/handlers"
	"quest-vault-service/middleware"
	"quest-vault-service/models"
	"quest-vault-service/services"
	"quest-vault-service/utils"
	"quest-vault-service/workers"
)

// deps holds everything the commands share.
type deps struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	registry *prometheus.Registry
	metrics  *services.Metrics
	ledger   services.Ledger
	custody  utils.KeyCustody

	quests       *services.QuestService
	verification *services.VerificationService
	settlement   *services.SettlementService
	rewards      *services.RewardService
	tokens       *services.TokenService
	social       services.SocialVerifier
}

func buildDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*deps, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(models.MigrateModels...); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	custody, err := utils.NewKMSCustody(ctx, cfg.KMSAccessKeyID, cfg.KMSSecretAccessKey, cfg.KMSRegion, cfg.KMSKeyID)
	if err != nil {
		return nil, err
	}

	treasury, err := services.ParseTreasuryKey(cfg.AdminPrivateKey)
	if err != nil {
		return nil, err
	}

	var locker utils.Locker = utils.NewMemoryLocker()
	if cfg.RedisURL != "" {
		locker = utils.NewRedisLocker(utils.MustRedis(cfg.RedisURL))
	}

	var reports utils.ReportStore
	if cfg.R2Enabled() {
		store, err := utils.NewR2Store(ctx, cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2AccessKeySecret, cfg.R2Bucket)
		if err != nil {
			return nil, err
		}
		reports = store
	}

	var social services.SocialVerifier
	if cfg.SocialBackend == config.SocialBackendMock {
		logger.Warn("[TWITTER] mock social backend enabled, every check is answered locally")
		social = services.NewMockSocial()
	} else {
		social = &services.TwitterClient{
			RapidAPIKey:  cfg.RapidAPIKey,
			RapidAPIBase: cfg.RapidAPIBaseURL,
			APIBase:      cfg.TwitterAPIBaseURL,
			ClientID:     cfg.TwitterClientID,
			ClientSecret: cfg.TwitterClientSecret,
			HTTPClient:   utils.HTTPClient,
			Logger:       logger,
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	ledger := services.NewSolanaLedger(cfg.SolanaRPCURL)
	pipeline := services.NewTransferPipeline(ledger, cfg.SettlementDelay, cfg.ConfirmPollInterval, logger, metrics)

	settlement := &services.SettlementService{
		DB:       db,
		Ledger:   ledger,
		Pipeline: pipeline,
		Custody:  custody,
		Treasury: treasury,
		Locker:   locker,
		Reports:  reports,
		Logger:   logger,
		Metrics:  metrics,
	}

	return &deps{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		registry: registry,
		metrics:  metrics,
		ledger:   ledger,
		custody:  custody,
		social:   social,
		quests: &services.QuestService{
			DB:             db,
			Social:         social,
			Custody:        custody,
			Logger:         logger,
			CreationExpiry: cfg.QuestCreationExpiry,
		},
		verification: &services.VerificationService{
			DB:      db,
			Social:  social,
			Settler: settlement,
			Locker:  locker,
			Logger:  logger,
			Metrics: metrics,
		},
		settlement: settlement,
		rewards:    services.NewRewardService(db, logger, metrics),
		tokens: &services.TokenService{
			DB:       db,
			Ledger:   ledger,
			Pipeline: pipeline,
			Treasury: treasury,
			Locker:   locker,
			Logger:   logger,
			Metrics:  metrics,
		},
	}, nil
}

func (d *deps) depositMonitor() *workers.DepositMonitor {
	return workers.NewDepositMonitor(d.db, d.ledger, d.custody, d.logger, d.metrics)
}

// scheduler registers the periodic jobs. Nothing runs until Start.
func (d *deps) scheduler(ctx context.Context) (*workers.Scheduler, error) {
	sched, err := workers.NewScheduler(ctx, d.logger)
	if err != nil {
		return nil, err
	}
	if err := sched.Every(d.cfg.DepositCheckInterval, d.depositMonitor()); err != nil {
		return nil, err
	}
	if err := sched.Every(d.cfg.TokenRefreshInterval, workers.NewTokenRefreshWorker(d.db, d.social, d.logger)); err != nil {
		return nil, err
	}
	if err := sched.Every(d.cfg.VerificationInterval, workers.NewVerificationWorker(d.verification)); err != nil {
		return nil, err
	}
	if d.cfg.SyncServiceURL != "" {
		userSync := workers.NewUserSyncWorker(d.db, d.cfg.SyncServiceURL, d.cfg.SyncServiceToken, utils.HTTPClient, d.logger)
		if err := sched.Every(d.cfg.UserSyncInterval, userSync); err != nil {
			return nil, err
		}
	}
	if err := sched.Daily(0, 0, workers.NewQuestCleanupWorker(d.quests, d.logger)); err != nil {
		return nil, err
	}
	return sched, nil
}

func (d *deps) httpApp() *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(recover.New())

	origins := make([]string, 0, len(d.cfg.AllowedOrigins))
	for _, o := range d.cfg.AllowedOrigins {
		origins = append(origins, strings.TrimSpace(o))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupOpsRoutes(app, d.db, d.registry)

	// 🔐 everything below comes through the gateway
	app.Use(middleware.GatewayAuthMiddleware(d.cfg.ServiceToken, d.logger))
	secured := app.Group("/s", middleware.UserContextMiddleware(d.logger))
	handlers.SetupQuestRoutes(secured, d.quests, d.logger)
	handlers.SetupRewardRoutes(secured, d.rewards, d.logger)
	handlers.SetupTokenRoutes(secured, d.tokens, d.logger)
	return app
}
