package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/config"
	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/llm"
	"github.com/edelae/frepi/pkg/logging"
	"github.com/edelae/frepi/pkg/repositories"
	"github.com/edelae/frepi/pkg/services"
	"github.com/edelae/frepi/pkg/telegram"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("telegram_enabled", cfg.Telegram.Enabled),
		zap.Bool("heartbeat_enabled", cfg.Heartbeat.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Migrations failed", zap.String("error", logging.SanitizeError(err)))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	rdb, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.String("error", logging.SanitizeError(err)))
	}
	if rdb != nil {
		defer rdb.Close() //nolint:errcheck
	}

	// Repositories
	restaurants := repositories.NewRestaurantRepository(db)
	suppliers := repositories.NewSupplierRepository(db)
	catalog := repositories.NewCatalogRepository(db)
	mappings := repositories.NewMappingRepository(db)
	priceRecords := repositories.NewPriceRecordRepository(db)
	preferences := repositories.NewPreferenceRepository(db)
	queue := repositories.NewQueueRepository(db)
	orders := repositories.NewOrderRepository(db)
	engagementProfiles := repositories.NewEngagementRepository(db)
	sessions := repositories.NewSessionRepository(db)
	stagedSuppliers := repositories.NewStagedSupplierRepository(db)
	stagedProducts := repositories.NewStagedProductRepository(db)
	stagedPrices := repositories.NewStagedPriceRepository(db)
	stagedPrefs := repositories.NewStagedPreferenceRepository(db)
	photos := repositories.NewInvoicePhotoRepository(db)
	insights := repositories.NewInsightRepository(db)

	// LLM clients
	chatClient, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.String("error", logging.SanitizeError(err)))
	}
	embeddingClient, err := llm.NewEmbeddingClientFromConfig(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding client", zap.String("error", logging.SanitizeError(err)))
	}
	parser := llm.NewInvoiceParser(chatClient, cfg.LLM.MaxConcurrentVisionCalls, logger)

	// Services
	staging := services.NewStagingService(
		sessions, stagedSuppliers, stagedProducts, stagedPrices, stagedPrefs,
		photos, suppliers, logger,
	)
	analysis := services.NewAnalysisService(
		staging, sessions, stagedProducts, stagedSuppliers, stagedPrices, stagedPrefs,
		insights, cfg.Analysis, logger,
	)
	commits := services.NewCommitService(
		staging, sessions, stagedSuppliers, stagedProducts, stagedPrices, stagedPrefs,
		restaurants, suppliers, catalog, mappings, priceRecords, preferences, queue,
		engagementProfiles, embeddingClient, cfg.LLM.EmbeddingModel, logger,
	)
	engagement := services.NewEngagementService(engagementProfiles, logger)
	drip := services.NewDripService(queue, preferences, engagement, logger)
	identity := services.NewIdentityService(restaurants, suppliers, logger)
	agent := services.NewOnboardingAgent(
		chatClient, parser, staging, analysis, commits, sessions, stagedPrefs, logger,
	)
	store := services.NewConversationStore(rdb, time.Duration(cfg.Redis.TTLMinutes)*time.Minute, logger)

	if !cfg.Telegram.Enabled {
		logger.Info("Telegram disabled, nothing to serve")
		return
	}

	bot, err := telegram.NewBot(cfg.Telegram, store, identity, agent, drip, logger)
	if err != nil {
		logger.Fatal("Failed to create Telegram bot", zap.String("error", logging.SanitizeError(err)))
	}

	if cfg.Heartbeat.Enabled {
		heartbeat, err := services.NewHeartbeatService(
			cfg.Heartbeat, bot, restaurants, suppliers, catalog, orders,
			priceRecords, queue, sessions, engagement, logger,
		)
		if err != nil {
			logger.Fatal("Failed to create heartbeat service", zap.Error(err))
		}
		if err := heartbeat.Start(); err != nil {
			logger.Fatal("Failed to start heartbeat service", zap.Error(err))
		}
		defer heartbeat.Stop()
	}

	logger.Info("Starting frepi", zap.String("version", cfg.Version))
	if err := bot.Run(ctx); err != nil {
		logger.Fatal("Bot stopped", zap.String("error", logging.SanitizeError(err)))
	}
	logger.Info("Shutdown complete")
}

// runMigrations opens a short-lived database/sql connection for golang-migrate
// and applies any pending embedded migrations.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	return database.RunMigrations(db, logger)
}
