package app

import (
	"context"
	"fmt"
	"net/http"
	"errors"
	"strings"
	"time"

	"github.com/ayo6706/value-core/internal/api"
	"github.com/ayo6706/value-core/internal/api/middleware"
	"github.com/ayo6706/value-core/internal/config"
	"github.com/ayo6706/value-core/internal/db"
	"github.com/ayo6706/value-core/internal/events"
	"github.com/ayo6706/value-core/internal/gateway"
	"github.com/ayo6706/value-core/internal/idempotency"
	"github.com/ayo6706/value-core/internal/observability"
	"github.com/ayo6706/value-core/internal/pricing"
	"github.com/ayo6706/value-core/internal/repository"
	"github.com/ayo6706/value-core/internal/service"
	"github.com/ayo6706/value-core/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// providerGateway is what the services need from the provider: spends plus the catalog.
type providerGateway interface {
	gateway.Gateway
	gateway.Catalog
}

// Run bootstraps the HTTP server and settlement sweeper, blocking until ctx is
// cancelled or the server fails.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		applied, err := db.ApplyMigrations(ctx, pool, cfg.Database.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database migrations checked", zap.Strings("applied", applied))
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	schedule := pricing.DefaultSchedule()
	if cfg.CommissionScheduleFile != "" {
		schedule, err = pricing.LoadSchedule(cfg.CommissionScheduleFile)
		if err != nil {
			return fmt.Errorf("load commission schedule: %w", err)
		}
		logger.Info("commission schedule loaded", zap.String("file", cfg.CommissionScheduleFile))
	}
	calc := pricing.NewCalculator(schedule)

	var provider providerGateway
	switch cfg.Provider.Mode {
	case config.ProviderModeLive:
		provider = gateway.NewClient(gateway.Config{
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			AuthURL:      cfg.Provider.AuthURL,
			TopUpsURL:    cfg.Provider.TopUpsURL,
			GiftCardsURL: cfg.Provider.GiftCardsURL,
			Timeout:      cfg.Provider.Timeout,
		}, gateway.NewRedisTokenCache(redisClient), nil)
	default:
		provider = gateway.NewMockGateway()
	}
	logger.Info("provider gateway configured", zap.String("mode", cfg.Provider.Mode))

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.SettlementTopic)
		logger.Info("settlement events publishing to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.SettlementTopic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher failed", zap.Error(err))
		}
	}()

	store := repository.NewStore(pool)
	ledgers := repository.DefaultSources(pool)
	sources := make([]service.BalanceSource, 0, len(ledgers))
	for _, l := range ledgers {
		sources = append(sources, l)
	}

	settlementSvc := service.NewSettlementService(store, calc, provider, publisher, service.SettlementConfig{
		ProviderTimeout:   cfg.Provider.Timeout,
		StaleAfter:        cfg.Settlement.StaleAfter,
		IdempotencyPrefix: cfg.Settlement.IdempotencyPrefix,
	})
	balanceSvc := service.NewBalanceService(sources, cfg.BalanceSourceTimeout)
	referralSvc := service.NewReferralService(store, service.ReferralConfig{
		BaseURL:                     cfg.Referral.BaseURL,
		CodePrefix:                  cfg.Referral.CodePrefix,
		DefaultReferrerRewardMicros: cfg.Referral.DefaultReferrerRewardMicros,
		DefaultRefereeRewardMicros:  cfg.Referral.DefaultRefereeRewardMicros,
	})
	webhookSvc := service.NewWebhookService(store, settlementSvc, cfg.Provider.WebhookSecret, cfg.Provider.WebhookSkipSignature)
	if cfg.Provider.WebhookSkipSignature {
		logger.Warn("provider webhook signature verification is disabled")
	}

	reconciler := service.NewReconciliationService(store, settlementSvc, cfg.Settlement.StaleAfter)
	sweeper := worker.NewSettlementSweeper(reconciler).
		WithInterval(cfg.Settlement.SweepInterval).
		WithBatchSize(cfg.Settlement.SweepBatchSize)
	stopSweeper := sweeper.Run(ctx)
	logger.Info("settlement sweeper started",
		zap.Duration("interval", cfg.Settlement.SweepInterval),
		zap.Int32("batch", cfg.Settlement.SweepBatchSize),
		zap.Duration("stale_after", cfg.Settlement.StaleAfter),
	)

	idemStore := idempotency.NewStore(redisClient, repository.New(pool), cfg.IdempotencyTTL)

	router := api.NewRouter(api.Deps{
		Config:      cfg,
		Logger:      logger,
		DB:          pool,
		Redis:       redisClient,
		Idempotency: idemStore,
		Settlements: settlementSvc,
		Balances:    balanceSvc,
		Referrals:   referralSvc,
		Webhooks:    webhookSvc,
		Catalog:     provider,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stopSweeper()
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping settlement sweeper")
	stopSweeper()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
