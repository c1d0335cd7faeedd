package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/owa-release/internal/api"
	"github.com/ayo6706/owa-release/internal/api/middleware"
	"github.com/ayo6706/owa-release/internal/banking"
	"github.com/ayo6706/owa-release/internal/config"
	"github.com/ayo6706/owa-release/internal/db"
	"github.com/ayo6706/owa-release/internal/idempotency"
	"github.com/ayo6706/owa-release/internal/kms"
	"github.com/ayo6706/owa-release/internal/observability"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/ayo6706/owa-release/internal/resilience"
	"github.com/ayo6706/owa-release/internal/service"
	"github.com/ayo6706/owa-release/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	services, err := buildServices(cfg, pool, logger)
	if err != nil {
		return err
	}

	reconWorker := worker.NewReconciliationWorker(services.Recon).
		WithInterval(cfg.ReconciliationInterval).
		WithBatchSize(cfg.ReconciliationBatchSize)
	integrityWorker := worker.NewIntegrityWorker(services.Ledger, services.Releases).
		WithPollInterval(cfg.IntegrityInterval).
		WithLookback(cfg.IntegrityLookback)
	stopRecon := reconWorker.Run(ctx)
	stopIntegrity := integrityWorker.Run(ctx)

	router := api.NewRouter(cfg, logger, pool, idemStore, redisClient, services)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopRecon()
	stopIntegrity()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// buildServices wires the domain services once at start: the KMS provider and
// banking registry are fixed for the life of the process.
func buildServices(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (api.Services, error) {
	signer, err := kms.New(cfg.KMS)
	if err != nil {
		return api.Services{}, fmt.Errorf("init kms: %w", err)
	}
	rails, err := banking.Build(cfg.Banking, logger)
	if err != nil {
		return api.Services{}, fmt.Errorf("init banking rails: %w", err)
	}
	logger.Info("providers selected",
		zap.String("kms", cfg.KMS.Provider),
		zap.String("kid", signer.KeyID()),
		zap.String("banking", cfg.Banking.Mode),
	)

	policy := resilience.DefaultPolicy(resilience.NewBreakers(resilience.DefaultBreakerConfig(), logger), logger)
	policy.Attempts = cfg.BankAttempts
	policy.BaseDelay = cfg.BankBaseDelay
	policy.MaxDelay = cfg.BankMaxDelay
	policy.CallTimeout = cfg.BankCallTimeout

	store := repository.NewStore(pool)
	ledger := service.NewLedgerService(store)
	return api.Services{
		Periods:      service.NewPeriodService(store, repository.NewRepository(pool)),
		Destinations: service.NewDestinationService(store),
		Issuer:       service.NewIssuerService(store, signer, cfg.RPTTTL),
		Releases:     service.NewReleaseService(store, signer, rails, policy, ledger, cfg.ReleaseStaleAfter),
		Ledger:       ledger,
		Deposits:     service.NewWebhookService(store, ledger, cfg.WebhookHMACKey, cfg.WebhookSkipSignature),
		Recon:        service.NewReconciliationService(store, cfg.MatchWindow),
		Evidence:     service.NewEvidenceService(store, ledger),
	}, nil
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
