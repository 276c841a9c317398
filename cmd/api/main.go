package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-ledger/config"
	httpHandler "credit-ledger/internal/adapter/http/handler"
	"credit-ledger/internal/adapter/http/middleware"
	"credit-ledger/internal/adapter/metrics"
	"credit-ledger/internal/adapter/queue"
	pgStorage "credit-ledger/internal/adapter/storage/postgres"
	redisStorage "credit-ledger/internal/adapter/storage/redis"
	"credit-ledger/internal/core/ports"
	"credit-ledger/internal/service"
	"credit-ledger/pkg/logger"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Credit Ledger")

	ctx := context.Background()

	// Schema
	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(cfg.Database.MigrateURL(), log); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	allocationRepo := pgStorage.NewAllocationRepo(pool)
	publicationRepo := pgStorage.NewPublicationRepo(pool)
	campaignRepo := pgStorage.NewCampaignRepo(pool)
	viewRepo := pgStorage.NewViewRepo(pool)
	grantRepo := pgStorage.NewRewardGrantRepo(pool)
	paymentRepo := pgStorage.NewPaymentRepo(pool)
	balanceRepo := pgStorage.NewBalanceRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	claimStore := redisStorage.NewClaimStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)
	responseCache := redisStorage.NewResponseCache(rdb)

	// Event queue
	queueClient, err := queue.NewClient(cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect event queue")
	}
	defer queueClient.Close()
	events := queue.NewPublisher(queueClient, cfg.Queue.MaxRetry, log)

	ledgerMetrics := metrics.New()

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, time.Hour, cfg.JWT.Issuer)

	// Initialize business services
	balanceSvc := service.NewBalanceService(walletRepo, balanceRepo, log)
	walletSvc := service.NewWalletService(
		walletRepo,
		txRepo,
		responseCache,
		events,
		transactor,
		cfg.Ledger.StartingBalance,
		log,
	)
	allocationSvc := service.NewAllocationService(
		walletRepo,
		allocationRepo,
		publicationRepo,
		campaignRepo,
		balanceRepo,
		events,
		ledgerMetrics,
		transactor,
		cfg.Ledger.MinReward,
		log,
	)
	trackingSvc := service.NewTrackingService(publicationRepo, viewRepo, grantRepo, events, ledgerMetrics, transactor, log)
	settlementSvc := service.NewSettlementService(
		viewRepo,
		allocationRepo,
		grantRepo,
		txRepo,
		events,
		ledgerMetrics,
		transactor,
		cfg.Ledger.MinReward,
		log,
	)
	paymentSvc := service.NewPaymentService(paymentRepo, txRepo, walletRepo, events, transactor, log)
	notifierSvc := service.NewNotifierService(
		balanceSvc,
		sigSvc,
		&http.Client{Timeout: cfg.Notify.Timeout},
		cfg.Notify.URL,
		cfg.Notify.Secret,
		log,
	)
	sweepSvc := service.NewPendingSweepService(
		txRepo,
		grantRepo,
		events,
		ledgerMetrics,
		cfg.Ledger.PendingAlertAfter,
		cfg.Ledger.GrantRequeueAfter,
		log,
	)

	// Queue workers
	queueLog := logger.Component(log, "queue")
	queueSrv := queue.NewServer(cfg.Redis, cfg.Queue, queueLog)
	mux := asynq.NewServeMux()
	queue.NewConsumer(settlementSvc, paymentSvc, notifierSvc, queueLog).Register(mux)
	go func() {
		if err := queueSrv.Run(mux); err != nil {
			log.Fatal().Err(err).Msg("Queue server failed")
		}
	}()

	// Pending funding and grant sweep
	sweeper, err := service.ScheduleSweep(sweepSvc, cfg.Ledger.PendingSweepSchedule, time.Minute, logger.Component(log, "sweeper"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule pending sweep")
	}
	sweeper.Start()

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		BalanceSvc:     balanceSvc,
		AllocationSvc:  allocationSvc,
		TrackingSvc:    trackingSvc,
		PaymentSvc:     paymentSvc,
		SigSvc:         sigSvc,
		ClaimStore:     claimStore,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Metrics:        ledgerMetrics,
		PaymentsSecret: cfg.Payments.WebhookSecret,
		TrackingRule: &middleware.RateLimitRule{
			Limit:  cfg.Tracking.RateLimit,
			Window: cfg.Tracking.Window,
		},
		Logger: log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	<-sweeper.Stop().Done()
	queueSrv.Shutdown()

	log.Info().Msg("Server exited")
}
