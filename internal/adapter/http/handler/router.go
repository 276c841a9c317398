package handler

import (
	"credit-ledger/internal/adapter/http/middleware"
	"credit-ledger/internal/adapter/metrics"
	redisStore "credit-ledger/internal/adapter/storage/redis"
	"credit-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	BalanceSvc     ports.BalanceService
	AllocationSvc  ports.AllocationService
	TrackingSvc    ports.TrackingService
	PaymentSvc     ports.PaymentService
	SigSvc         ports.SignatureService
	ClaimStore     ports.ClaimStore
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Metrics        *metrics.Metrics // nil = no /metrics endpoint
	PaymentsSecret string
	TrackingRule   *middleware.RateLimitRule // overrides the default tracking limit
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	if deps.TrackingRule != nil && deps.TrackingRule.Limit > 0 {
		rules["tracking"] = *deps.TrackingRule
	}

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes ---
	trackingHandler := NewTrackingHandler(deps.TrackingSvc)
	v1.POST("/track/:broadcastId", rl("tracking"), trackingHandler.RecordView)

	// --- Payment bridge (HMAC-signed) ---
	paymentHandler := NewPaymentHandler(deps.PaymentSvc)
	v1.POST("/payments/webhook",
		rl("webhook"),
		middleware.WebhookSignature(deps.SigSvc, deps.PaymentsSecret, deps.ClaimStore, deps.Logger),
		paymentHandler.Webhook,
	)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	walletHandler := NewWalletHandler(deps.WalletSvc, deps.BalanceSvc)
	publicationHandler := NewPublicationHandler(deps.AllocationSvc)

	wallets := v1.Group("/wallets", jwtAuth)
	{
		wallets.POST("", rl("api"), walletHandler.Create)
		wallets.GET("/balance", rl("api"), walletHandler.GetBalances)
		wallets.POST("/topup", rl("api"), walletHandler.TopUp)
		wallets.GET("/transfers", rl("api"), walletHandler.ListTransfers)
	}

	authed := v1.Group("", jwtAuth)
	{
		authed.POST("/publications", rl("reserve"), publicationHandler.Reserve)
		authed.POST("/publications/:id/broadcasts", rl("api"), publicationHandler.FanOut)
		authed.GET("/campaigns/:id/publications", rl("api"), publicationHandler.ListPublications)
		authed.DELETE("/allocations/:id", rl("api"), publicationHandler.Release)
		authed.POST("/broadcasts/sent", rl("api"), publicationHandler.MarkSent)
	}

	return r
}
