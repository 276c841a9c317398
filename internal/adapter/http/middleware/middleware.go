package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"credit-ledger/internal/core/ports"
	"credit-ledger/pkg/apperror"
	"credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Header names
	HeaderSignature = "X-Signature"
	HeaderEventID   = "X-Event-Id"
	HeaderRequestID = "X-Request-Id"

	// Provider event ids are remembered for three days
	eventClaimTTL = 72 * time.Hour

	// Context keys
	CtxOwnerID   = "owner_id"
	CtxRequestID = "request_id"
)

// RequestID tags every request with an id, reusing the caller's X-Request-Id when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.New().String()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// WebhookSignature verifies the payment bridge's HMAC-SHA256 signature over
// the raw body. Pipeline: Verify signature -> Claim event id -> Handle.
// A replayed event id is acknowledged without reaching the handler; a claim
// whose handler fails with a server error is released so the retry goes through.
func WebhookSignature(
	sigSvc ports.SignatureService,
	secret string,
	claims ports.ClaimStore,
	log zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader(HeaderSignature)
		if secret == "" || signature == "" {
			response.Error(c, apperror.ErrInvalidSignature())
			c.Abort()
			return
		}

		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Error(c, apperror.Validation("cannot read request body"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		if !sigSvc.Verify(secret, string(bodyBytes), signature) {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("payment webhook signature mismatch")
			response.Error(c, apperror.ErrInvalidSignature())
			c.Abort()
			return
		}

		eventID := c.GetHeader(HeaderEventID)
		if eventID == "" || claims == nil {
			c.Next()
			return
		}

		key := "payment_event:" + eventID
		isNew, err := claims.Claim(c.Request.Context(), key, eventClaimTTL)
		if err != nil {
			log.Warn().Err(err).Msg("event claim store error, processing anyway")
			c.Next()
			return
		}
		if !isNew {
			log.Info().Str("event_id", eventID).Msg("payment webhook replay ignored")
			response.OK(c, gin.H{"event_id": eventID, "duplicate": true})
			c.Abort()
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			if err := claims.Release(c.Request.Context(), key); err != nil {
				log.Warn().Err(err).Str("event_id", eventID).Msg("failed to release event claim")
			}
		}
	}
}

// JWTAuth validates bearer tokens issued by the account service and stores
// the owner id in the context.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenStr == "" {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			log.Debug().Err(err).Msg("bearer token rejected")
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		c.Set(CtxOwnerID, claims.OwnerID)
		c.Next()
	}
}

// OwnerID returns the authenticated owner id set by JWTAuth.
func OwnerID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxOwnerID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(CtxRequestID)).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString(CtxRequestID)).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
