package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"voice-recorder/internal/audit"
	"voice-recorder/internal/auth"
	"voice-recorder/internal/config"
	"voice-recorder/internal/httpapi"
	"voice-recorder/internal/metrics"
	"voice-recorder/internal/storage"
	"voice-recorder/internal/telephony"
)

type routeDeps struct {
	cfg       config.Config
	lifecycle telephony.CallLifecycle
	store     storage.Store
	redis     *redis.Client
	metrics   *metrics.Metrics
	adminAuth *auth.Manager
	limiter   *auth.IPRateLimiter
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	api := httpapi.Handlers{Store: d.store}
	if d.redis != nil {
		api.ReadyChecks = map[string]func(ctx context.Context) error{
			"redis": func(ctx context.Context) error { return d.redis.Ping(ctx).Err() },
		}
	}

	// public
	r.GET("/healthz", api.Healthz)
	r.GET("/readyz", api.Readyz)
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	// Provider webhooks. Signed when VONAGE_SIGNATURE_SECRET is set.
	{
		var verifier *telephony.SignatureVerifier
		if d.cfg.Vonage.SignatureSecret != "" {
			verifier = telephony.NewSignatureVerifier(d.cfg.Vonage.SignatureSecret, d.cfg.Vonage.APIKey)
		}
		hooks := r.Group("/", clientIP(), telephony.RequireSignedWebhook(verifier))
		telephony.WebhookHandler{
			Lifecycle: d.lifecycle,
			Observe:   d.metrics.Webhook,
		}.Register(hooks)
	}

	// Read-only admin API.
	if d.adminAuth != nil {
		api.Register(r, auth.RateLimit(d.limiter), auth.RequireAdminToken(d.adminAuth))
	}
}

// clientIP records the caller address for the anomaly journal.
func clientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
