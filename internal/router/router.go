package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/handlers"
	"autopay-backend/internal/metrics"
	"autopay-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handlers groups the handlers mounted by SetupRouter
type Handlers struct {
	Payment   *handlers.PaymentHandler
	Admin     *handlers.AdminPaymentHandler
	AdminAuth *handlers.AdminAuthHandler
	WebSocket *handlers.WebSocketHandler
}

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Cache-Control, Accept"
)

// corsMiddleware answers preflights and sets CORS headers; an empty origin list allows all
func corsMiddleware(cfg config.CORSConfig, logger *logrus.Logger) gin.HandlerFunc {
	allowAll := len(cfg.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		case origin != "":
			logger.WithFields(logrus.Fields{
				"request_origin": origin,
				"path":           c.Request.URL.Path,
				"method":         c.Request.Method,
				"remote_addr":    c.ClientIP(),
			}).Warn("🚫 CORS: Origin not in whitelist")
		}

		c.Header("Access-Control-Allow-Methods", corsAllowMethods)
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Max-Age", maxAge)
		// credentials cannot be combined with the wildcard origin
		if cfg.AllowCredentials && !allowAll {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Next()
	}
}

// requestLogger logs each request and records it in the HTTP metrics
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())

		entry := logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request completed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request completed")
		default:
			entry.Debug("Request completed")
		}
	}
}

// SetupRouter builds the HTTP engine; db may be nil when the memory store is used
func SetupRouter(cfg *config.Config, db *gorm.DB, h Handlers, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.WithError(err).Warn("Invalid server.trustedProxies, ignoring forwarded headers")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware(cfg.CORS, logger))

	if len(cfg.Admin.AllowedIPs) > 0 {
		logger.WithFields(logrus.Fields{
			"allowed_ips": cfg.Admin.AllowedIPs,
			"count":       len(cfg.Admin.AllowedIPs),
		}).Info("Admin API IP whitelist configured")
	} else {
		logger.Info("No admin.allowedIPs configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, cfg.Admin.AllowedIPs)
	userAuth := middleware.NewAuthMiddleware(logger, cfg.Auth.JWTSecret)
	adminAuth := middleware.NewAdminAuthMiddleware(logger, cfg.Admin.JWTSecret, localhostOnly)

	// ============ Check ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", handlers.HealthCheckHandler)
	r.GET("/api/health", handlers.HealthCheckHandler)
	r.GET("/health/db", handlers.DatabaseHealthHandler(db))

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ Payments (user token) ============
	payments := r.Group("/api/payments")
	// the websocket handler authenticates from the query string itself
	payments.GET("/ws", h.WebSocket.HandleWebSocket)

	authed := payments.Group("", userAuth.RequireAuth())
	{
		authed.POST("/intents", h.Payment.CreateIntentHandler)
		authed.GET("/intents", h.Payment.ListHistoryHandler)
		authed.GET("/intents/pending", h.Payment.ListPendingHandler)
		authed.GET("/intents/:id", h.Payment.GetIntentHandler)
		authed.POST("/intents/:id/verify", h.Payment.VerifyIntentHandler)
		authed.POST("/intents/:id/cancel", h.Payment.CancelIntentHandler)
		authed.POST("/intents/:id/tx-hash", h.Payment.AttachTxHashHandler)
		authed.GET("/orders/:order_id", h.Payment.GetByOrderIDHandler)
		authed.GET("/balance", h.Payment.BalanceHandler)
		authed.GET("/ws/status", h.WebSocket.GetConnectionStatus)
	}

	// ============ Admin ============
	r.POST("/api/admin/login", h.AdminAuth.AdminLoginHandler)
	r.POST("/api/admin/totp/generate", localhostOnly.Restrict(), h.AdminAuth.GenerateTOTPSecretHandler)

	admin := r.Group("/api/admin/payments", adminAuth.RequireAdminAuth())
	{
		admin.GET("/stats", h.Admin.StatsHandler)
		admin.GET("/settings", h.Admin.GetSettingsHandler)
		admin.PUT("/settings", h.Admin.UpdateSettingsHandler)
		admin.POST("/sources/:method/test", h.Admin.TestSourceHandler)
		admin.POST("/intents/:id/credit", h.Admin.ManualCreditHandler)
		admin.GET("/orders/:order_id", h.Admin.GetOrderHandler)
		admin.POST("/jobs/:name/run", h.Admin.RunJobHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
