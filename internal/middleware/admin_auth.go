package middleware

import (
	"net/http"

	"autopay-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminAuthMiddleware admits admin tokens, and callers from localhost or the admin IP whitelist
type AdminAuthMiddleware struct {
	logger    *logrus.Logger
	jwtSecret []byte
	trusted   *LocalhostOnly
}

// NewAdminAuthMiddleware creates an AdminAuthMiddleware; trusted may be nil to require a token always
func NewAdminAuthMiddleware(logger *logrus.Logger, jwtSecret string, trusted *LocalhostOnly) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		logger:    logger,
		jwtSecret: []byte(jwtSecret),
		trusted:   trusted,
	}
}

// RequireAdminAuth rejects requests that are neither trusted nor carry an admin token
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && a.trusted != nil && a.trusted.Allows(c) {
			c.Set("admin_username", "local")
			c.Set("admin_role", handlers.AdminRole)
			c.Next()
			return
		}

		tokenString, code, message := bearerToken(authHeader)
		if code != "" {
			a.logger.WithFields(logrus.Fields{
				"path":      c.Request.URL.Path,
				"method":    c.Request.Method,
				"client_ip": c.ClientIP(),
				"code":      code,
			}).Warn("Admin auth failed")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   message,
				"code":    code,
			})
			return
		}

		claims, err := handlers.ValidateAdminJWTToken(a.jwtSecret, tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("Admin auth failed - invalid token")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		if claims.Role != handlers.AdminRole {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"role":   claims.Role,
			}).Warn("Admin auth failed - insufficient permissions")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Insufficient permissions",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			return
		}

		c.Set("admin_username", claims.Username)
		c.Set("admin_role", claims.Role)
		c.Next()
	}
}
