package middleware

import (
	"net/http"
	"strings"

	"autopay-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthMiddleware authenticates users by the HS256 token of the upstream issuer
type AuthMiddleware struct {
	logger    *logrus.Logger
	jwtSecret []byte
}

// NewAuthMiddleware creates an AuthMiddleware
func NewAuthMiddleware(logger *logrus.Logger, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		logger:    logger,
		jwtSecret: []byte(jwtSecret),
	}
}

// bearerToken extracts the token of an Authorization header; on failure it
// returns the error code and message for the 401 body
func bearerToken(header string) (token, code, message string) {
	if header == "" {
		return "", "MISSING_AUTH_HEADER", "Authentication required"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "INVALID_AUTH_FORMAT", "Invalid authorization format, need Bearer token"
	}
	token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "EMPTY_TOKEN", "Empty token"
	}
	return token, "", ""
}

// RequireAuth rejects requests without a valid user token and stores the user id
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code, message := bearerToken(c.GetHeader("Authorization"))
		if code != "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"code":   code,
			}).Warn("User auth failed")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   message,
				"code":    code,
			})
			return
		}

		claims, err := handlers.ValidateUserToken(a.jwtSecret, tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("User auth failed - invalid token")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		c.Set(handlers.ContextUserIDKey, claims.UserID)
		if claims.Username != "" {
			c.Set("username", claims.Username)
		}

		a.logger.WithFields(logrus.Fields{
			"path":    c.Request.URL.Path,
			"method":  c.Request.Method,
			"user_id": claims.UserID,
		}).Debug("User authenticated")

		c.Next()
	}
}
