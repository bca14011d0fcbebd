package handlers

import (
	"context"
	"net/http"
	"time"

	"autopay-backend/internal/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthCheckHandler GET /health
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "autopay-backend",
	})
}

// DatabaseHealthHandler GET /health/db; a nil db means the in-memory store is in use
func DatabaseHealthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "memory"})
			return
		}
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			metrics.DBConnectionStatus.Set(0)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
			return
		}
		stats := sqlDB.Stats()
		metrics.DBConnectionStatus.Set(1)
		metrics.DBConnectionOpen.Set(float64(stats.OpenConnections))
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"database":         "postgres",
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
		})
	}
}
