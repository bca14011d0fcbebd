package handlers

import (
	"context"
	"errors"
	"net/http"

	"autopay-backend/internal/dto"
	"autopay-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JobRunner runs a scheduler job on demand
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
}

// AdminPaymentHandler serves the operator endpoints
type AdminPaymentHandler struct {
	payments *services.PaymentService
	settings *services.SettingsService
	jobs     JobRunner
	logger   *logrus.Logger
}

// NewAdminPaymentHandler creates an AdminPaymentHandler; jobs may be nil
func NewAdminPaymentHandler(payments *services.PaymentService, settings *services.SettingsService, jobs JobRunner, logger *logrus.Logger) *AdminPaymentHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdminPaymentHandler{payments: payments, settings: settings, jobs: jobs, logger: logger}
}

// StatsHandler GET /api/admin/payments/stats
func (h *AdminPaymentHandler) StatsHandler(c *gin.Context) {
	stats, err := h.payments.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// GetSettingsHandler GET /api/admin/payments/settings
func (h *AdminPaymentHandler) GetSettingsHandler(c *gin.Context) {
	views, err := h.settings.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    views,
	})
}

// UpdateSettingsHandler PUT /api/admin/payments/settings
func (h *AdminPaymentHandler) UpdateSettingsHandler(c *gin.Context) {
	var req dto.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request body: " + err.Error(),
			"code":    "InvalidInput",
		})
		return
	}
	if err := h.settings.Update(c.Request.Context(), req.Settings); err != nil {
		respondError(c, h.logger, err)
		return
	}

	keys := make([]string, 0, len(req.Settings))
	for k := range req.Settings {
		keys = append(keys, k)
	}
	h.logger.WithFields(logrus.Fields{
		"admin": c.GetString("admin_username"),
		"keys":  keys,
	}).Info("Payment settings updated")

	views, err := h.settings.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    views,
	})
}

// TestSourceHandler POST /api/admin/payments/sources/:method/test
func (h *AdminPaymentHandler) TestSourceHandler(c *gin.Context) {
	method := c.Param("method")
	if err := h.payments.TestConnection(c.Request.Context(), method); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"method":  method,
		"message": "connection ok",
	})
}

// ManualCreditHandler POST /api/admin/payments/intents/:id/credit
func (h *AdminPaymentHandler) ManualCreditHandler(c *gin.Context) {
	id, ok := intentIDParam(c)
	if !ok {
		return
	}
	result, err := h.payments.ManualCredit(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"admin":    c.GetString("admin_username"),
		"order_id": result.Intent.OrderID,
		"applied":  result.Applied,
	}).Info("Manual credit by operator")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"credits": result.Credits.String(),
		"applied": result.Applied,
		"intent":  dto.NewIntentResponse(result.Intent),
	})
}

// GetOrderHandler GET /api/admin/payments/orders/:order_id
func (h *AdminPaymentHandler) GetOrderHandler(c *gin.Context) {
	intent, err := h.payments.GetByOrderID(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	match, err := h.payments.GetMatch(c.Request.Context(), intent.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"intent":  intent,
		"match":   match,
	})
}

// RunJobHandler POST /api/admin/payments/jobs/:name/run
func (h *AdminPaymentHandler) RunJobHandler(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "scheduler is not running",
		})
		return
	}
	name := c.Param("name")
	if err := h.jobs.RunNow(c.Request.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrUnknownJob) {
			status = http.StatusNotFound
		}
		h.logger.WithFields(logrus.Fields{"job": name}).WithError(err).Warn("Manual job run failed")
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job":     name,
	})
}
