package handlers

import (
	"net/http"

	"autopay-backend/internal/dto"
	"autopay-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PaymentHandler serves the user-facing payment endpoints
type PaymentHandler struct {
	payments *services.PaymentService
	logger   *logrus.Logger
}

// NewPaymentHandler creates a PaymentHandler
func NewPaymentHandler(payments *services.PaymentService, logger *logrus.Logger) *PaymentHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PaymentHandler{payments: payments, logger: logger}
}

// CreateIntentHandler POST /api/payments/intents
func (h *PaymentHandler) CreateIntentHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request body: " + err.Error(),
			"code":    "InvalidInput",
		})
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), services.CreateIntentInput{
		UserID:            userID,
		Method:            req.Method,
		ExpectedAmountUSD: req.AmountUSD,
		Currency:          req.Currency,
		ExpiryMinutes:     req.ExpiryMinutes,
		SenderEmail:       req.SenderEmail,
		TxHash:            req.TxHash,
		MessageID:         req.MessageID,
		ChatID:            req.ChatID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":       userID,
		"order_id":      intent.OrderID,
		"method":        intent.Method,
		"unique_amount": intent.UniqueAmount.StringFixed(2),
	}).Info("Payment request created")

	c.JSON(http.StatusCreated, dto.CreateIntentResponse{
		Success:      true,
		Intent:       dto.NewIntentResponse(intent),
		Instructions: h.payments.Instructions(intent),
	})
}

// VerifyIntentHandler POST /api/payments/intents/:id/verify
func (h *PaymentHandler) VerifyIntentHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := intentIDParam(c)
	if !ok {
		return
	}
	if _, err := h.payments.GetForUser(c.Request.Context(), id, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	result, err := h.payments.VerifyNow(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.VerifyIntentResponse{
		Success: result.OK,
		Message: result.Message,
		Kind:    string(result.Kind),
		Intent:  dto.NewIntentResponse(result.Intent),
	}
	if result.Credits != nil {
		resp.Credits = result.Credits.String()
	}
	if result.Deposit != nil {
		resp.TxID = result.Deposit.TxID
	}
	c.JSON(http.StatusOK, resp)
}

// CancelIntentHandler POST /api/payments/intents/:id/cancel
func (h *PaymentHandler) CancelIntentHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := intentIDParam(c)
	if !ok {
		return
	}
	var req dto.CancelIntentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid request body: " + err.Error(),
				"code":    "InvalidInput",
			})
			return
		}
	}
	if _, err := h.payments.GetForUser(c.Request.Context(), id, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	intent, err := h.payments.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"intent":  dto.NewIntentResponse(intent),
	})
}

// AttachTxHashHandler POST /api/payments/intents/:id/tx-hash
func (h *PaymentHandler) AttachTxHashHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := intentIDParam(c)
	if !ok {
		return
	}
	var req dto.AttachTxHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "tx_hash is required",
			"code":    "InvalidInput",
		})
		return
	}
	if _, err := h.payments.GetForUser(c.Request.Context(), id, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	intent, err := h.payments.AttachTxHash(c.Request.Context(), id, req.TxHash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"intent":  dto.NewIntentResponse(intent),
	})
}

// GetIntentHandler GET /api/payments/intents/:id
func (h *PaymentHandler) GetIntentHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := intentIDParam(c)
	if !ok {
		return
	}
	intent, err := h.payments.GetForUser(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"intent":  dto.NewIntentResponse(intent),
	})
}

// ListPendingHandler GET /api/payments/intents/pending
func (h *PaymentHandler) ListPendingHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	intents, err := h.payments.ListPending(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    dto.NewIntentResponses(intents),
		"count":   len(intents),
	})
}

// ListHistoryHandler GET /api/payments/intents?page=&size=
func (h *PaymentHandler) ListHistoryHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 20)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	intents, total, err := h.payments.ListHistory(c.Request.Context(), userID, page, size)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.PageResponse{
		Success:  true,
		Data:     dto.NewIntentResponses(intents),
		Total:    total,
		Page:     page,
		PageSize: size,
	})
}

// GetByOrderIDHandler GET /api/payments/orders/:order_id
func (h *PaymentHandler) GetByOrderIDHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	intent, err := h.payments.GetByOrderID(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if intent.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "payment request not found",
			"code":    "IntentNotFound",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"intent":  dto.NewIntentResponse(intent),
	})
}

// BalanceHandler GET /api/payments/balance
func (h *PaymentHandler) BalanceHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	balance, err := h.payments.Balance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user_id": userID,
		"balance": balance.String(),
	})
}
