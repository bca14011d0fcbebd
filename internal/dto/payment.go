package dto

import (
	"time"

	"autopay-backend/internal/models"

	"github.com/shopspring/decimal"
)

// ==================== Payment DTOs ====================

// CreateIntentRequest is the body of POST /api/payments/intents
type CreateIntentRequest struct {
	Method        string          `json:"method" binding:"required"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	Currency      string          `json:"currency"`
	ExpiryMinutes int             `json:"expiry_minutes"`
	SenderEmail   string          `json:"sender_email"` // exchange_email only
	TxHash        string          `json:"tx_hash"`      // optional for chain methods
	MessageID     *int64          `json:"message_id"`
	ChatID        *int64          `json:"chat_id"`
}

// CancelIntentRequest is the optional body of the cancel endpoint
type CancelIntentRequest struct {
	Reason string `json:"reason"`
}

// AttachTxHashRequest is the body of the tx-hash endpoint
type AttachTxHashRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// UpdateSettingsRequest is the body of PUT /api/admin/payments/settings
type UpdateSettingsRequest struct {
	Settings map[string]string `json:"settings" binding:"required"`
}

// IntentResponse is the public view of a payment intent
type IntentResponse struct {
	ID                uint64              `json:"id"`
	OrderID           string              `json:"order_id"`
	Method            string              `json:"method"`
	Currency          string              `json:"currency"`
	Status            models.IntentStatus `json:"status"`
	ExpectedAmountUSD string              `json:"expected_amount_usd"`
	UniqueAmount      string              `json:"unique_amount"`
	AmountReceived    string              `json:"amount_received,omitempty"`
	PayTo             string              `json:"pay_to"`
	SenderEmail       string              `json:"sender_email,omitempty"`
	TxHash            string              `json:"tx_hash,omitempty"`
	ClaimedTxHash     string              `json:"claimed_tx_hash,omitempty"`
	ExpiresAt         time.Time           `json:"expires_at"`
	CreatedAt         time.Time           `json:"created_at"`
	MatchedAt         *time.Time          `json:"matched_at,omitempty"`
	CancelReason      string              `json:"cancel_reason,omitempty"`
}

// NewIntentResponse converts a stored intent to its public view
func NewIntentResponse(intent *models.PaymentIntent) *IntentResponse {
	if intent == nil {
		return nil
	}
	resp := &IntentResponse{
		ID:                intent.ID,
		OrderID:           intent.OrderID,
		Method:            string(intent.Method),
		Currency:          intent.Currency,
		Status:            intent.Status,
		ExpectedAmountUSD: intent.ExpectedAmountUSD.StringFixed(2),
		UniqueAmount:      intent.UniqueAmount.StringFixed(2),
		PayTo:             intent.Destination(),
		SenderEmail:       intent.UserSenderEmail,
		TxHash:            intent.TxHash,
		ClaimedTxHash:     intent.UserTxHash,
		ExpiresAt:         intent.ExpiresAt.UTC(),
		CreatedAt:         intent.CreatedAt.UTC(),
		MatchedAt:         intent.MatchedAt,
		CancelReason:      intent.MetadataString("cancel_reason"),
	}
	if intent.AmountReceived != nil {
		resp.AmountReceived = intent.AmountReceived.String()
	}
	return resp
}

// NewIntentResponses converts a list of intents
func NewIntentResponses(intents []*models.PaymentIntent) []*IntentResponse {
	out := make([]*IntentResponse, 0, len(intents))
	for _, intent := range intents {
		out = append(out, NewIntentResponse(intent))
	}
	return out
}

// CreateIntentResponse is returned after an intent is created
type CreateIntentResponse struct {
	Success      bool            `json:"success"`
	Intent       *IntentResponse `json:"intent"`
	Instructions string          `json:"instructions"`
}

// VerifyIntentResponse is returned by the verify endpoint
type VerifyIntentResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Kind    string          `json:"kind,omitempty"`
	Credits string          `json:"credits,omitempty"`
	TxID    string          `json:"tx_id,omitempty"`
	Intent  *IntentResponse `json:"intent"`
}

// PageResponse wraps a page of intents
type PageResponse struct {
	Success  bool              `json:"success"`
	Data     []*IntentResponse `json:"data"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}
