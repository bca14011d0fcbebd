package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentMethod identifies how a top-up is paid
type PaymentMethod string

const (
	PaymentMethodExchangeEmail PaymentMethod = "exchange_email" // on-exchange transfer, matched by sender email
	PaymentMethodEVMToken      PaymentMethod = "evm_token"      // BEP-20 USDT transfer, matched by tx hash or amount
	PaymentMethodUTXOChain     PaymentMethod = "utxo_chain"     // Litecoin transfer, matched by tx hash or amount
)

// AllPaymentMethods lists the supported methods in display order
var AllPaymentMethods = []PaymentMethod{
	PaymentMethodExchangeEmail,
	PaymentMethodEVMToken,
	PaymentMethodUTXOChain,
}

// ChainPaymentMethods are the methods whose claim is a transaction hash
var ChainPaymentMethods = []PaymentMethod{
	PaymentMethodEVMToken,
	PaymentMethodUTXOChain,
}

// ParsePaymentMethod accepts current and legacy method names
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PaymentMethodExchangeEmail), "coinex":
		return PaymentMethodExchangeEmail, true
	case string(PaymentMethodEVMToken), "bep20":
		return PaymentMethodEVMToken, true
	case string(PaymentMethodUTXOChain), "litecoin", "ltc":
		return PaymentMethodUTXOChain, true
	}
	return "", false
}

// IsChain reports whether the method settles on a public chain
func (m PaymentMethod) IsChain() bool {
	return m == PaymentMethodEVMToken || m == PaymentMethodUTXOChain
}

// DefaultCurrency is the display currency used when the caller does not pick one
func (m PaymentMethod) DefaultCurrency() string {
	if m == PaymentMethodUTXOChain {
		return "LTC"
	}
	return "USDT"
}

// LegacyName is the method name used by older rows and setting keys
func (m PaymentMethod) LegacyName() string {
	switch m {
	case PaymentMethodExchangeEmail:
		return "coinex"
	case PaymentMethodEVMToken:
		return "bep20"
	case PaymentMethodUTXOChain:
		return "litecoin"
	}
	return string(m)
}

// PaymentIntent is a user's declared intent to top up, the authoritative pending record
type PaymentIntent struct {
	ID                uint64            `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID            int64             `json:"user_id" gorm:"not null;index:idx_apr_user"`
	OrderID           string            `json:"order_id" gorm:"size:64;not null;uniqueIndex"`
	Method            PaymentMethod     `json:"method" gorm:"size:32;not null;index:idx_apr_method"`
	Currency          string            `json:"currency" gorm:"size:16;not null;default:'USDT'"`
	ExpectedAmountUSD decimal.Decimal   `json:"expected_amount_usd" gorm:"type:numeric(20,2);not null"`
	UniqueAmount      decimal.Decimal   `json:"unique_amount" gorm:"type:numeric(20,2);not null"`
	AmountReceived    *decimal.Decimal  `json:"amount_received,omitempty" gorm:"type:numeric(30,8)"`
	Status            IntentStatus      `json:"status" gorm:"size:20;not null;default:'pending';index:idx_apr_status"`
	TxHash            string            `json:"tx_hash,omitempty" gorm:"size:128;index:idx_apr_tx"` // observed deposit id, set on match
	DepositAddress    string            `json:"deposit_address,omitempty" gorm:"size:128"`
	DepositEmail      string            `json:"deposit_email,omitempty" gorm:"size:255"`
	UserSenderEmail   string            `json:"user_sender_email,omitempty" gorm:"size:255"`
	UserTxHash        string            `json:"user_tx_hash,omitempty" gorm:"size:128"`
	MessageID         *int64            `json:"message_id,omitempty"`
	ChatID            *int64            `json:"chat_id,omitempty"`
	ExpiresAt         time.Time         `json:"expires_at" gorm:"not null;index:idx_apr_expires"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null"`
	MatchedAt         *time.Time        `json:"matched_at,omitempty"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
}

// TableName keeps the historical table name
func (PaymentIntent) TableName() string {
	return "auto_payment_requests"
}

// Claim returns the user-supplied identifier of this intent
func (p *PaymentIntent) Claim() Claim {
	if p.Method == PaymentMethodExchangeEmail {
		return SenderEmailClaim(p.UserSenderEmail)
	}
	return TxHashClaim(p.Method, p.UserTxHash)
}

// Destination returns the address or email the user pays to
func (p *PaymentIntent) Destination() string {
	if p.Method == PaymentMethodExchangeEmail {
		return p.DepositEmail
	}
	return p.DepositAddress
}

// IsExpired reports whether the intent passed its deadline at now
func (p *PaymentIntent) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// MetadataString reads a string metadata entry
func (p *PaymentIntent) MetadataString(key string) string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// DepositMatch records the deposit that satisfied an intent
type DepositMatch struct {
	ID            uint64            `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestID     uint64            `json:"request_id" gorm:"not null;index"`
	DepositSource string            `json:"deposit_source" gorm:"size:32;not null;uniqueIndex:idx_apm_source_tx"`
	TxHash        string            `json:"tx_hash" gorm:"size:128;not null;uniqueIndex:idx_apm_source_tx"`
	Amount        decimal.Decimal   `json:"amount" gorm:"type:numeric(30,8);not null"`
	Currency      string            `json:"currency" gorm:"size:16"`
	SenderInfo    string            `json:"sender_info" gorm:"size:255"`
	Confidence    float64           `json:"confidence" gorm:"not null;default:1.0"`
	RawPayload    datatypes.JSONMap `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	MatchedAt     time.Time         `json:"matched_at" gorm:"not null"`
}

// TableName keeps the historical table name
func (DepositMatch) TableName() string {
	return "auto_payment_matches"
}

// PaymentSetting is a single persisted key/value setting
type PaymentSetting struct {
	ID           uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	SettingKey   string    `json:"setting_key" gorm:"size:100;not null;uniqueIndex"`
	SettingValue string    `json:"setting_value" gorm:"type:text;not null;default:''"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName keeps the historical table name
func (PaymentSetting) TableName() string {
	return "auto_payment_settings"
}

// CreditTransactionType classifies ledger rows
type CreditTransactionType string

const (
	CreditTransactionAutoRecharge   CreditTransactionType = "auto_recharge"
	CreditTransactionManualRecharge CreditTransactionType = "manual_recharge"
)

// CreditTransaction is one row of the user credit ledger; OrderID is the idempotency ref
type CreditTransaction struct {
	ID              uint64                `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID          int64                 `json:"user_id" gorm:"not null;index"`
	TransactionType CreditTransactionType `json:"transaction_type" gorm:"size:32;not null"`
	Amount          decimal.Decimal       `json:"amount" gorm:"type:numeric(20,4);not null"`
	OrderID         *string               `json:"order_id,omitempty" gorm:"size:64;uniqueIndex"`
	Description     string                `json:"description" gorm:"size:255"`
	CreatedAt       time.Time             `json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credits_transactions"
}

// UserBalance is the credit balance projection for a user
type UserBalance struct {
	UserID         int64           `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	CreditsBalance decimal.Decimal `json:"credits_balance" gorm:"type:numeric(20,4);not null;default:0"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (UserBalance) TableName() string {
	return "user_credit_balances"
}

// ObservedDeposit is a deposit seen while polling a source
type ObservedDeposit struct {
	ID               uint64            `json:"id" gorm:"primaryKey;autoIncrement"`
	Source           PaymentMethod     `json:"source" gorm:"size:32;not null;uniqueIndex:idx_apd_source_ext"`
	ExternalID       string            `json:"external_id" gorm:"size:128;not null;uniqueIndex:idx_apd_source_ext"`
	TxHash           string            `json:"tx_hash" gorm:"size:128;index"`
	SenderID         string            `json:"sender_id" gorm:"size:255"`
	Amount           decimal.Decimal   `json:"amount" gorm:"type:numeric(30,8);not null"`
	Currency         string            `json:"currency" gorm:"size:16"`
	Chain            string            `json:"chain" gorm:"size:32"`
	Status           string            `json:"status" gorm:"size:32"`
	Confirmations    int64             `json:"confirmations"`
	ReceivedAt       *time.Time        `json:"received_at,omitempty"`
	MatchedRequestID *uint64           `json:"matched_request_id,omitempty" gorm:"index"`
	RawPayload       datatypes.JSONMap `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (ObservedDeposit) TableName() string {
	return "auto_payment_deposits"
}

// DepositCandidate is a deposit reported by a source, before it is matched
type DepositCandidate struct {
	Source        PaymentMethod          `json:"source"`
	TxID          string                 `json:"tx_id"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency,omitempty"`
	SenderID      string                 `json:"sender_id,omitempty"`
	Recipient     string                 `json:"recipient,omitempty"`
	Status        string                 `json:"status"`
	Confirmations int64                  `json:"confirmations"`
	Chain         string                 `json:"chain,omitempty"`
	ObservedAt    *time.Time             `json:"observed_at,omitempty"`
	Raw           map[string]interface{} `json:"raw,omitempty"`
}

// IntentStats summarizes the intent table
type IntentStats struct {
	ByStatus          map[IntentStatus]int64         `json:"by_status"`
	Total             int64                          `json:"total"`
	TotalCompletedUSD decimal.Decimal                `json:"total_completed_usd"`
	ByMethod          map[PaymentMethod]*MethodStats `json:"by_method"`
}

// MethodStats holds completed totals for one method
type MethodStats struct {
	Count    int64           `json:"count"`
	TotalUSD decimal.Decimal `json:"total_usd"`
}
