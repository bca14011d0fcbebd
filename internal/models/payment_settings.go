package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxExpiryMinutes caps intent expiry at the two hour window in which unique amounts stay reserved
const MaxExpiryMinutes = 120

// PaymentSettings is the typed view of auto_payment_settings
type PaymentSettings struct {
	EVMTokenAddress    string
	UTXOChainAddress   string
	ExchangeEmail      string
	ExpiryMinutes      int
	AmountTolerance    decimal.Decimal
	ToleranceOverrides map[PaymentMethod]decimal.Decimal
	AutoCreditEnabled  bool
	BscScanAPIKey      string
	BlockchairAPIKey   string
	BlockCypherToken   string
	CoinExAccessID     string
	CoinExSecretKey    string
	UniqueMinOffset    decimal.Decimal
	UniqueMaxOffset    decimal.Decimal
	CreditPrice        decimal.Decimal
}

var toleranceOverrideKeys = map[PaymentMethod]string{
	PaymentMethodExchangeEmail: SettingToleranceExchange,
	PaymentMethodEVMToken:      SettingToleranceEVMToken,
	PaymentMethodUTXOChain:     SettingToleranceUTXOChain,
}

// ParsePaymentSettings builds the typed record from raw values. Missing or
// invalid values fall back to DefaultPaymentSettings; the offending keys are returned.
func ParsePaymentSettings(values map[string]string) (PaymentSettings, []string) {
	var invalid []string
	get := func(key string) string {
		if v, ok := values[key]; ok {
			return strings.TrimSpace(v)
		}
		return DefaultPaymentSettings[key]
	}
	dec := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(get(key))
		if err != nil || d.IsNegative() {
			invalid = append(invalid, key)
			d, _ = decimal.NewFromString(DefaultPaymentSettings[key])
		}
		return d
	}

	s := PaymentSettings{
		EVMTokenAddress:    get(SettingEVMTokenAddress),
		UTXOChainAddress:   get(SettingUTXOChainAddress),
		ExchangeEmail:      strings.ToLower(get(SettingExchangeEmail)),
		AmountTolerance:    dec(SettingAmountTolerance),
		ToleranceOverrides: map[PaymentMethod]decimal.Decimal{},
		BscScanAPIKey:      get(SettingBscScanAPIKey),
		BlockchairAPIKey:   get(SettingBlockchairAPIKey),
		BlockCypherToken:   get(SettingBlockCypherToken),
		CoinExAccessID:     get(SettingCoinExAccessID),
		CoinExSecretKey:    get(SettingCoinExSecretKey),
		UniqueMinOffset:    dec(SettingUniqueMinOffset),
		UniqueMaxOffset:    dec(SettingUniqueMaxOffset),
		CreditPrice:        dec(SettingCreditPrice),
	}

	minutes, err := strconv.Atoi(get(SettingExpiryMinutes))
	if err != nil || minutes <= 0 || minutes > MaxExpiryMinutes {
		invalid = append(invalid, SettingExpiryMinutes)
		minutes, _ = strconv.Atoi(DefaultPaymentSettings[SettingExpiryMinutes])
	}
	s.ExpiryMinutes = minutes

	enabled, err := strconv.ParseBool(get(SettingAutoCreditEnabled))
	if err != nil {
		invalid = append(invalid, SettingAutoCreditEnabled)
		enabled = true
	}
	s.AutoCreditEnabled = enabled

	for method, key := range toleranceOverrideKeys {
		raw := get(key)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			invalid = append(invalid, key)
			continue
		}
		s.ToleranceOverrides[method] = d
	}

	if !s.CreditPrice.IsPositive() {
		invalid = append(invalid, SettingCreditPrice)
		s.CreditPrice = decimal.NewFromInt(1)
	}
	if s.UniqueMaxOffset.LessThan(s.UniqueMinOffset) {
		invalid = append(invalid, SettingUniqueMaxOffset)
		s.UniqueMinOffset = decimal.RequireFromString(DefaultPaymentSettings[SettingUniqueMinOffset])
		s.UniqueMaxOffset = decimal.RequireFromString(DefaultPaymentSettings[SettingUniqueMaxOffset])
	}
	return s, invalid
}

// DefaultSettings returns the record built from DefaultPaymentSettings
func DefaultSettings() PaymentSettings {
	s, _ := ParsePaymentSettings(nil)
	return s
}

// ToleranceFor returns the per-method override or the global tolerance
func (s PaymentSettings) ToleranceFor(method PaymentMethod) decimal.Decimal {
	if t, ok := s.ToleranceOverrides[method]; ok {
		return t
	}
	return s.AmountTolerance
}

// DestinationFor returns the configured address or email users pay to
func (s PaymentSettings) DestinationFor(method PaymentMethod) string {
	switch method {
	case PaymentMethodExchangeEmail:
		return s.ExchangeEmail
	case PaymentMethodEVMToken:
		return s.EVMTokenAddress
	case PaymentMethodUTXOChain:
		return s.UTXOChainAddress
	}
	return ""
}

// UTXOToken returns the explorer token, falling back to the legacy key
func (s PaymentSettings) UTXOToken() string {
	if s.BlockCypherToken != "" {
		return s.BlockCypherToken
	}
	return s.BlockchairAPIKey
}

// ValidateSettingValue checks a single value before it is written
func ValidateSettingValue(key, value string) error {
	if !IsKnownSetting(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	value = strings.TrimSpace(value)
	switch key {
	case SettingExpiryMinutes:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 || n > MaxExpiryMinutes {
			return fmt.Errorf("%s must be between 1 and %d", key, MaxExpiryMinutes)
		}
	case SettingAutoCreditEnabled:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
	case SettingAmountTolerance, SettingUniqueMinOffset, SettingUniqueMaxOffset:
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%s must be a non-negative decimal", key)
		}
	case SettingCreditPrice:
		d, err := decimal.NewFromString(value)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("%s must be a positive decimal", key)
		}
	case SettingToleranceExchange, SettingToleranceEVMToken, SettingToleranceUTXOChain:
		if value == "" {
			return nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%s must be empty or a non-negative decimal", key)
		}
	}
	return nil
}
