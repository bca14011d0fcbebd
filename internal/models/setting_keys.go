package models

// Recognized setting keys. The set is closed; unknown keys are rejected on write.
const (
	SettingEVMTokenAddress    = "bep20_address"
	SettingUTXOChainAddress   = "litecoin_address"
	SettingExchangeEmail      = "coinex_email"
	SettingExpiryMinutes      = "payment_expiry_minutes"
	SettingAmountTolerance    = "amount_tolerance"
	SettingAutoCreditEnabled  = "auto_credit_enabled"
	SettingBscScanAPIKey      = "bscscan_api_key"
	SettingBlockchairAPIKey   = "blockchair_api_key"
	SettingBlockCypherToken   = "blockcypher_token"
	SettingCoinExAccessID     = "coinex_access_id"
	SettingCoinExSecretKey    = "coinex_secret_key"
	SettingUniqueMinOffset    = "unique_amount_min_offset"
	SettingUniqueMaxOffset    = "unique_amount_max_offset"
	SettingCreditPrice        = "credit_price"
	SettingToleranceExchange  = "amount_tolerance_exchange_email"
	SettingToleranceEVMToken  = "amount_tolerance_evm_token"
	SettingToleranceUTXOChain = "amount_tolerance_utxo_chain"
)

// DefaultPaymentSettings are seeded on startup when missing
var DefaultPaymentSettings = map[string]string{
	SettingEVMTokenAddress:    "",
	SettingUTXOChainAddress:   "",
	SettingExchangeEmail:      "",
	SettingExpiryMinutes:      "60",
	SettingAmountTolerance:    "0.01",
	SettingAutoCreditEnabled:  "true",
	SettingBscScanAPIKey:      "",
	SettingBlockchairAPIKey:   "",
	SettingBlockCypherToken:   "",
	SettingCoinExAccessID:     "",
	SettingCoinExSecretKey:    "",
	SettingUniqueMinOffset:    "0.01",
	SettingUniqueMaxOffset:    "0.99",
	SettingCreditPrice:        "1.0",
	SettingToleranceExchange:  "",
	SettingToleranceEVMToken:  "",
	SettingToleranceUTXOChain: "",
}

// SecretSettingKeys are masked when settings are listed
var SecretSettingKeys = map[string]bool{
	SettingBscScanAPIKey:    true,
	SettingBlockchairAPIKey: true,
	SettingBlockCypherToken: true,
	SettingCoinExSecretKey:  true,
}

// IsKnownSetting reports whether key belongs to the recognized set
func IsKnownSetting(key string) bool {
	_, ok := DefaultPaymentSettings[key]
	return ok
}
