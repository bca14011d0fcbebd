package repository

import "gorm.io/gorm"

// Repositories groups the payment stores
type Repositories struct {
	Intents  IntentRepository
	Settings SettingsRepository
	Ledger   LedgerRepository
	Deposits DepositRepository
}

// NewRepositories wires the gorm-backed stores
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Intents:  NewIntentRepository(db),
		Settings: NewSettingsRepository(db),
		Ledger:   NewLedgerRepository(db),
		Deposits: NewDepositRepository(db),
	}
}
