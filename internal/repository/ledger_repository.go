package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autopay-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository defines the interface for the user credit ledger
type LedgerRepository interface {
	// ApplyCredit writes the ledger entry, bumps the balance and moves the intent matched -> completed
	// in one transaction. It reports false when an entry with the same order id already existed.
	ApplyCredit(ctx context.Context, intentID uint64, entry *models.CreditTransaction) (bool, error)
	GetByRef(ctx context.Context, ref string) (*models.CreditTransaction, error)
	CountByRef(ctx context.Context, ref string) (int64, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository instance
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) ApplyCredit(ctx context.Context, intentID uint64, entry *models.CreditTransaction) (bool, error) {
	if entry.OrderID == nil || *entry.OrderID == "" {
		return false, fmt.Errorf("ledger entry requires an order id")
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).Create(entry)
		if result.Error != nil {
			return fmt.Errorf("failed to write ledger entry: %w", result.Error)
		}
		applied = result.RowsAffected == 1

		if applied {
			balance := models.UserBalance{UserID: entry.UserID, CreditsBalance: entry.Amount, UpdatedAt: now}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"credits_balance": gorm.Expr("user_credit_balances.credits_balance + EXCLUDED.credits_balance"),
					"updated_at":      now,
				}),
			}).Create(&balance).Error
			if err != nil {
				return fmt.Errorf("failed to update balance for user %d: %w", entry.UserID, err)
			}
		}

		update := tx.Model(&models.PaymentIntent{}).
			Where("id = ? AND status = ?", intentID, models.IntentStatusMatched).
			Update("status", models.IntentStatusCompleted)
		if update.Error != nil {
			return fmt.Errorf("failed to complete intent %d: %w", intentID, update.Error)
		}
		if update.RowsAffected == 1 {
			return nil
		}

		var current models.PaymentIntent
		if err := tx.Select("status").Where("id = ?", intentID).First(&current).Error; err != nil {
			return translateNotFound(err)
		}
		if current.Status == models.IntentStatusCompleted && !applied {
			return nil
		}
		return fmt.Errorf("%w: intent %d is %s", ErrStatusConflict, intentID, current.Status)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *ledgerRepository) GetByRef(ctx context.Context, ref string) (*models.CreditTransaction, error) {
	var entry models.CreditTransaction
	if err := r.db.WithContext(ctx).Where("order_id = ?", ref).First(&entry).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &entry, nil
}

func (r *ledgerRepository) CountByRef(ctx context.Context, ref string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("order_id = ?", ref).Count(&count).Error
	return count, err
}

func (r *ledgerRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance models.UserBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance.CreditsBalance, nil
}
