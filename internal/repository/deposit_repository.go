package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autopay-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DepositRepository defines the interface for the observed deposit journal
type DepositRepository interface {
	// Upsert inserts a new deposit or refreshes status/confirmations of a known one
	Upsert(ctx context.Context, deposit *models.ObservedDeposit) (bool, error)
	MarkMatched(ctx context.Context, source models.PaymentMethod, externalID string, requestID uint64) error
	ListUnmatched(ctx context.Context, source models.PaymentMethod, since time.Time) ([]*models.ObservedDeposit, error)
	GetBySourceID(ctx context.Context, source models.PaymentMethod, externalID string) (*models.ObservedDeposit, error)
}

type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository creates a new DepositRepository instance
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{db: db}
}

func (r *depositRepository) Upsert(ctx context.Context, deposit *models.ObservedDeposit) (bool, error) {
	var existing models.ObservedDeposit
	err := r.db.WithContext(ctx).
		Where("source = ? AND external_id = ?", deposit.Source, deposit.ExternalID).
		First(&existing).Error
	if err == nil {
		if existing.Status == deposit.Status && existing.Confirmations == deposit.Confirmations {
			*deposit = existing
			return false, nil
		}
		err = r.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"status":        deposit.Status,
			"confirmations": deposit.Confirmations,
			"updated_at":    time.Now().UTC(),
		}).Error
		if err != nil {
			return false, fmt.Errorf("failed to refresh deposit %s: %w", deposit.ExternalID, err)
		}
		existing.Status = deposit.Status
		existing.Confirmations = deposit.Confirmations
		*deposit = existing
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(deposit)
	if result.Error != nil {
		return false, fmt.Errorf("failed to store deposit %s: %w", deposit.ExternalID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *depositRepository) MarkMatched(ctx context.Context, source models.PaymentMethod, externalID string, requestID uint64) error {
	return r.db.WithContext(ctx).
		Model(&models.ObservedDeposit{}).
		Where("source = ? AND external_id = ? AND matched_request_id IS NULL", source, externalID).
		Updates(map[string]interface{}{
			"matched_request_id": requestID,
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (r *depositRepository) ListUnmatched(ctx context.Context, source models.PaymentMethod, since time.Time) ([]*models.ObservedDeposit, error) {
	var deposits []*models.ObservedDeposit
	err := r.db.WithContext(ctx).
		Where("source = ? AND matched_request_id IS NULL AND created_at >= ?", source, since.UTC()).
		Order("created_at ASC").
		Find(&deposits).Error
	return deposits, err
}

func (r *depositRepository) GetBySourceID(ctx context.Context, source models.PaymentMethod, externalID string) (*models.ObservedDeposit, error) {
	var deposit models.ObservedDeposit
	err := r.db.WithContext(ctx).Where("source = ? AND external_id = ?", source, externalID).First(&deposit).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &deposit, nil
}
