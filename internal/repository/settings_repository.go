package repository

import (
	"context"
	"fmt"
	"time"

	"autopay-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsRepository defines the interface for persisted key/value settings
type SettingsRepository interface {
	Get(ctx context.Context, key string) (*models.PaymentSetting, error)
	GetAll(ctx context.Context) ([]*models.PaymentSetting, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	SeedDefaults(ctx context.Context, defaults map[string]string) (int, error)
}

type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository instance
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context, key string) (*models.PaymentSetting, error) {
	var setting models.PaymentSetting
	if err := r.db.WithContext(ctx).Where("setting_key = ?", key).First(&setting).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &setting, nil
}

func (r *settingsRepository) GetAll(ctx context.Context) ([]*models.PaymentSetting, error) {
	var settings []*models.PaymentSetting
	err := r.db.WithContext(ctx).Order("setting_key ASC").Find(&settings).Error
	return settings, err
}

// Set upserts a single setting
func (r *settingsRepository) Set(ctx context.Context, key, value string) error {
	return r.SetMany(ctx, map[string]string{key: value})
}

// SetMany upserts several settings in one transaction
func (r *settingsRepository) SetMany(ctx context.Context, values map[string]string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			row := models.PaymentSetting{SettingKey: key, SettingValue: value, UpdatedAt: now}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "setting_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to save setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// SeedDefaults inserts missing keys and leaves existing values untouched
func (r *settingsRepository) SeedDefaults(ctx context.Context, defaults map[string]string) (int, error) {
	inserted := 0
	now := time.Now().UTC()
	for key, value := range defaults {
		row := models.PaymentSetting{SettingKey: key, SettingValue: value, UpdatedAt: now}
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "setting_key"}}, DoNothing: true}).
			Create(&row)
		if result.Error != nil {
			return inserted, fmt.Errorf("failed to seed setting %s: %w", key, result.Error)
		}
		inserted += int(result.RowsAffected)
	}
	return inserted, nil
}
