package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"
	"autopay-backend/internal/types"
)

const settingsRefreshInterval = 30 * time.Second

// SettingsProvider returns the current typed settings
type SettingsProvider interface {
	Current(ctx context.Context) (models.PaymentSettings, error)
}

// SettingsService caches auto_payment_settings as a typed record
type SettingsService struct {
	repo repository.SettingsRepository

	mu       sync.RWMutex
	cached   models.PaymentSettings
	raw      map[string]string
	loadedAt time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(repo repository.SettingsRepository) *SettingsService {
	return &SettingsService{
		repo: repo,
		ttl:  settingsRefreshInterval,
		now:  time.Now,
	}
}

// Seed inserts the default values of missing keys
func (s *SettingsService) Seed(ctx context.Context) error {
	inserted, err := s.repo.SeedDefaults(ctx, models.DefaultPaymentSettings)
	if err != nil {
		return fmt.Errorf("failed to seed payment settings: %w", err)
	}
	if inserted > 0 {
		log.Printf("✅ [Settings] Seeded %d default payment settings", inserted)
	}
	s.Invalidate()
	return nil
}

// Current returns the cached record, reloading it when stale
func (s *SettingsService) Current(ctx context.Context) (models.PaymentSettings, error) {
	s.mu.RLock()
	if s.raw != nil && s.now().Sub(s.loadedAt) < s.ttl {
		cached := s.cached
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()
	return s.reload(ctx)
}

func (s *SettingsService) reload(ctx context.Context) (models.PaymentSettings, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		return models.PaymentSettings{}, fmt.Errorf("failed to load payment settings: %w", err)
	}
	raw := make(map[string]string, len(rows))
	for _, row := range rows {
		raw[row.SettingKey] = row.SettingValue
	}
	parsed, invalid := models.ParsePaymentSettings(raw)
	if len(invalid) > 0 {
		log.Printf("⚠️ [Settings] Invalid values fell back to defaults: %s", strings.Join(invalid, ", "))
	}

	s.mu.Lock()
	s.cached = parsed
	s.raw = raw
	s.loadedAt = s.now()
	s.mu.Unlock()
	return parsed, nil
}

// Invalidate drops the cache so the next read hits the store
func (s *SettingsService) Invalidate() {
	s.mu.Lock()
	s.raw = nil
	s.mu.Unlock()
}

// Update validates and writes values in one transaction
func (s *SettingsService) Update(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return types.NewPaymentError(types.KindInvalidInput, "no settings given")
	}
	clean := make(map[string]string, len(values))
	for key, value := range values {
		// masked values echoed back from List leave the secret unchanged
		if models.SecretSettingKeys[key] && strings.HasPrefix(value, "****") {
			continue
		}
		if err := models.ValidateSettingValue(key, value); err != nil {
			return types.WrapPaymentError(types.KindInvalidInput, err, "%s", err.Error())
		}
		clean[key] = strings.TrimSpace(value)
	}
	if len(clean) == 0 {
		return nil
	}

	current, err := s.Current(ctx)
	if err != nil {
		return err
	}
	min, max := current.UniqueMinOffset.String(), current.UniqueMaxOffset.String()
	if v, ok := clean[models.SettingUniqueMinOffset]; ok {
		min = v
	}
	if v, ok := clean[models.SettingUniqueMaxOffset]; ok {
		max = v
	}
	if _, invalid := models.ParsePaymentSettings(map[string]string{
		models.SettingUniqueMinOffset: min,
		models.SettingUniqueMaxOffset: max,
	}); len(invalid) > 0 {
		return types.NewPaymentError(types.KindInvalidInput, "%s must not be below %s",
			models.SettingUniqueMaxOffset, models.SettingUniqueMinOffset)
	}

	if err := s.repo.SetMany(ctx, clean); err != nil {
		return fmt.Errorf("failed to save payment settings: %w", err)
	}
	s.Invalidate()
	log.Printf("✅ [Settings] Updated %d payment settings", len(clean))
	return nil
}

// SettingView is one setting as shown to operators
type SettingView struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Secret    bool      `json:"secret"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List returns every recognized setting with secrets masked
func (s *SettingsService) List(ctx context.Context) ([]SettingView, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment settings: %w", err)
	}
	byKey := make(map[string]*models.PaymentSetting, len(rows))
	for _, row := range rows {
		byKey[row.SettingKey] = row
	}

	views := make([]SettingView, 0, len(models.DefaultPaymentSettings))
	for key, def := range models.DefaultPaymentSettings {
		view := SettingView{Key: key, Value: def, Secret: models.SecretSettingKeys[key]}
		if row, ok := byKey[key]; ok {
			view.Value = row.SettingValue
			view.UpdatedAt = row.UpdatedAt
		}
		if view.Secret {
			view.Value = maskSecret(view.Value)
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return views, nil
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
