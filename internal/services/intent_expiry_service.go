package services

import (
	"context"
	"log"
	"time"

	"autopay-backend/internal/events"
	"autopay-backend/internal/metrics"
	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"
)

// IntentExpiryService moves pending intents past their deadline to expired.
// The scheduler's expiry_sweep job drives it.
type IntentExpiryService struct {
	intents repository.IntentRepository
	events  events.Publisher
	now     func() time.Time
}

// NewIntentExpiryService creates a new IntentExpiryService
func NewIntentExpiryService(intents repository.IntentRepository, publisher events.Publisher) *IntentExpiryService {
	return &IntentExpiryService{
		intents: intents,
		events:  publisher,
		now:     time.Now,
	}
}

// Sweep expires every pending intent whose expires_at has passed and returns how many moved
func (s *IntentExpiryService) Sweep(ctx context.Context) (int, error) {
	expired, err := s.intents.MarkExpiredDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	metrics.IntentsExpired.Add(float64(len(expired)))
	log.Printf("⏰ [IntentExpiry] Expired %d payment requests", len(expired))
	for _, intent := range expired {
		intent.Status = models.IntentStatusExpired
		if s.events != nil {
			s.events.Publish(ctx, events.NewIntentEvent(intent, models.IntentStatusPending))
		}
	}
	return len(expired), nil
}
