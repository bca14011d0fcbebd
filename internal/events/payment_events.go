package events

import (
	"context"
	"log"
	"sync"
	"time"

	"autopay-backend/internal/clients"
	"autopay-backend/internal/config"
	"autopay-backend/internal/metrics"
	"autopay-backend/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a payment lifecycle event
type EventType string

const (
	EventIntentCreated   EventType = "intent.created"
	EventIntentMatched   EventType = "intent.matched"
	EventIntentCompleted EventType = "intent.completed"
	EventIntentExpired   EventType = "intent.expired"
	EventIntentCancelled EventType = "intent.cancelled"
)

var eventTypeByStatus = map[models.IntentStatus]EventType{
	models.IntentStatusPending:   EventIntentCreated,
	models.IntentStatusMatched:   EventIntentMatched,
	models.IntentStatusCompleted: EventIntentCompleted,
	models.IntentStatusExpired:   EventIntentExpired,
	models.IntentStatusCancelled: EventIntentCancelled,
}

// PaymentEvent is published whenever an intent changes status
type PaymentEvent struct {
	ID                string               `json:"id"`
	Type              EventType            `json:"type"`
	IntentID          uint64               `json:"intent_id"`
	OrderID           string               `json:"order_id"`
	UserID            int64                `json:"user_id"`
	Method            models.PaymentMethod `json:"method"`
	Status            models.IntentStatus  `json:"status"`
	PreviousStatus    models.IntentStatus  `json:"previous_status,omitempty"`
	ExpectedAmountUSD decimal.Decimal      `json:"expected_amount_usd"`
	UniqueAmount      decimal.Decimal      `json:"unique_amount"`
	TxHash            string               `json:"tx_hash,omitempty"`
	Credits           *decimal.Decimal     `json:"credits,omitempty"`
	Reason            string               `json:"reason,omitempty"`
	OccurredAt        time.Time            `json:"occurred_at"`
}

// NewIntentEvent snapshots intent after a move from prev to intent.Status
func NewIntentEvent(intent *models.PaymentIntent, prev models.IntentStatus) *PaymentEvent {
	return &PaymentEvent{
		ID:                uuid.New().String(),
		Type:              eventTypeByStatus[intent.Status],
		IntentID:          intent.ID,
		OrderID:           intent.OrderID,
		UserID:            intent.UserID,
		Method:            intent.Method,
		Status:            intent.Status,
		PreviousStatus:    prev,
		ExpectedAmountUSD: intent.ExpectedAmountUSD,
		UniqueAmount:      intent.UniqueAmount,
		TxHash:            intent.TxHash,
		Reason:            intent.MetadataString("cancel_reason"),
		OccurredAt:        time.Now().UTC(),
	}
}

// Publisher accepts lifecycle events; delivery is best effort
type Publisher interface {
	Publish(ctx context.Context, event *PaymentEvent)
}

// Sink is one delivery transport
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event *PaymentEvent) error
}

// Bus fans events out to every sink
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus creates a bus; nil sinks are skipped
func NewBus(sinks ...Sink) *Bus {
	b := &Bus{}
	for _, s := range sinks {
		b.Add(s)
	}
	return b
}

// Add registers another sink
func (b *Bus) Add(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish delivers to every sink; a failing sink is logged and does not affect the others
func (b *Bus) Publish(ctx context.Context, event *PaymentEvent) {
	if event == nil {
		return
	}
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Deliver(ctx, event); err != nil {
			metrics.EventsPublished.WithLabelValues(s.Name(), "error").Inc()
			log.Printf("⚠️ [Events] %s delivery of %s for %s failed: %v", s.Name(), event.Type, event.OrderID, err)
			continue
		}
		metrics.EventsPublished.WithLabelValues(s.Name(), "ok").Inc()
	}
}

// NATSSink publishes events to <prefix>.intent.<status>
type NATSSink struct {
	client *clients.NATSClient
}

// NewNATSSink wraps a connected client
func NewNATSSink(client *clients.NATSClient) *NATSSink {
	return &NATSSink{client: client}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Deliver(ctx context.Context, event *PaymentEvent) error {
	return s.client.Publish(s.client.Subject("intent", string(event.Status)), event)
}

// ConnectNATS returns nil when NATS is not configured
func ConnectNATS(cfg config.NATSConfig) (*clients.NATSClient, error) {
	if cfg.URL == "" {
		log.Println("NATS not configured, skipping initialization")
		return nil, nil
	}
	client, err := clients.NewNATSClient(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("✅ [Events] NATS publisher connected (%s)", cfg.URL)
	return client, nil
}
