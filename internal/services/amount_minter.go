package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"

	"github.com/shopspring/decimal"
)

const (
	mintAttemptsPerRange = 16
	mintMaxWidenings     = 4
	mintWidenStepCents   = 100
)

// AmountMinter picks a unique amount per pending intent so a bare deposit amount identifies its intent
type AmountMinter struct {
	intents  repository.IntentRepository
	settings SettingsProvider
	window   time.Duration
	now      func() time.Time

	rngMu sync.Mutex
	intn  func(n int64) int64

	locksMu sync.Mutex
	locks   map[models.PaymentMethod]*sync.Mutex
}

// NewAmountMinter creates a new AmountMinter; window bounds the collision check
func NewAmountMinter(intents repository.IntentRepository, settings SettingsProvider, window time.Duration) *AmountMinter {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if window <= 0 {
		window = 2 * time.Hour
	}
	return &AmountMinter{
		intents:  intents,
		settings: settings,
		window:   window,
		now:      time.Now,
		intn:     rng.Int63n,
		locks:    make(map[models.PaymentMethod]*sync.Mutex),
	}
}

// Lock serializes mint and insert for one method; call the returned func to release
func (m *AmountMinter) Lock(method models.PaymentMethod) func() {
	m.locksMu.Lock()
	mu, ok := m.locks[method]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[method] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Mint returns expected plus a whole-cent offset not used by any pending intent of the method
// created within the window or still unexpired. The caller holds Lock(method) until the intent is stored.
func (m *AmountMinter) Mint(ctx context.Context, method models.PaymentMethod, expected decimal.Decimal) (decimal.Decimal, error) {
	settings, err := m.settings.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	base := expected.Round(2)
	minCents := settings.UniqueMinOffset.Shift(2).Round(0).IntPart()
	maxCents := settings.UniqueMaxOffset.Shift(2).Round(0).IntPart()
	if maxCents < minCents {
		minCents, maxCents = maxCents, minCents
	}

	now := m.now()
	pending, err := m.intents.ReservedAmounts(ctx, method, now.Add(-m.window), now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load pending amounts: %w", err)
	}
	taken := make(map[int64]bool, len(pending))
	for _, amount := range pending {
		taken[amount.Shift(2).Round(0).IntPart()] = true
	}
	baseCents := base.Shift(2).IntPart()
	free := func(offset int64) bool { return !taken[baseCents+offset] }

	for widen := int64(0); widen <= mintMaxWidenings; widen++ {
		hi := maxCents + widen*mintWidenStepCents
		for attempt := 0; attempt < mintAttemptsPerRange; attempt++ {
			offset := minCents + m.random(hi-minCents+1)
			if free(offset) {
				return base.Add(decimal.New(offset, -2)), nil
			}
		}
	}

	limit := maxCents + mintMaxWidenings*mintWidenStepCents
	for offset := minCents; offset <= limit; offset++ {
		if free(offset) {
			return base.Add(decimal.New(offset, -2)), nil
		}
	}
	return decimal.Zero, fmt.Errorf("no free unique amount for %s %s", method, base.StringFixed(2))
}

func (m *AmountMinter) random(n int64) int64 {
	if n <= 1 {
		return 0
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.intn(n)
}
