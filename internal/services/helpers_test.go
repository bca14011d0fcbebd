package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/events"
	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"
	"autopay-backend/internal/sources"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	testEVMAddress  = "0x1111111111111111111111111111111111111111"
	testUTXOAddress = "ltc1qdepositaddress0000000000000000000"
	testPayEmail    = "pay@shop.example"
	testTxHash      = "0xabc0000000000000000000000000000000000000000000000000000000000001"
)

// stubSource is a DepositSource driven by test functions
type stubSource struct {
	method     models.PaymentMethod
	verify     func(ctx context.Context, intent *models.PaymentIntent, settings models.PaymentSettings) (*models.DepositCandidate, error)
	candidates []*models.DepositCandidate
	fetchErr   error
	testErr    error

	mu         sync.Mutex
	fetchCalls int
}

func (s *stubSource) Method() models.PaymentMethod { return s.method }

func (s *stubSource) Verify(ctx context.Context, intent *models.PaymentIntent, settings models.PaymentSettings) (*models.DepositCandidate, error) {
	if s.verify == nil {
		return nil, ErrNoPendingMatch
	}
	return s.verify(ctx, intent, settings)
}

func (s *stubSource) FetchCandidates(ctx context.Context, settings models.PaymentSettings) ([]*models.DepositCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	return s.candidates, s.fetchErr
}

func (s *stubSource) TestConnection(ctx context.Context, settings models.PaymentSettings) error {
	return s.testErr
}

func (s *stubSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.PaymentEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *events.PaymentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) has(t events.EventType, orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == t && e.OrderID == orderID {
			return true
		}
	}
	return false
}

type testEnv struct {
	ctx       context.Context
	repos     *repository.Repositories
	settings  *SettingsService
	minter    *AmountMinter
	matcher   *Matcher
	credit    *CreditApplier
	polling   *DepositPollingService
	expiry    *IntentExpiryService
	svc       *PaymentService
	publisher *recordingPublisher
	exchange  *stubSource
	evm       *stubSource
	utxo      *stubSource
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	repos := repository.NewMemoryRepositories()

	settings := NewSettingsService(repos.Settings)
	if err := settings.Seed(ctx); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	if err := settings.Update(ctx, map[string]string{
		models.SettingEVMTokenAddress:  testEVMAddress,
		models.SettingUTXOChainAddress: testUTXOAddress,
		models.SettingExchangeEmail:    testPayEmail,
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	env := &testEnv{
		ctx:       ctx,
		repos:     repos,
		settings:  settings,
		publisher: &recordingPublisher{},
		exchange:  &stubSource{method: models.PaymentMethodExchangeEmail},
		evm:       &stubSource{method: models.PaymentMethodEVMToken},
		utxo:      &stubSource{method: models.PaymentMethodUTXOChain},
	}
	cfg := config.Default().Payment
	window := cfg.ActiveWindow()

	env.minter = NewAmountMinter(repos.Intents, settings, window)
	env.matcher = NewMatcher(repos.Intents, repos.Deposits, env.publisher)
	env.credit = NewCreditApplier(repos.Intents, repos.Ledger, settings, env.publisher)
	registry := sources.NewRegistry(env.exchange, env.evm, env.utxo)
	env.polling = NewDepositPollingService(repos, registry, settings, env.matcher, env.credit, window)
	env.expiry = NewIntentExpiryService(repos.Intents, env.publisher)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	env.svc = NewPaymentService(repos, settings, env.minter, env.matcher, env.credit, registry, env.publisher, cfg, logger)
	return env
}

// fixOffset pins the minted offset to cents while unique_amount_min_offset is 0.01
func (e *testEnv) fixOffset(cents int64) {
	e.minter.intn = func(n int64) int64 {
		if cents-1 >= n {
			return n - 1
		}
		return cents - 1
	}
}

func (e *testEnv) setting(t *testing.T, key, value string) {
	t.Helper()
	if err := e.settings.Update(e.ctx, map[string]string{key: value}); err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
}

func (e *testEnv) reload(t *testing.T, id uint64) *models.PaymentIntent {
	t.Helper()
	intent, err := e.repos.Intents.GetByID(e.ctx, id)
	if err != nil {
		t.Fatalf("reload intent %d: %v", id, err)
	}
	return intent
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func timeRef(t time.Time) *time.Time {
	return &t
}
