package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autopay-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// memoryStore keeps every payment table in process memory. It backs the
// `memory` database driver and the service tests, with the same
// compare-and-set and uniqueness semantics as the gorm repositories.
type memoryStore struct {
	mu sync.Mutex

	nextIntentID  uint64
	nextMatchID   uint64
	nextLedgerID  uint64
	nextDepositID uint64
	nextSettingID uint64

	intents  map[uint64]*models.PaymentIntent
	orderIDs map[string]uint64
	matches  []*models.DepositMatch
	settings map[string]*models.PaymentSetting
	ledger   map[string]*models.CreditTransaction
	balances map[int64]decimal.Decimal
	deposits map[string]*models.ObservedDeposit
}

// NewMemoryRepositories returns in-memory stores sharing one state
func NewMemoryRepositories() *Repositories {
	s := &memoryStore{
		intents:  make(map[uint64]*models.PaymentIntent),
		orderIDs: make(map[string]uint64),
		settings: make(map[string]*models.PaymentSetting),
		ledger:   make(map[string]*models.CreditTransaction),
		balances: make(map[int64]decimal.Decimal),
		deposits: make(map[string]*models.ObservedDeposit),
	}
	return &Repositories{
		Intents:  &memoryIntents{s},
		Settings: &memorySettings{s},
		Ledger:   &memoryLedger{s},
		Deposits: &memoryDeposits{s},
	}
}

func copyIntent(in *models.PaymentIntent) *models.PaymentIntent {
	out := *in
	if in.AmountReceived != nil {
		v := *in.AmountReceived
		out.AmountReceived = &v
	}
	if in.MatchedAt != nil {
		v := *in.MatchedAt
		out.MatchedAt = &v
	}
	if in.Metadata != nil {
		out.Metadata = mergeMetadata(in.Metadata, nil)
	}
	return &out
}

// ---- intents ----

type memoryIntents struct{ s *memoryStore }

func (m *memoryIntents) CreateReplacingPending(ctx context.Context, intent *models.PaymentIntent) ([]string, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orderIDs[intent.OrderID]; exists {
		return nil, fmt.Errorf("failed to insert intent: duplicate order id %s", intent.OrderID)
	}

	var replaced []string
	for _, prev := range s.sortedIntents() {
		if prev.UserID != intent.UserID || prev.Method != intent.Method || prev.Status != models.IntentStatusPending {
			continue
		}
		prev.Status = models.IntentStatusCancelled
		prev.Metadata = mergeMetadata(prev.Metadata, map[string]interface{}{
			"cancel_reason": CancelReasonReplaced,
			"replaced_by":   intent.OrderID,
			"cancelled_at":  intent.CreatedAt.UTC().Format(time.RFC3339),
		})
		replaced = append(replaced, prev.OrderID)
	}

	s.nextIntentID++
	intent.ID = s.nextIntentID
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	if intent.Status == "" {
		intent.Status = models.IntentStatusPending
	}
	s.intents[intent.ID] = copyIntent(intent)
	s.orderIDs[intent.OrderID] = intent.ID
	return replaced, nil
}

func (m *memoryIntents) Transition(ctx context.Context, id uint64, from, to models.IntentStatus, update IntentUpdate) (bool, error) {
	if err := models.ValidateTransition(from, to); err != nil {
		return false, err
	}
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, from, to, update), nil
}

func (s *memoryStore) transitionLocked(id uint64, from, to models.IntentStatus, update IntentUpdate) bool {
	intent, ok := s.intents[id]
	if !ok || intent.Status != from {
		return false
	}
	intent.Status = to
	if update.TxHash != nil {
		intent.TxHash = *update.TxHash
	}
	if update.AmountReceived != nil {
		v := *update.AmountReceived
		intent.AmountReceived = &v
	}
	if update.MatchedAt != nil {
		v := update.MatchedAt.UTC()
		intent.MatchedAt = &v
	}
	if len(update.Metadata) > 0 {
		intent.Metadata = mergeMetadata(intent.Metadata, update.Metadata)
	}
	return true
}

func (m *memoryIntents) MatchPending(ctx context.Context, id uint64, match *models.DepositMatch) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok || intent.Status != models.IntentStatusPending {
		return false, nil
	}
	for _, existing := range s.matches {
		if existing.DepositSource == match.DepositSource && strings.EqualFold(existing.TxHash, match.TxHash) {
			return false, ErrDepositAlreadyMatched
		}
	}

	txHash := match.TxHash
	amount := match.Amount
	matchedAt := match.MatchedAt.UTC()
	s.transitionLocked(id, models.IntentStatusPending, models.IntentStatusMatched, IntentUpdate{
		TxHash:         &txHash,
		AmountReceived: &amount,
		MatchedAt:      &matchedAt,
	})

	s.nextMatchID++
	match.ID = s.nextMatchID
	match.RequestID = id
	stored := *match
	s.matches = append(s.matches, &stored)
	return true, nil
}

func (m *memoryIntents) MarkExpiredDue(ctx context.Context, now time.Time) ([]*models.PaymentIntent, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.PaymentIntent
	for _, intent := range s.sortedIntents() {
		if intent.Status == models.IntentStatusPending && intent.ExpiresAt.Before(now) {
			intent.Status = models.IntentStatusExpired
			expired = append(expired, copyIntent(intent))
		}
	}
	return expired, nil
}

func (m *memoryIntents) SetUserTxHash(ctx context.Context, id uint64, hash string) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok || intent.Status != models.IntentStatusPending || intent.UserTxHash != "" {
		return false, nil
	}
	intent.UserTxHash = hash
	return true, nil
}

func (m *memoryIntents) GetByID(ctx context.Context, id uint64) (*models.PaymentIntent, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIntent(intent), nil
}

func (m *memoryIntents) GetByOrderID(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.orderIDs[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIntent(s.intents[id]), nil
}

func (m *memoryIntents) GetMatch(ctx context.Context, requestID uint64) (*models.DepositMatch, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, match := range s.matches {
		if match.RequestID == requestID {
			out := *match
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryIntents) FindActivePendingBySenderEmail(ctx context.Context, email string, now time.Time) (*models.PaymentIntent, error) {
	return m.findFirst(func(p *models.PaymentIntent) bool {
		return p.Method == models.PaymentMethodExchangeEmail &&
			p.Status == models.IntentStatusPending &&
			p.ExpiresAt.After(now) &&
			strings.EqualFold(p.UserSenderEmail, email)
	})
}

func (m *memoryIntents) FindActivePendingByTxHash(ctx context.Context, hash string, method *models.PaymentMethod, now time.Time) (*models.PaymentIntent, error) {
	return m.findFirst(func(p *models.PaymentIntent) bool {
		if method != nil && p.Method != *method {
			return false
		}
		return p.Method.IsChain() &&
			p.Status == models.IntentStatusPending &&
			p.ExpiresAt.After(now) &&
			p.UserTxHash != "" &&
			strings.EqualFold(p.UserTxHash, hash)
	})
}

func (m *memoryIntents) FindActivePendingByAmount(ctx context.Context, q AmountQuery) (*models.PaymentIntent, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.PaymentIntent
	var bestDiff decimal.Decimal
	for _, p := range s.sortedIntents() {
		if p.Method != q.Method || p.Status != models.IntentStatusPending || !p.ExpiresAt.After(q.Now) {
			continue
		}
		if p.UserTxHash != "" && !strings.EqualFold(p.UserTxHash, q.TxHash) {
			continue
		}
		diff := p.UniqueAmount.Sub(q.Amount).Abs()
		if diff.GreaterThan(q.Tolerance) {
			continue
		}
		if best == nil || diff.LessThan(bestDiff) {
			best, bestDiff = p, diff
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyIntent(best), nil
}

func (m *memoryIntents) ReservedAmounts(ctx context.Context, method models.PaymentMethod, since, now time.Time) ([]decimal.Decimal, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var amounts []decimal.Decimal
	for _, p := range s.intents {
		if p.Method != method || p.Status != models.IntentStatusPending {
			continue
		}
		if !p.CreatedAt.Before(since) || p.ExpiresAt.After(now) {
			amounts = append(amounts, p.UniqueAmount)
		}
	}
	return amounts, nil
}

func (m *memoryIntents) IsDepositMatched(ctx context.Context, source, txHash string) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, match := range s.matches {
		if match.DepositSource == source && strings.EqualFold(match.TxHash, txHash) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryIntents) ListPendingByUser(ctx context.Context, userID int64, now time.Time) ([]*models.PaymentIntent, error) {
	list := m.filter(func(p *models.PaymentIntent) bool {
		return p.UserID == userID && p.Status == models.IntentStatusPending && p.ExpiresAt.After(now)
	})
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (m *memoryIntents) ListPendingByMethod(ctx context.Context, method models.PaymentMethod, now time.Time) ([]*models.PaymentIntent, error) {
	return m.filter(func(p *models.PaymentIntent) bool {
		return p.Method == method && p.Status == models.IntentStatusPending && p.ExpiresAt.After(now)
	}), nil
}

func (m *memoryIntents) ListByStatus(ctx context.Context, status models.IntentStatus, limit int) ([]*models.PaymentIntent, error) {
	list := m.filter(func(p *models.PaymentIntent) bool { return p.Status == status })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *memoryIntents) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*models.PaymentIntent, int64, error) {
	list := m.filter(func(p *models.PaymentIntent) bool { return p.UserID == userID })
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	total := int64(len(list))

	start := (page - 1) * pageSize
	if start >= len(list) {
		return []*models.PaymentIntent{}, total, nil
	}
	end := start + pageSize
	if end > len(list) {
		end = len(list)
	}
	return list[start:end], total, nil
}

func (m *memoryIntents) Stats(ctx context.Context) (*models.IntentStats, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := newIntentStats()
	for _, p := range s.intents {
		stats.ByStatus[p.Status]++
		stats.Total++
		if p.Status != models.IntentStatusCompleted {
			continue
		}
		ms, ok := stats.ByMethod[p.Method]
		if !ok {
			ms = &models.MethodStats{TotalUSD: decimal.Zero}
			stats.ByMethod[p.Method] = ms
		}
		ms.Count++
		ms.TotalUSD = ms.TotalUSD.Add(p.ExpectedAmountUSD)
		stats.TotalCompletedUSD = stats.TotalCompletedUSD.Add(p.ExpectedAmountUSD)
	}
	return stats, nil
}

func (m *memoryIntents) findFirst(pred func(*models.PaymentIntent) bool) (*models.PaymentIntent, error) {
	list := m.filter(pred)
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// filter returns copies ordered by creation time, oldest first
func (m *memoryIntents) filter(pred func(*models.PaymentIntent) bool) []*models.PaymentIntent {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.PaymentIntent
	for _, p := range s.sortedIntents() {
		if pred(p) {
			out = append(out, copyIntent(p))
		}
	}
	return out
}

func (s *memoryStore) sortedIntents() []*models.PaymentIntent {
	list := make([]*models.PaymentIntent, 0, len(s.intents))
	for _, p := range s.intents {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// ---- settings ----

type memorySettings struct{ s *memoryStore }

func (m *memorySettings) Get(ctx context.Context, key string) (*models.PaymentSetting, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	setting, ok := m.s.settings[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *setting
	return &out, nil
}

func (m *memorySettings) GetAll(ctx context.Context) ([]*models.PaymentSetting, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	out := make([]*models.PaymentSetting, 0, len(m.s.settings))
	for _, setting := range m.s.settings {
		copied := *setting
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettingKey < out[j].SettingKey })
	return out, nil
}

func (m *memorySettings) Set(ctx context.Context, key, value string) error {
	return m.SetMany(ctx, map[string]string{key: value})
}

func (m *memorySettings) SetMany(ctx context.Context, values map[string]string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	now := time.Now().UTC()
	for key, value := range values {
		m.s.putSettingLocked(key, value, now)
	}
	return nil
}

func (m *memorySettings) SeedDefaults(ctx context.Context, defaults map[string]string) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	inserted := 0
	now := time.Now().UTC()
	for key, value := range defaults {
		if _, ok := m.s.settings[key]; ok {
			continue
		}
		m.s.putSettingLocked(key, value, now)
		inserted++
	}
	return inserted, nil
}

func (s *memoryStore) putSettingLocked(key, value string, now time.Time) {
	if existing, ok := s.settings[key]; ok {
		existing.SettingValue = value
		existing.UpdatedAt = now
		return
	}
	s.nextSettingID++
	s.settings[key] = &models.PaymentSetting{ID: s.nextSettingID, SettingKey: key, SettingValue: value, UpdatedAt: now}
}

// ---- ledger ----

type memoryLedger struct{ s *memoryStore }

func (m *memoryLedger) ApplyCredit(ctx context.Context, intentID uint64, entry *models.CreditTransaction) (bool, error) {
	if entry.OrderID == nil || *entry.OrderID == "" {
		return false, fmt.Errorf("ledger entry requires an order id")
	}
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[intentID]
	if !ok {
		return false, ErrNotFound
	}
	_, exists := s.ledger[*entry.OrderID]
	applied := !exists

	switch {
	case intent.Status == models.IntentStatusMatched:
	case intent.Status == models.IntentStatusCompleted && !applied:
		return false, nil
	default:
		return false, fmt.Errorf("%w: intent %d is %s", ErrStatusConflict, intentID, intent.Status)
	}

	if applied {
		s.nextLedgerID++
		entry.ID = s.nextLedgerID
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		stored := *entry
		s.ledger[*entry.OrderID] = &stored
		s.balances[entry.UserID] = s.balances[entry.UserID].Add(entry.Amount)
	}
	intent.Status = models.IntentStatusCompleted
	return applied, nil
}

func (m *memoryLedger) GetByRef(ctx context.Context, ref string) (*models.CreditTransaction, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	entry, ok := m.s.ledger[ref]
	if !ok {
		return nil, ErrNotFound
	}
	out := *entry
	return &out, nil
}

func (m *memoryLedger) CountByRef(ctx context.Context, ref string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.ledger[ref]; ok {
		return 1, nil
	}
	return 0, nil
}

func (m *memoryLedger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.balances[userID], nil
}

// ---- deposits ----

type memoryDeposits struct{ s *memoryStore }

func depositKey(source models.PaymentMethod, externalID string) string {
	return string(source) + "|" + externalID
}

func (m *memoryDeposits) Upsert(ctx context.Context, deposit *models.ObservedDeposit) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := depositKey(deposit.Source, deposit.ExternalID)
	now := time.Now().UTC()
	if existing, ok := s.deposits[key]; ok {
		if existing.Status != deposit.Status || existing.Confirmations != deposit.Confirmations {
			existing.Status = deposit.Status
			existing.Confirmations = deposit.Confirmations
			existing.UpdatedAt = now
		}
		*deposit = *existing
		return false, nil
	}

	s.nextDepositID++
	deposit.ID = s.nextDepositID
	deposit.CreatedAt = now
	deposit.UpdatedAt = now
	if deposit.RawPayload == nil {
		deposit.RawPayload = datatypes.JSONMap{}
	}
	stored := *deposit
	s.deposits[key] = &stored
	return true, nil
}

func (m *memoryDeposits) MarkMatched(ctx context.Context, source models.PaymentMethod, externalID string, requestID uint64) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.deposits[depositKey(source, externalID)]; ok && existing.MatchedRequestID == nil {
		id := requestID
		existing.MatchedRequestID = &id
		existing.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *memoryDeposits) ListUnmatched(ctx context.Context, source models.PaymentMethod, since time.Time) ([]*models.ObservedDeposit, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ObservedDeposit
	for _, d := range s.deposits {
		if d.Source == source && d.MatchedRequestID == nil && !d.CreatedAt.Before(since) {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryDeposits) GetBySourceID(ctx context.Context, source models.PaymentMethod, externalID string) (*models.ObservedDeposit, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[depositKey(source, externalID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *d
	return &out, nil
}
