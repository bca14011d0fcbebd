package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"autopay-backend/internal/events"
	"autopay-backend/internal/metrics"
	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"
	"autopay-backend/internal/sources"
	"autopay-backend/internal/types"

	"gorm.io/datatypes"
)

// Lookup names how a deposit was tied to its intent
const (
	LookupSenderEmail = "sender_email"
	LookupTxHash      = "tx_hash"
	LookupAmount      = "amount"
	LookupVerified    = "verify_now"
)

const (
	confidenceClaim  = 1.0
	confidenceAmount = 0.8
)

// MatchResult is a recorded deposit match
type MatchResult struct {
	Intent *models.PaymentIntent
	Match  *models.DepositMatch
	Lookup string
}

// Matcher ties deposit candidates to pending intents
type Matcher struct {
	intents  repository.IntentRepository
	deposits repository.DepositRepository
	events   events.Publisher
	now      func() time.Time
}

// NewMatcher creates a new Matcher
func NewMatcher(intents repository.IntentRepository, deposits repository.DepositRepository, publisher events.Publisher) *Matcher {
	return &Matcher{intents: intents, deposits: deposits, events: publisher, now: time.Now}
}

// MatchCandidate finds the pending intent a polled deposit belongs to and records the match.
// It returns nil without error when no intent takes the deposit.
func (m *Matcher) MatchCandidate(ctx context.Context, candidate *models.DepositCandidate, settings models.PaymentSettings) (*MatchResult, error) {
	if candidate == nil || candidate.TxID == "" {
		return nil, nil
	}
	used, err := m.intents.IsDepositMatched(ctx, string(candidate.Source), candidate.TxID)
	if err != nil {
		return nil, fmt.Errorf("failed to check deposit %s: %w", candidate.TxID, err)
	}
	if used {
		return nil, nil
	}

	intent, lookup, err := m.lookup(ctx, candidate, settings)
	if err != nil || intent == nil {
		return nil, err
	}

	confidence := confidenceClaim
	if lookup == LookupAmount {
		confidence = confidenceAmount
	}
	return m.record(ctx, intent, candidate, lookup, confidence)
}

func (m *Matcher) lookup(ctx context.Context, candidate *models.DepositCandidate, settings models.PaymentSettings) (*models.PaymentIntent, string, error) {
	now := m.now()
	tolerance := settings.ToleranceFor(candidate.Source)

	if models.ClaimKindFor(candidate.Source) == models.ClaimSenderEmail {
		if candidate.SenderID == "" {
			return nil, "", nil
		}
		intent, err := m.intents.FindActivePendingBySenderEmail(ctx, candidate.SenderID, now)
		if err != nil {
			return nil, "", ignoreNotFound(err)
		}
		if !sources.WithinTolerance(candidate.Amount, intent.UniqueAmount, tolerance) || predates(candidate, intent) {
			return nil, "", nil
		}
		return intent, LookupSenderEmail, nil
	}

	method := candidate.Source
	intent, err := m.intents.FindActivePendingByTxHash(ctx, candidate.TxID, &method, now)
	if err == nil {
		if !sources.WithinTolerance(candidate.Amount, intent.UniqueAmount, tolerance) {
			log.Printf("⚠️ [Matcher] Deposit %s claimed by %s has amount %s, expected %s",
				candidate.TxID, intent.OrderID, candidate.Amount.StringFixed(2), intent.UniqueAmount.StringFixed(2))
			return nil, "", nil
		}
		return intent, LookupTxHash, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", err
	}

	// intents that asserted another hash wait for that transaction
	intent, err = m.intents.FindActivePendingByAmount(ctx, repository.AmountQuery{
		Method:    method,
		Amount:    candidate.Amount,
		Tolerance: tolerance,
		TxHash:    candidate.TxID,
		Now:       now,
	})
	if err != nil {
		return nil, "", ignoreNotFound(err)
	}
	if predates(candidate, intent) {
		return nil, "", nil
	}
	return intent, LookupAmount, nil
}

// ClaimedByOther reports whether a pending intent other than exceptID asserted txID
func (m *Matcher) ClaimedByOther(ctx context.Context, method models.PaymentMethod, txID string, exceptID uint64) (bool, error) {
	intent, err := m.intents.FindActivePendingByTxHash(ctx, txID, &method, m.now())
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return intent.ID != exceptID, nil
}

// MatchVerified records the deposit a source verified for intent
func (m *Matcher) MatchVerified(ctx context.Context, intent *models.PaymentIntent, candidate *models.DepositCandidate) (*MatchResult, error) {
	confidence := confidenceClaim
	if intent.Claim().IsEmpty() {
		confidence = confidenceAmount
	}
	result, err := m.record(ctx, intent, candidate, LookupVerified, confidence)
	if errors.Is(err, repository.ErrDepositAlreadyMatched) {
		return nil, types.NewPaymentError(types.KindNoPendingMatch, "this deposit was already used for another payment request")
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		current, err := m.intents.GetByID(ctx, intent.ID)
		if err != nil {
			return nil, intentLookupError(err, intent.OrderID)
		}
		return nil, types.NewPaymentError(types.KindIntentNotPending, "payment request %s is %s", current.OrderID, current.Status)
	}
	return result, nil
}

func (m *Matcher) record(ctx context.Context, intent *models.PaymentIntent, candidate *models.DepositCandidate, lookup string, confidence float64) (*MatchResult, error) {
	match := &models.DepositMatch{
		DepositSource: string(candidate.Source),
		TxHash:        candidate.TxID,
		Amount:        candidate.Amount,
		Currency:      candidate.Currency,
		SenderInfo:    candidate.SenderID,
		Confidence:    confidence,
		MatchedAt:     m.now().UTC(),
	}
	if len(candidate.Raw) > 0 {
		match.RawPayload = datatypes.JSONMap(candidate.Raw)
	}

	ok, err := m.intents.MatchPending(ctx, intent.ID, match)
	if err != nil {
		if errors.Is(err, repository.ErrDepositAlreadyMatched) && lookup != LookupVerified {
			return nil, nil
		}
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if err := m.deposits.MarkMatched(ctx, candidate.Source, candidate.TxID, intent.ID); err != nil {
		log.Printf("⚠️ [Matcher] Failed to mark deposit %s matched: %v", candidate.TxID, err)
	}
	metrics.DepositsMatched.WithLabelValues(string(candidate.Source), lookup).Inc()
	log.Printf("✅ [Matcher] Deposit %s (%s %s) matched %s via %s",
		candidate.TxID, candidate.Amount.String(), candidate.Currency, intent.OrderID, lookup)

	updated, err := m.intents.GetByID(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload intent %d: %w", intent.ID, err)
	}
	if m.events != nil {
		m.events.Publish(ctx, events.NewIntentEvent(updated, models.IntentStatusPending))
	}
	return &MatchResult{Intent: updated, Match: match, Lookup: lookup}, nil
}

// predates reports a deposit observed before the intent existed
func predates(candidate *models.DepositCandidate, intent *models.PaymentIntent) bool {
	return candidate.ObservedAt != nil && candidate.ObservedAt.Before(intent.CreatedAt.Add(-depositClockSkew))
}

const depositClockSkew = 10 * time.Minute

func ignoreNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
