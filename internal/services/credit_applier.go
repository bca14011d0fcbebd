package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"autopay-backend/internal/events"
	"autopay-backend/internal/metrics"
	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"
	"autopay-backend/internal/types"

	"github.com/shopspring/decimal"
)

const creditRetryBatch = 100

// CreditResult describes a credit application
type CreditResult struct {
	Credits decimal.Decimal
	Applied bool // false when the ledger already held the entry
	Intent  *models.PaymentIntent
}

// CreditApplier turns matched intents into ledger credits
type CreditApplier struct {
	intents  repository.IntentRepository
	ledger   repository.LedgerRepository
	settings SettingsProvider
	events   events.Publisher
}

// NewCreditApplier creates a new CreditApplier
func NewCreditApplier(intents repository.IntentRepository, ledger repository.LedgerRepository, settings SettingsProvider, publisher events.Publisher) *CreditApplier {
	return &CreditApplier{intents: intents, ledger: ledger, settings: settings, events: publisher}
}

// CreditsFor converts a USD amount to credits at price, 4 decimals
func CreditsFor(expectedUSD, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		price = decimal.NewFromInt(1)
	}
	return expectedUSD.DivRound(price, 4)
}

// AutoEnabled reports the auto_credit_enabled setting
func (a *CreditApplier) AutoEnabled(ctx context.Context) (bool, error) {
	settings, err := a.settings.Current(ctx)
	if err != nil {
		return false, err
	}
	return settings.AutoCreditEnabled, nil
}

// Apply credits a matched intent once; an intent already completed by the same ref is a no-op success
func (a *CreditApplier) Apply(ctx context.Context, intent *models.PaymentIntent, txType models.CreditTransactionType) (*CreditResult, error) {
	settings, err := a.settings.Current(ctx)
	if err != nil {
		return nil, types.WrapPaymentError(types.KindCreditApplyFailed, err, "credit could not be applied, an operator will review it")
	}
	credits := CreditsFor(intent.ExpectedAmountUSD, settings.CreditPrice)

	orderID := intent.OrderID
	prefix := "auto top-up"
	if txType == models.CreditTransactionManualRecharge {
		prefix = "manual top-up"
	}
	entry := &models.CreditTransaction{
		UserID:          intent.UserID,
		TransactionType: txType,
		Amount:          credits,
		OrderID:         &orderID,
		Description:     fmt.Sprintf("%s via %s $%s", prefix, intent.Method, intent.ExpectedAmountUSD.StringFixed(2)),
	}

	applied, err := a.ledger.ApplyCredit(ctx, intent.ID, entry)
	if err != nil {
		metrics.CreditFailures.Inc()
		log.Printf("❌ [CreditApplier] Failed to credit %s (user %d, %s credits): %v", intent.OrderID, intent.UserID, credits.String(), err)
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, types.WrapPaymentError(types.KindIntentNotPending, err, "payment request %s is not awaiting credit", intent.OrderID)
		}
		return nil, types.WrapPaymentError(types.KindCreditApplyFailed, err, "credit could not be applied, an operator will review it")
	}

	if !applied {
		if existing, err := a.ledger.GetByRef(ctx, orderID); err == nil {
			credits = existing.Amount
		}
	} else {
		metrics.CreditsApplied.WithLabelValues(string(intent.Method)).Inc()
		log.Printf("✅ [CreditApplier] Credited %s credits to user %d for %s", credits.String(), intent.UserID, intent.OrderID)
	}

	updated, err := a.intents.GetByID(ctx, intent.ID)
	if err != nil {
		updated = intent
		updated.Status = models.IntentStatusCompleted
	}
	if applied && a.events != nil {
		evt := events.NewIntentEvent(updated, models.IntentStatusMatched)
		c := credits
		evt.Credits = &c
		a.events.Publish(ctx, evt)
	}
	return &CreditResult{Credits: credits, Applied: applied, Intent: updated}, nil
}

// Settle credits a freshly matched intent unless auto credit is off; skipped reports the latter
func (a *CreditApplier) Settle(ctx context.Context, intent *models.PaymentIntent) (result *CreditResult, skipped bool, err error) {
	enabled, err := a.AutoEnabled(ctx)
	if err != nil {
		return nil, false, types.WrapPaymentError(types.KindCreditApplyFailed, err, "credit could not be applied, an operator will review it")
	}
	if !enabled {
		log.Printf("⚠️ [CreditApplier] Auto credit disabled, %s left matched for manual credit", intent.OrderID)
		return nil, true, nil
	}
	result, err = a.Apply(ctx, intent, models.CreditTransactionAutoRecharge)
	return result, false, err
}

// RetryMatched re-applies credits for intents left matched by an earlier failure
func (a *CreditApplier) RetryMatched(ctx context.Context) (int, error) {
	enabled, err := a.AutoEnabled(ctx)
	if err != nil {
		return 0, err
	}
	if !enabled {
		return 0, nil
	}

	matched, err := a.intents.ListByStatus(ctx, models.IntentStatusMatched, creditRetryBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list matched intents: %w", err)
	}
	credited := 0
	for _, intent := range matched {
		if ctx.Err() != nil {
			return credited, ctx.Err()
		}
		if _, err := a.Apply(ctx, intent, models.CreditTransactionAutoRecharge); err != nil {
			continue
		}
		credited++
	}
	if credited > 0 {
		log.Printf("✅ [CreditApplier] Retry sweep credited %d of %d matched intents", credited, len(matched))
	}
	return credited, nil
}
