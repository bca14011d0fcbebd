package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/events"
	"autopay-backend/internal/metrics"
	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"
	"autopay-backend/internal/sources"
	"autopay-backend/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// CancelReasonUser is recorded when the user cancels without a reason
	CancelReasonUser = "user_cancelled"

	maxExpectedAmountUSD = 100000
)

// CreateIntentInput is the input of CreateIntent. SenderEmail is the claim of
// exchange_email intents and TxHash the optional claim of chain intents.
type CreateIntentInput struct {
	UserID            int64
	Method            string
	ExpectedAmountUSD decimal.Decimal
	Currency          string
	ExpiryMinutes     int
	SenderEmail       string
	TxHash            string
	MessageID         *int64
	ChatID            *int64
}

// VerifyResult is the user-facing outcome of VerifyNow
type VerifyResult struct {
	OK      bool                     `json:"ok"`
	Message string                   `json:"message"`
	Kind    ErrorKind                `json:"kind,omitempty"`
	Deposit *models.DepositCandidate `json:"deposit,omitempty"`
	Credits *decimal.Decimal         `json:"credits,omitempty"`
	Intent  *models.PaymentIntent    `json:"intent"`
	Err     error                    `json:"-"`
}

// PaymentService is the entry point for intent operations
type PaymentService struct {
	repos    *repository.Repositories
	settings *SettingsService
	minter   *AmountMinter
	matcher  *Matcher
	credit   *CreditApplier
	registry *sources.Registry
	events   events.Publisher
	cfg      config.PaymentConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	repos *repository.Repositories,
	settings *SettingsService,
	minter *AmountMinter,
	matcher *Matcher,
	credit *CreditApplier,
	registry *sources.Registry,
	publisher events.Publisher,
	cfg config.PaymentConfig,
	logger *logrus.Logger,
) *PaymentService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PaymentService{
		repos:    repos,
		settings: settings,
		minter:   minter,
		matcher:  matcher,
		credit:   credit,
		registry: registry,
		events:   publisher,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateIntent validates the input, mints a unique amount and stores the intent,
// cancelling the user's pending intent for the same method
func (s *PaymentService) CreateIntent(ctx context.Context, in CreateIntentInput) (*models.PaymentIntent, error) {
	method, ok := models.ParsePaymentMethod(in.Method)
	if !ok {
		return nil, types.NewPaymentError(types.KindInvalidMethod, "unsupported payment method %q", in.Method)
	}
	if _, ok := s.registry.Get(method); !ok {
		return nil, types.NewPaymentError(types.KindInvalidMethod, "payment method %s is not available", method)
	}
	if in.UserID <= 0 {
		return nil, types.NewPaymentError(types.KindInvalidInput, "user id is required")
	}
	expected := in.ExpectedAmountUSD.Round(2)
	if !expected.IsPositive() || expected.GreaterThan(decimal.NewFromInt(maxExpectedAmountUSD)) {
		return nil, types.NewPaymentError(types.KindInvalidInput, "amount must be between 0.01 and %d", maxExpectedAmountUSD)
	}
	claim, err := models.NewClaim(method, in.SenderEmail, in.TxHash)
	if err != nil {
		return nil, types.WrapPaymentError(types.KindInvalidInput, err, "%s", err.Error())
	}
	if claim.IsTxHash() && !claim.IsEmpty() {
		used, err := s.repos.Intents.IsDepositMatched(ctx, string(method), claim.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to check tx hash: %w", err)
		}
		if used {
			return nil, types.NewPaymentError(types.KindInvalidInput, "this transaction was already used for another payment request")
		}
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	destination := strings.TrimSpace(settings.DestinationFor(method))
	if destination == "" {
		return nil, types.NewPaymentError(types.KindCredentialMissing, "%s deposit destination is not configured", method)
	}
	expiry := in.ExpiryMinutes
	if expiry == 0 {
		expiry = settings.ExpiryMinutes
	}
	if expiry < 1 || expiry > models.MaxExpiryMinutes {
		return nil, types.NewPaymentError(types.KindInvalidInput, "expiry must be between 1 and %d minutes", models.MaxExpiryMinutes)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" || method.IsChain() {
		currency = method.DefaultCurrency()
	}

	unlock := s.minter.Lock(method)
	defer unlock()

	unique, err := s.minter.Mint(ctx, method, expected)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	intent := &models.PaymentIntent{
		UserID:            in.UserID,
		OrderID:           s.newOrderID(now),
		Currency:          currency,
		ExpectedAmountUSD: expected,
		UniqueAmount:      unique,
		Status:            models.IntentStatusPending,
		MessageID:         in.MessageID,
		ChatID:            in.ChatID,
		ExpiresAt:         now.Add(time.Duration(expiry) * time.Minute),
		CreatedAt:         now,
	}
	claim.Apply(intent)
	if method == models.PaymentMethodExchangeEmail {
		intent.DepositEmail = destination
	} else {
		intent.DepositAddress = destination
	}

	replaced, err := s.repos.Intents.CreateReplacingPending(ctx, intent)
	if errors.Is(err, repository.ErrPendingExists) {
		return nil, types.WrapPaymentError(types.KindIntentNotPending, err, "another %s payment request is being created", method)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create payment request: %w", err)
	}

	metrics.IntentsCreated.WithLabelValues(string(method)).Inc()
	if len(replaced) > 0 {
		metrics.IntentsReplaced.WithLabelValues(string(method)).Add(float64(len(replaced)))
		s.publishReplaced(ctx, replaced)
	}
	s.publish(ctx, intent, "")

	s.logger.WithFields(logrus.Fields{
		"order_id":      intent.OrderID,
		"user_id":       intent.UserID,
		"method":        method,
		"unique_amount": unique.StringFixed(2),
		"replaced":      len(replaced),
	}).Info("Payment request created")
	return intent, nil
}

func (s *PaymentService) publishReplaced(ctx context.Context, orderIDs []string) {
	for _, orderID := range orderIDs {
		prev, err := s.repos.Intents.GetByOrderID(ctx, orderID)
		if err != nil {
			continue
		}
		s.publish(ctx, prev, models.IntentStatusPending)
	}
}

func (s *PaymentService) publish(ctx context.Context, intent *models.PaymentIntent, prev models.IntentStatus) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, events.NewIntentEvent(intent, prev))
}

// newOrderID returns <prefix>-<yyyymmdd>-<8 hex>
func (s *PaymentService) newOrderID(now time.Time) string {
	prefix := s.cfg.OrderIDPrefix
	if prefix == "" {
		prefix = "AP"
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), strings.ToUpper(id[:8]))
}

// VerifyNow runs the method's source against the intent, then matches and credits synchronously.
// Verification failures are reported in the result; the returned error is for requests that cannot be verified at all.
func (s *PaymentService) VerifyNow(ctx context.Context, intentID uint64) (*VerifyResult, error) {
	intent, err := s.repos.Intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, intentLookupError(err, intentID)
	}

	switch intent.Status {
	case models.IntentStatusCompleted:
		result := &VerifyResult{OK: true, Message: "already completed", Intent: intent}
		if entry, err := s.repos.Ledger.GetByRef(ctx, intent.OrderID); err == nil {
			result.Credits = &entry.Amount
		}
		return result, nil
	case models.IntentStatusMatched:
		return s.settle(ctx, intent, nil), nil
	case models.IntentStatusExpired:
		return nil, types.NewPaymentError(types.KindIntentExpired, "payment request %s has expired", intent.OrderID)
	case models.IntentStatusCancelled:
		return nil, types.NewPaymentError(types.KindIntentNotPending, "payment request %s was cancelled", intent.OrderID)
	}
	if intent.IsExpired(s.now()) {
		return nil, types.NewPaymentError(types.KindIntentExpired, "payment request %s has expired", intent.OrderID)
	}

	source, ok := s.registry.Get(intent.Method)
	if !ok {
		return nil, types.NewPaymentError(types.KindInvalidMethod, "payment method %s is not available", intent.Method)
	}
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}

	candidate, err := source.Verify(ctx, intent, settings)
	if err != nil {
		return s.verifyFailure(intent, err), nil
	}

	matched, err := s.matcher.MatchVerified(ctx, intent, candidate)
	if err != nil {
		if errors.Is(err, ErrIntentNotPending) {
			// another worker matched or completed it first
			current, getErr := s.repos.Intents.GetByID(ctx, intent.ID)
			if getErr == nil && (current.Status == models.IntentStatusMatched || current.Status == models.IntentStatusCompleted) {
				return s.VerifyNow(ctx, intentID)
			}
		}
		var pe *PaymentError
		if errors.As(err, &pe) {
			return s.verifyFailure(intent, err), nil
		}
		return nil, err
	}
	return s.settle(ctx, matched.Intent, candidate), nil
}

func (s *PaymentService) settle(ctx context.Context, intent *models.PaymentIntent, candidate *models.DepositCandidate) *VerifyResult {
	result := &VerifyResult{Deposit: candidate, Intent: intent}
	credit, skipped, err := s.credit.Settle(ctx, intent)
	switch {
	case err != nil:
		result.Kind = types.KindOf(err)
		result.Message = types.UserMessage(err)
		result.Err = err
	case skipped:
		result.OK = true
		result.Message = "payment received, credits will be added by an operator"
	default:
		result.OK = true
		result.Credits = &credit.Credits
		result.Intent = credit.Intent
		result.Message = fmt.Sprintf("payment confirmed, %s credits added", credit.Credits.String())
		if !credit.Applied {
			result.Message = "already completed"
		}
	}
	outcome := "ok"
	if result.Kind != "" {
		outcome = string(result.Kind)
	}
	metrics.VerificationOutcomes.WithLabelValues(string(intent.Method), outcome).Inc()
	return result
}

func (s *PaymentService) verifyFailure(intent *models.PaymentIntent, err error) *VerifyResult {
	kind := types.KindOf(err)
	if kind == "" {
		kind = types.KindAdapterUnavailable
	}
	metrics.VerificationOutcomes.WithLabelValues(string(intent.Method), string(kind)).Inc()
	s.logger.WithFields(logrus.Fields{
		"order_id": intent.OrderID,
		"method":   intent.Method,
		"kind":     kind,
	}).WithError(err).Info("Verification did not match")
	return &VerifyResult{
		OK:      false,
		Kind:    kind,
		Message: types.UserMessage(err),
		Intent:  intent,
		Err:     err,
	}
}

// ListPending returns the user's active pending intents, newest first
func (s *PaymentService) ListPending(ctx context.Context, userID int64) ([]*models.PaymentIntent, error) {
	return s.repos.Intents.ListPendingByUser(ctx, userID, s.now())
}

// ListHistory pages through all of the user's intents
func (s *PaymentService) ListHistory(ctx context.Context, userID int64, page, pageSize int) ([]*models.PaymentIntent, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.repos.Intents.ListByUser(ctx, userID, page, pageSize)
}

// Cancel moves a pending intent to cancelled
func (s *PaymentService) Cancel(ctx context.Context, intentID uint64, reason string) (*models.PaymentIntent, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = CancelReasonUser
	}
	ok, err := s.repos.Intents.Transition(ctx, intentID, models.IntentStatusPending, models.IntentStatusCancelled, repository.IntentUpdate{
		Metadata: map[string]interface{}{
			"cancel_reason": reason,
			"cancelled_at":  s.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel payment request %d: %w", intentID, err)
	}
	intent, getErr := s.repos.Intents.GetByID(ctx, intentID)
	if getErr != nil {
		return nil, intentLookupError(getErr, intentID)
	}
	if !ok {
		return nil, types.NewPaymentError(types.KindIntentNotPending, "payment request %s is %s", intent.OrderID, intent.Status)
	}

	metrics.IntentsCancelled.WithLabelValues(string(intent.Method)).Inc()
	s.publish(ctx, intent, models.IntentStatusPending)
	s.logger.WithFields(logrus.Fields{"order_id": intent.OrderID, "reason": reason}).Info("Payment request cancelled")
	return intent, nil
}

// GetByOrderID looks an intent up by its public order id
func (s *PaymentService) GetByOrderID(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	intent, err := s.repos.Intents.GetByOrderID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, intentLookupError(err, orderID)
	}
	return intent, nil
}

// GetForUser loads an intent owned by userID; other users' intents are reported as missing
func (s *PaymentService) GetForUser(ctx context.Context, intentID uint64, userID int64) (*models.PaymentIntent, error) {
	intent, err := s.repos.Intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, intentLookupError(err, intentID)
	}
	if intent.UserID != userID {
		return nil, types.NewPaymentError(types.KindIntentNotFound, "payment request %d not found", intentID)
	}
	return intent, nil
}

// GetMatch returns the deposit that satisfied an intent
func (s *PaymentService) GetMatch(ctx context.Context, intentID uint64) (*models.DepositMatch, error) {
	match, err := s.repos.Intents.GetMatch(ctx, intentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return match, err
}

// Stats counts intents by status and sums completed amounts
func (s *PaymentService) Stats(ctx context.Context) (*models.IntentStats, error) {
	return s.repos.Intents.Stats(ctx)
}

// Balance returns the user's credit balance
func (s *PaymentService) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.repos.Ledger.GetBalance(ctx, userID)
}

// AttachTxHash sets the claim of a pending chain intent created without one
func (s *PaymentService) AttachTxHash(ctx context.Context, intentID uint64, hash string) (*models.PaymentIntent, error) {
	intent, err := s.repos.Intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, intentLookupError(err, intentID)
	}
	if !intent.Method.IsChain() {
		return nil, types.NewPaymentError(types.KindInvalidInput, "%s requests do not take a transaction hash", intent.Method)
	}
	claim := models.TxHashClaim(intent.Method, hash)
	if claim.IsEmpty() {
		return nil, types.NewPaymentError(types.KindInvalidInput, "transaction hash is required")
	}
	if err := claim.Validate(); err != nil {
		return nil, types.WrapPaymentError(types.KindInvalidInput, err, "%s", err.Error())
	}
	if intent.Status != models.IntentStatusPending {
		return nil, types.NewPaymentError(types.KindIntentNotPending, "payment request %s is %s", intent.OrderID, intent.Status)
	}
	used, err := s.repos.Intents.IsDepositMatched(ctx, string(intent.Method), claim.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to check tx hash: %w", err)
	}
	if used {
		return nil, types.NewPaymentError(types.KindInvalidInput, "this transaction was already used for another payment request")
	}

	ok, err := s.repos.Intents.SetUserTxHash(ctx, intentID, claim.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to attach tx hash: %w", err)
	}
	current, err := s.repos.Intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, intentLookupError(err, intentID)
	}
	if !ok {
		if current.Status != models.IntentStatusPending {
			return nil, types.NewPaymentError(types.KindIntentNotPending, "payment request %s is %s", current.OrderID, current.Status)
		}
		return nil, types.NewPaymentError(types.KindInvalidInput, "payment request %s already has a transaction hash", current.OrderID)
	}
	return current, nil
}

// Instructions renders the payment instructions shown after creation
func (s *PaymentService) Instructions(intent *models.PaymentIntent) string {
	expires := intent.ExpiresAt.UTC().Format("15:04:05 MST")
	amount := intent.UniqueAmount.StringFixed(2)

	var b strings.Builder
	switch intent.Method {
	case models.PaymentMethodExchangeEmail:
		fmt.Fprintf(&b, "Payment via exchange transfer\n\nAmount required: $%s\nSend to email: %s\n\n", amount, intent.DepositEmail)
		b.WriteString("Send the exact amount shown.\nEnter the email you send from so the transfer can be confirmed.\n")
	case models.PaymentMethodEVMToken:
		fmt.Fprintf(&b, "Payment via BEP-20 (BSC)\n\nAmount required: %s USDT\nAddress: %s\n\n", amount, intent.DepositAddress)
		b.WriteString("Send on the BSC (BEP-20) network only.\nSend the exact amount shown.\n")
	case models.PaymentMethodUTXOChain:
		fmt.Fprintf(&b, "Payment via Litecoin\n\nAmount required: %s LTC\nAddress: %s\n\n", amount, intent.DepositAddress)
		b.WriteString("Send the exact amount shown.\n")
	}
	b.WriteString("Credits are added automatically once the payment is confirmed.\n")
	fmt.Fprintf(&b, "\nRequest expires at: %s", expires)
	return b.String()
}

// TestConnection checks the configured credentials of one source
func (s *PaymentService) TestConnection(ctx context.Context, method string) error {
	m, ok := models.ParsePaymentMethod(method)
	if !ok {
		return types.NewPaymentError(types.KindInvalidMethod, "unsupported payment method %q", method)
	}
	source, ok := s.registry.Get(m)
	if !ok {
		return types.NewPaymentError(types.KindInvalidMethod, "payment method %s is not available", m)
	}
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return err
	}
	return source.TestConnection(ctx, settings)
}

// ManualCredit credits a matched intent on an operator's request
func (s *PaymentService) ManualCredit(ctx context.Context, intentID uint64) (*CreditResult, error) {
	intent, err := s.repos.Intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, intentLookupError(err, intentID)
	}
	if intent.Status != models.IntentStatusMatched && intent.Status != models.IntentStatusCompleted {
		return nil, types.NewPaymentError(types.KindIntentNotPending, "payment request %s is %s, only matched requests can be credited", intent.OrderID, intent.Status)
	}
	result, err := s.credit.Apply(ctx, intent, models.CreditTransactionManualRecharge)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"order_id": intent.OrderID,
		"credits":  result.Credits.String(),
		"applied":  result.Applied,
	}).Info("Manual credit processed")
	return result, nil
}
