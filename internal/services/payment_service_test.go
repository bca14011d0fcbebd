package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"autopay-backend/internal/events"
	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"
)

func verifiedDeposit(intent *models.PaymentIntent, txID string) *models.DepositCandidate {
	now := time.Now()
	return &models.DepositCandidate{
		Source:        intent.Method,
		TxID:          txID,
		Amount:        intent.UniqueAmount,
		Currency:      intent.Currency,
		Status:        "confirmed",
		Confirmations: 20,
		ObservedAt:    &now,
	}
}

func TestCreateIntent(t *testing.T) {
	env := newTestEnv(t)
	env.fixOffset(37)

	intent, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{
		UserID:            7,
		Method:            "evm_token",
		ExpectedAmountUSD: dec("10.00"),
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if !intent.UniqueAmount.Equal(dec("10.37")) {
		t.Fatalf("unique amount = %s, want 10.37", intent.UniqueAmount)
	}
	if intent.Status != models.IntentStatusPending {
		t.Fatalf("status = %s", intent.Status)
	}
	if intent.DepositAddress != testEVMAddress {
		t.Fatalf("deposit address = %q", intent.DepositAddress)
	}
	if intent.Currency != "USDT" {
		t.Fatalf("currency = %q", intent.Currency)
	}
	if !strings.HasPrefix(intent.OrderID, "AP-") || len(intent.OrderID) != len("AP-20060102-ABCDEF12") {
		t.Fatalf("order id = %q", intent.OrderID)
	}
	if got := intent.ExpiresAt.Sub(intent.CreatedAt); got != 60*time.Minute {
		t.Fatalf("expiry window = %v, want 60m", got)
	}
	if !env.publisher.has(events.EventIntentCreated, intent.OrderID) {
		t.Fatalf("no created event, got %v", env.publisher.types())
	}
	if !strings.Contains(env.svc.Instructions(intent), "10.37 USDT") {
		t.Fatalf("instructions missing amount: %s", env.svc.Instructions(intent))
	}
}

func TestCreateIntentValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		in   CreateIntentInput
		want error
	}{
		{"unknown method", CreateIntentInput{UserID: 1, Method: "paypal", ExpectedAmountUSD: dec("5")}, ErrInvalidMethod},
		{"zero amount", CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("0")}, ErrInvalidInput},
		{"huge amount", CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("100000.01")}, ErrInvalidInput},
		{"missing user", CreateIntentInput{Method: "evm_token", ExpectedAmountUSD: dec("5")}, ErrInvalidInput},
		{"exchange without sender", CreateIntentInput{UserID: 1, Method: "exchange_email", ExpectedAmountUSD: dec("5")}, ErrInvalidInput},
		{"bad sender email", CreateIntentInput{UserID: 1, Method: "exchange_email", ExpectedAmountUSD: dec("5"), SenderEmail: "not-an-email"}, ErrInvalidInput},
		{"bad tx hash", CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("5"), TxHash: "0x123"}, ErrInvalidInput},
		{"expiry too long", CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("5"), ExpiryMinutes: 5000}, ErrInvalidInput},
		{"expiry past reservation window", CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("5"), ExpiryMinutes: models.MaxExpiryMinutes + 1}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.CreateIntent(env.ctx, tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCreateIntentWithoutDestination(t *testing.T) {
	env := newTestEnv(t)
	env.setting(t, models.SettingUTXOChainAddress, "")

	_, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 1, Method: "utxo_chain", ExpectedAmountUSD: dec("5")})
	if !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("err = %v, want CredentialMissing", err)
	}
}

func TestCreateIntentAcceptsLegacyMethodName(t *testing.T) {
	env := newTestEnv(t)

	intent, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 3, Method: "litecoin", ExpectedAmountUSD: dec("4")})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.Method != models.PaymentMethodUTXOChain || intent.Currency != "LTC" {
		t.Fatalf("method=%s currency=%s", intent.Method, intent.Currency)
	}
}

func TestCreateIntentReplacesPending(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 9, Method: "evm_token", ExpectedAmountUSD: dec("15")})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	other, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 9, Method: "utxo_chain", ExpectedAmountUSD: dec("15")})
	if err != nil {
		t.Fatalf("other method: %v", err)
	}
	second, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 9, Method: "evm_token", ExpectedAmountUSD: dec("20")})
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	prev := env.reload(t, first.ID)
	if prev.Status != models.IntentStatusCancelled {
		t.Fatalf("replaced intent status = %s", prev.Status)
	}
	if got := prev.MetadataString("cancel_reason"); got != repository.CancelReasonReplaced {
		t.Fatalf("cancel_reason = %q", got)
	}
	if env.reload(t, other.ID).Status != models.IntentStatusPending {
		t.Fatalf("intent of another method was touched")
	}
	if env.reload(t, second.ID).Status != models.IntentStatusPending {
		t.Fatalf("new intent not pending")
	}
	if !env.publisher.has(events.EventIntentCancelled, first.OrderID) {
		t.Fatalf("no cancelled event for replaced intent, got %v", env.publisher.types())
	}

	pending, err := env.svc.ListPending(env.ctx, 9)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
}

func TestVerifyNowCompletesOnce(t *testing.T) {
	env := newTestEnv(t)
	intent, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{
		UserID:            42,
		Method:            "evm_token",
		ExpectedAmountUSD: dec("25.00"),
		TxHash:            testTxHash,
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	env.evm.verify = func(ctx context.Context, in *models.PaymentIntent, _ models.PaymentSettings) (*models.DepositCandidate, error) {
		return verifiedDeposit(in, in.UserTxHash), nil
	}

	result, err := env.svc.VerifyNow(env.ctx, intent.ID)
	if err != nil {
		t.Fatalf("VerifyNow: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not ok: %+v", result)
	}
	if result.Credits == nil || !result.Credits.Equal(dec("25")) {
		t.Fatalf("credits = %v, want 25", result.Credits)
	}

	stored := env.reload(t, intent.ID)
	if stored.Status != models.IntentStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if !strings.EqualFold(stored.TxHash, testTxHash) {
		t.Fatalf("tx hash = %q", stored.TxHash)
	}
	match, err := env.svc.GetMatch(env.ctx, intent.ID)
	if err != nil || match == nil {
		t.Fatalf("GetMatch: %v %v", match, err)
	}
	if match.Confidence != 1.0 {
		t.Fatalf("confidence = %v", match.Confidence)
	}
	if n, _ := env.repos.Ledger.CountByRef(env.ctx, intent.OrderID); n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}
	balance, _ := env.svc.Balance(env.ctx, 42)
	if !balance.Equal(dec("25")) {
		t.Fatalf("balance = %s", balance)
	}
	if !env.publisher.has(events.EventIntentMatched, intent.OrderID) || !env.publisher.has(events.EventIntentCompleted, intent.OrderID) {
		t.Fatalf("events = %v", env.publisher.types())
	}

	again, err := env.svc.VerifyNow(env.ctx, intent.ID)
	if err != nil {
		t.Fatalf("second VerifyNow: %v", err)
	}
	if !again.OK || again.Message != "already completed" {
		t.Fatalf("second result = %+v", again)
	}
	if n, _ := env.repos.Ledger.CountByRef(env.ctx, intent.OrderID); n != 1 {
		t.Fatalf("ledger rows after second verify = %d", n)
	}
}

func TestVerifyNowFailuresKeepIntentPending(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"amount mismatch", stubError(ErrAmountMismatch), ErrAmountMismatch},
		{"unconfirmed", stubError(ErrUnconfirmed), ErrUnconfirmed},
		{"no deposit", stubError(ErrNoPendingMatch), ErrNoPendingMatch},
		{"plain error", errors.New("connection reset"), ErrAdapterUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			intent, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{
				UserID:            5,
				Method:            "exchange_email",
				ExpectedAmountUSD: dec("12"),
				SenderEmail:       "buyer@example.com",
			})
			if err != nil {
				t.Fatalf("CreateIntent: %v", err)
			}
			env.exchange.verify = func(context.Context, *models.PaymentIntent, models.PaymentSettings) (*models.DepositCandidate, error) {
				return nil, tc.err
			}

			result, err := env.svc.VerifyNow(env.ctx, intent.ID)
			if err != nil {
				t.Fatalf("VerifyNow: %v", err)
			}
			if result.OK {
				t.Fatalf("result ok for %v", tc.err)
			}
			if tc.want != ErrAdapterUnavailable && !errors.Is(result.Err, tc.want) {
				t.Fatalf("err = %v, want %v", result.Err, tc.want)
			}
			if tc.want == ErrAdapterUnavailable && result.Kind != ErrAdapterUnavailable.Kind {
				t.Fatalf("kind = %s", result.Kind)
			}
			if env.reload(t, intent.ID).Status != models.IntentStatusPending {
				t.Fatalf("intent left pending state")
			}
		})
	}
}

func TestVerifyNowRejectsDepositUsedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 1, Method: "utxo_chain", ExpectedAmountUSD: dec("3")})
	b, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 2, Method: "utxo_chain", ExpectedAmountUSD: dec("3")})
	env.utxo.verify = func(ctx context.Context, in *models.PaymentIntent, _ models.PaymentSettings) (*models.DepositCandidate, error) {
		return verifiedDeposit(in, "shared-tx"), nil
	}

	if res, err := env.svc.VerifyNow(env.ctx, a.ID); err != nil || !res.OK {
		t.Fatalf("first verify: %+v %v", res, err)
	}
	res, err := env.svc.VerifyNow(env.ctx, b.ID)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if res.OK || !errors.Is(res.Err, ErrNoPendingMatch) {
		t.Fatalf("second result = %+v", res)
	}
	if env.reload(t, b.ID).Status != models.IntentStatusPending {
		t.Fatalf("second intent should stay pending")
	}
}

func TestVerifyNowExpired(t *testing.T) {
	env := newTestEnv(t)
	intent, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("8"), ExpiryMinutes: 5})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	env.svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	if _, err := env.svc.VerifyNow(env.ctx, intent.ID); !errors.Is(err, ErrIntentExpired) {
		t.Fatalf("err = %v, want IntentExpired", err)
	}

	env.expiry.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	n, err := env.expiry.Sweep(env.ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	if env.reload(t, intent.ID).Status != models.IntentStatusExpired {
		t.Fatalf("intent not expired")
	}
	if !env.publisher.has(events.EventIntentExpired, intent.OrderID) {
		t.Fatalf("no expired event, got %v", env.publisher.types())
	}
	if n, _ := env.expiry.Sweep(env.ctx); n != 0 {
		t.Fatalf("second sweep expired %d", n)
	}
	if _, err := env.svc.VerifyNow(env.ctx, intent.ID); !errors.Is(err, ErrIntentExpired) {
		t.Fatalf("err after sweep = %v", err)
	}
}

func TestVerifyNowUnknownIntent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.VerifyNow(env.ctx, 999); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("err = %v, want IntentNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	intent, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 4, Method: "evm_token", ExpectedAmountUSD: dec("6")})

	cancelled, err := env.svc.Cancel(env.ctx, intent.ID, "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.IntentStatusCancelled || cancelled.MetadataString("cancel_reason") != CancelReasonUser {
		t.Fatalf("cancelled = %+v", cancelled)
	}
	if _, err := env.svc.Cancel(env.ctx, intent.ID, ""); !errors.Is(err, ErrIntentNotPending) {
		t.Fatalf("second cancel err = %v", err)
	}
	if _, err := env.svc.Cancel(env.ctx, 12345, ""); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("missing cancel err = %v", err)
	}
	if _, err := env.svc.VerifyNow(env.ctx, intent.ID); !errors.Is(err, ErrIntentNotPending) {
		t.Fatalf("verify cancelled err = %v", err)
	}
}

func TestGetByOrderIDAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	intent, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 11, Method: "evm_token", ExpectedAmountUSD: dec("6")})

	got, err := env.svc.GetByOrderID(env.ctx, " "+intent.OrderID+" ")
	if err != nil || got.ID != intent.ID {
		t.Fatalf("GetByOrderID = %v, %v", got, err)
	}
	if _, err := env.svc.GetByOrderID(env.ctx, "AP-19700101-DEADBEEF"); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("missing order err = %v", err)
	}
	if _, err := env.svc.GetForUser(env.ctx, intent.ID, 12); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("foreign user err = %v", err)
	}
	if _, err := env.svc.GetForUser(env.ctx, intent.ID, 11); err != nil {
		t.Fatalf("owner err = %v", err)
	}
}

func TestAttachTxHash(t *testing.T) {
	env := newTestEnv(t)
	intent, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 2, Method: "evm_token", ExpectedAmountUSD: dec("9")})

	if _, err := env.svc.AttachTxHash(env.ctx, intent.ID, "0xnothex"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad hash err = %v", err)
	}
	updated, err := env.svc.AttachTxHash(env.ctx, intent.ID, testTxHash)
	if err != nil {
		t.Fatalf("AttachTxHash: %v", err)
	}
	if !strings.EqualFold(updated.UserTxHash, testTxHash) {
		t.Fatalf("user tx hash = %q", updated.UserTxHash)
	}
	if _, err := env.svc.AttachTxHash(env.ctx, intent.ID, testTxHash); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("second attach err = %v", err)
	}

	email, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 2, Method: "exchange_email", ExpectedAmountUSD: dec("9"), SenderEmail: "a@b.example"})
	if _, err := env.svc.AttachTxHash(env.ctx, email.ID, testTxHash); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("exchange attach err = %v", err)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.evm.verify = func(ctx context.Context, in *models.PaymentIntent, _ models.PaymentSettings) (*models.DepositCandidate, error) {
		return verifiedDeposit(in, "tx-"+in.OrderID), nil
	}
	a, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("10")})
	b, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 2, Method: "evm_token", ExpectedAmountUSD: dec("5.50")})
	_, _ = env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 3, Method: "evm_token", ExpectedAmountUSD: dec("1")})
	for _, id := range []uint64{a.ID, b.ID} {
		if res, err := env.svc.VerifyNow(env.ctx, id); err != nil || !res.OK {
			t.Fatalf("verify %d: %+v %v", id, res, err)
		}
	}

	stats, err := env.svc.Stats(env.ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[models.IntentStatusCompleted] != 2 || stats.ByStatus[models.IntentStatusPending] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if !stats.TotalCompletedUSD.Equal(dec("15.50")) {
		t.Fatalf("completed usd = %s", stats.TotalCompletedUSD)
	}
}

func TestManualCreditWhenAutoCreditDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.setting(t, models.SettingAutoCreditEnabled, "false")
	env.evm.verify = func(ctx context.Context, in *models.PaymentIntent, _ models.PaymentSettings) (*models.DepositCandidate, error) {
		return verifiedDeposit(in, "tx-manual"), nil
	}
	intent, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 8, Method: "evm_token", ExpectedAmountUSD: dec("20")})

	if _, err := env.svc.ManualCredit(env.ctx, intent.ID); !errors.Is(err, ErrIntentNotPending) {
		t.Fatalf("manual credit of pending intent err = %v", err)
	}

	result, err := env.svc.VerifyNow(env.ctx, intent.ID)
	if err != nil || !result.OK || result.Credits != nil {
		t.Fatalf("verify = %+v, %v", result, err)
	}
	if env.reload(t, intent.ID).Status != models.IntentStatusMatched {
		t.Fatalf("intent should wait in matched")
	}
	if n, _ := env.credit.RetryMatched(env.ctx); n != 0 {
		t.Fatalf("retry credited %d while disabled", n)
	}

	credit, err := env.svc.ManualCredit(env.ctx, intent.ID)
	if err != nil {
		t.Fatalf("ManualCredit: %v", err)
	}
	if !credit.Applied || !credit.Credits.Equal(dec("20")) {
		t.Fatalf("credit = %+v", credit)
	}
	entry, err := env.repos.Ledger.GetByRef(env.ctx, intent.OrderID)
	if err != nil || entry.TransactionType != models.CreditTransactionManualRecharge {
		t.Fatalf("ledger entry = %+v, %v", entry, err)
	}

	again, err := env.svc.ManualCredit(env.ctx, intent.ID)
	if err != nil || again.Applied {
		t.Fatalf("second manual credit = %+v, %v", again, err)
	}
}

func TestRetryMatchedCreditsLeftovers(t *testing.T) {
	env := newTestEnv(t)
	env.setting(t, models.SettingAutoCreditEnabled, "false")
	env.evm.verify = func(ctx context.Context, in *models.PaymentIntent, _ models.PaymentSettings) (*models.DepositCandidate, error) {
		return verifiedDeposit(in, "tx-retry"), nil
	}
	intent, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 8, Method: "evm_token", ExpectedAmountUSD: dec("4")})
	if _, err := env.svc.VerifyNow(env.ctx, intent.ID); err != nil {
		t.Fatalf("VerifyNow: %v", err)
	}

	env.setting(t, models.SettingAutoCreditEnabled, "true")
	n, err := env.credit.RetryMatched(env.ctx)
	if err != nil || n != 1 {
		t.Fatalf("RetryMatched = %d, %v", n, err)
	}
	if env.reload(t, intent.ID).Status != models.IntentStatusCompleted {
		t.Fatalf("intent not completed by retry")
	}
}

func TestCreditPrice(t *testing.T) {
	if got := CreditsFor(dec("10"), dec("0.3")); !got.Equal(dec("33.3333")) {
		t.Fatalf("CreditsFor = %s", got)
	}
	if got := CreditsFor(dec("10"), dec("0")); !got.Equal(dec("10")) {
		t.Fatalf("CreditsFor with zero price = %s", got)
	}
}

func TestTestConnection(t *testing.T) {
	env := newTestEnv(t)
	env.utxo.testErr = stubError(ErrCredentialMissing)

	if err := env.svc.TestConnection(env.ctx, "evm_token"); err != nil {
		t.Fatalf("evm: %v", err)
	}
	if err := env.svc.TestConnection(env.ctx, "utxo_chain"); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("utxo: %v", err)
	}
	if err := env.svc.TestConnection(env.ctx, "wire"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("unknown: %v", err)
	}
}

// stubError returns a fresh error of the sentinel's kind
func stubError(sentinel *PaymentError) error {
	return &PaymentError{Kind: sentinel.Kind, Message: "stub " + string(sentinel.Kind)}
}
