package services

import (
	"strings"
	"sync"
	"testing"
	"time"

	"autopay-backend/internal/models"
)

func TestMintUsesRandomOffset(t *testing.T) {
	env := newTestEnv(t)
	env.minter.intn = func(n int64) int64 {
		if n != 99 {
			t.Errorf("range size = %d, want 99", n)
		}
		return 36
	}

	amount, err := env.minter.Mint(env.ctx, models.PaymentMethodEVMToken, dec("10"))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if !amount.Equal(dec("10.37")) {
		t.Fatalf("amount = %s, want 10.37", amount)
	}
}

func TestMintFallsBackToScan(t *testing.T) {
	env := newTestEnv(t)
	env.setting(t, models.SettingUniqueMaxOffset, "0.01")
	env.minter.intn = func(int64) int64 { return 0 }

	first, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("10")})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 2, Method: "evm_token", ExpectedAmountUSD: dec("10")})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !first.UniqueAmount.Equal(dec("10.01")) || !second.UniqueAmount.Equal(dec("10.02")) {
		t.Fatalf("amounts = %s, %s", first.UniqueAmount, second.UniqueAmount)
	}

	// other methods and other bases do not collide
	ltc, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 3, Method: "utxo_chain", ExpectedAmountUSD: dec("10")})
	other, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 4, Method: "evm_token", ExpectedAmountUSD: dec("11")})
	if !ltc.UniqueAmount.Equal(dec("10.01")) || !other.UniqueAmount.Equal(dec("11.01")) {
		t.Fatalf("independent amounts = %s, %s", ltc.UniqueAmount, other.UniqueAmount)
	}
}

func TestMintReusesAmountOfClosedIntent(t *testing.T) {
	env := newTestEnv(t)
	env.fixOffset(5)

	first, _ := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 1, Method: "evm_token", ExpectedAmountUSD: dec("10")})
	if _, err := env.svc.Cancel(env.ctx, first.ID, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	second, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 2, Method: "evm_token", ExpectedAmountUSD: dec("10")})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.UniqueAmount.Equal(first.UniqueAmount) {
		t.Fatalf("amount %s not reused, got %s", first.UniqueAmount, second.UniqueAmount)
	}
}

func TestConcurrentCreatesGetDistinctAmounts(t *testing.T) {
	env := newTestEnv(t)
	env.setting(t, models.SettingUniqueMaxOffset, "9.99")

	const n = 1000
	var wg sync.WaitGroup
	amounts := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{
				UserID:            int64(i + 1),
				Method:            "evm_token",
				ExpectedAmountUSD: dec("10.00"),
			})
			if err != nil {
				errs[i] = err
				return
			}
			amounts[i] = intent.UniqueAmount.StringFixed(2)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("create %d: %v", i, errs[i])
		}
		if j, dup := seen[amounts[i]]; dup {
			t.Fatalf("amount %s minted for %d and %d", amounts[i], j, i)
		}
		seen[amounts[i]] = i
	}
	if len(seen) != n {
		t.Fatalf("distinct amounts = %d", len(seen))
	}
}

func TestMintRejectsExhaustedRange(t *testing.T) {
	env := newTestEnv(t)
	env.setting(t, models.SettingUniqueMaxOffset, "0.01")
	env.minter.intn = func(int64) int64 { return 0 }

	// min..max plus four widenings of one dollar
	for i := 0; i < 401; i++ {
		if _, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: int64(i + 1), Method: "utxo_chain", ExpectedAmountUSD: dec("1")}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	_, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 9999, Method: "utxo_chain", ExpectedAmountUSD: dec("1")})
	if err == nil || !strings.Contains(err.Error(), "no free unique amount") {
		t.Fatalf("err = %v, want exhaustion error", err)
	}
}

func TestMintKeepsAmountOfLongLivedIntent(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	// pending past the active window but not yet expired
	long := &models.PaymentIntent{
		UserID:            1,
		OrderID:           "AP-LONG-0001",
		Method:            models.PaymentMethodEVMToken,
		Currency:          models.PaymentMethodEVMToken.DefaultCurrency(),
		ExpectedAmountUSD: dec("10"),
		UniqueAmount:      dec("10.37"),
		Status:            models.IntentStatusPending,
		CreatedAt:         now.Add(-150 * time.Minute),
		ExpiresAt:         now.Add(90 * time.Minute),
	}
	if _, err := env.repos.Intents.CreateReplacingPending(env.ctx, long); err != nil {
		t.Fatalf("seed intent: %v", err)
	}

	env.fixOffset(37)
	fresh, err := env.svc.CreateIntent(env.ctx, CreateIntentInput{UserID: 2, Method: "evm_token", ExpectedAmountUSD: dec("10")})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if fresh.UniqueAmount.Equal(long.UniqueAmount) {
		t.Fatalf("amount %s reissued while still pending", fresh.UniqueAmount)
	}

	env.evm.candidates = []*models.DepositCandidate{candidate(models.PaymentMethodEVMToken, "tx-long", "10.37")}
	if _, err := env.polling.PollMethod(env.ctx, models.PaymentMethodEVMToken); err != nil {
		t.Fatalf("PollMethod: %v", err)
	}
	if got := env.reload(t, long.ID).Status; got != models.IntentStatusCompleted {
		t.Fatalf("long lived intent status = %s", got)
	}
	if got := env.reload(t, fresh.ID).Status; got != models.IntentStatusPending {
		t.Fatalf("new intent took another user's deposit: %s", got)
	}
}
