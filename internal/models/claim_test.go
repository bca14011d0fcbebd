package models

import (
	"strings"
	"testing"
)

func TestNewClaimDerivesMethod(t *testing.T) {
	c, err := NewClaim(PaymentMethodExchangeEmail, "  Alice@Ex.com ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsSenderEmail() || c.Method() != PaymentMethodExchangeEmail || c.Value() != "alice@ex.com" {
		t.Fatalf("unexpected claim %s", c)
	}

	hash := "0x" + strings.Repeat("AB", 32)
	c, err = NewClaim(PaymentMethodEVMToken, "", hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsTxHash() || c.Value() != strings.ToLower(hash) {
		t.Fatalf("unexpected claim %s", c)
	}
}

func TestNewClaimRejectsInvalidCombinations(t *testing.T) {
	cases := []struct {
		name   string
		method PaymentMethod
		email  string
		hash   string
	}{
		{"email without address", PaymentMethodExchangeEmail, "", ""},
		{"email with hash", PaymentMethodExchangeEmail, "a@b.co", "0x" + strings.Repeat("1", 64)},
		{"chain with email", PaymentMethodEVMToken, "a@b.co", ""},
		{"evm hash without prefix", PaymentMethodEVMToken, "", strings.Repeat("1", 64)},
		{"utxo hash with prefix", PaymentMethodUTXOChain, "", "0x" + strings.Repeat("1", 64)},
		{"unknown method", PaymentMethod("paypal"), "a@b.co", ""},
	}
	for _, tc := range cases {
		if _, err := NewClaim(tc.method, tc.email, tc.hash); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestChainClaimMayBeEmpty(t *testing.T) {
	c, err := NewClaim(PaymentMethodUTXOChain, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsEmpty() {
		t.Fatal("expected empty claim")
	}
	var intent PaymentIntent
	c.Apply(&intent)
	if intent.Method != PaymentMethodUTXOChain || intent.UserTxHash != "" || intent.UserSenderEmail != "" {
		t.Fatalf("unexpected intent claim columns: %+v", intent)
	}
}

func TestParsePaymentMethodLegacyNames(t *testing.T) {
	for raw, want := range map[string]PaymentMethod{
		"coinex":         PaymentMethodExchangeEmail,
		"BEP20":          PaymentMethodEVMToken,
		"litecoin":       PaymentMethodUTXOChain,
		"exchange_email": PaymentMethodExchangeEmail,
	} {
		got, ok := ParsePaymentMethod(raw)
		if !ok || got != want {
			t.Fatalf("%s: expected %s got %s", raw, want, got)
		}
	}
	if _, ok := ParsePaymentMethod("paypal"); ok {
		t.Fatal("expected paypal to be rejected")
	}
}
