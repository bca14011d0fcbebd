package models

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// ClaimKind tells which identifier a Claim carries
type ClaimKind int

const (
	ClaimSenderEmail ClaimKind = iota + 1
	ClaimTxHash
)

// Claim is the user-supplied identifier that lets a source locate the deposit.
// A sender email always belongs to exchange_email; a tx hash carries its chain method.
type Claim struct {
	kind   ClaimKind
	method PaymentMethod
	value  string
}

var (
	evmTxHashPattern  = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	utxoTxHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// ClaimKindFor returns the kind of identifier users of method supply
func ClaimKindFor(method PaymentMethod) ClaimKind {
	if method == PaymentMethodExchangeEmail {
		return ClaimSenderEmail
	}
	return ClaimTxHash
}

// SenderEmailClaim builds an exchange_email claim
func SenderEmailClaim(email string) Claim {
	return Claim{
		kind:   ClaimSenderEmail,
		method: PaymentMethodExchangeEmail,
		value:  strings.ToLower(strings.TrimSpace(email)),
	}
}

// TxHashClaim builds a chain claim; an empty hash means amount-only matching
func TxHashClaim(method PaymentMethod, hash string) Claim {
	return Claim{
		kind:   ClaimTxHash,
		method: method,
		value:  strings.ToLower(strings.TrimSpace(hash)),
	}
}

// NewClaim builds the claim for method from the raw user input
func NewClaim(method PaymentMethod, senderEmail, txHash string) (Claim, error) {
	switch method {
	case PaymentMethodExchangeEmail:
		if strings.TrimSpace(txHash) != "" {
			return Claim{}, fmt.Errorf("tx hash is not accepted for %s", method)
		}
		c := SenderEmailClaim(senderEmail)
		if err := c.Validate(); err != nil {
			return Claim{}, err
		}
		return c, nil
	case PaymentMethodEVMToken, PaymentMethodUTXOChain:
		if strings.TrimSpace(senderEmail) != "" {
			return Claim{}, fmt.Errorf("sender email is not accepted for %s", method)
		}
		c := TxHashClaim(method, txHash)
		if err := c.Validate(); err != nil {
			return Claim{}, err
		}
		return c, nil
	}
	return Claim{}, fmt.Errorf("unsupported payment method %q", method)
}

func (c Claim) Kind() ClaimKind { return c.kind }
func (c Claim) Method() PaymentMethod { return c.method }
func (c Claim) Value() string { return c.value }
func (c Claim) IsEmpty() bool { return c.value == "" }
func (c Claim) IsSenderEmail() bool { return c.kind == ClaimSenderEmail }
func (c Claim) IsTxHash() bool { return c.kind == ClaimTxHash }
func (c Claim) String() string { return fmt.Sprintf("%s:%s", c.method, c.value) }

// Validate checks the identifier format. Empty chain hashes are allowed.
func (c Claim) Validate() error {
	switch c.kind {
	case ClaimSenderEmail:
		if c.value == "" {
			return fmt.Errorf("sender email is required")
		}
		if _, err := mail.ParseAddress(c.value); err != nil {
			return fmt.Errorf("invalid sender email %q", c.value)
		}
		return nil
	case ClaimTxHash:
		if c.value == "" {
			return nil
		}
		switch c.method {
		case PaymentMethodEVMToken:
			if !evmTxHashPattern.MatchString(c.value) {
				return fmt.Errorf("invalid evm tx hash %q", c.value)
			}
		case PaymentMethodUTXOChain:
			if !utxoTxHashPattern.MatchString(c.value) {
				return fmt.Errorf("invalid utxo tx hash %q", c.value)
			}
		default:
			return fmt.Errorf("tx hash claim for non-chain method %q", c.method)
		}
		return nil
	}
	return fmt.Errorf("empty claim")
}

// Apply writes the claim into the intent's claim columns
func (c Claim) Apply(intent *PaymentIntent) {
	intent.Method = c.method
	intent.UserSenderEmail = ""
	intent.UserTxHash = ""
	if c.kind == ClaimSenderEmail {
		intent.UserSenderEmail = c.value
		return
	}
	intent.UserTxHash = c.value
}
