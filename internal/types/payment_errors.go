// Package types provides the error taxonomy shared by payment sources and services
package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies payment failures
type ErrorKind string

const (
	KindInvalidMethod      ErrorKind = "InvalidMethod"
	KindInvalidInput       ErrorKind = "InvalidInput"
	KindIntentNotFound     ErrorKind = "IntentNotFound"
	KindNoPendingMatch     ErrorKind = "NoPendingMatch"
	KindAmountMismatch     ErrorKind = "AmountMismatch"
	KindUnconfirmed        ErrorKind = "Unconfirmed"
	KindNotFound           ErrorKind = "NotFound"
	KindWrongRecipient     ErrorKind = "WrongRecipient"
	KindAdapterUnavailable ErrorKind = "AdapterUnavailable"
	KindCredentialMissing  ErrorKind = "CredentialMissing"
	KindIntentExpired      ErrorKind = "IntentExpired"
	KindIntentNotPending   ErrorKind = "IntentNotPending"
	KindCreditApplyFailed  ErrorKind = "CreditApplyFailed"
)

// Sentinels for errors.Is; a PaymentError matches the sentinel of its kind
var (
	ErrInvalidMethod      = &PaymentError{Kind: KindInvalidMethod}
	ErrInvalidInput       = &PaymentError{Kind: KindInvalidInput}
	ErrIntentNotFound     = &PaymentError{Kind: KindIntentNotFound}
	ErrNoPendingMatch     = &PaymentError{Kind: KindNoPendingMatch}
	ErrAmountMismatch     = &PaymentError{Kind: KindAmountMismatch}
	ErrUnconfirmed        = &PaymentError{Kind: KindUnconfirmed}
	ErrNotFound           = &PaymentError{Kind: KindNotFound}
	ErrWrongRecipient     = &PaymentError{Kind: KindWrongRecipient}
	ErrAdapterUnavailable = &PaymentError{Kind: KindAdapterUnavailable}
	ErrCredentialMissing  = &PaymentError{Kind: KindCredentialMissing}
	ErrIntentExpired      = &PaymentError{Kind: KindIntentExpired}
	ErrIntentNotPending   = &PaymentError{Kind: KindIntentNotPending}
	ErrCreditApplyFailed  = &PaymentError{Kind: KindCreditApplyFailed}
)

// PaymentError is the typed error returned across the payment boundary
type PaymentError struct {
	Kind    ErrorKind
	Message string // user-facing text
	Err     error  // underlying cause, not shown to users
}

// NewPaymentError builds a PaymentError with a formatted message
func NewPaymentError(kind ErrorKind, format string, args ...interface{}) *PaymentError {
	return &PaymentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapPaymentError builds a PaymentError around a cause
func WrapPaymentError(kind ErrorKind, err error, format string, args ...interface{}) *PaymentError {
	return &PaymentError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is matches any PaymentError of the same kind
func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	return ok && t.Kind == e.Kind
}

// Transient reports whether the next poll or manual verify may succeed without user action
func (e *PaymentError) Transient() bool {
	switch e.Kind {
	case KindAdapterUnavailable, KindUnconfirmed, KindNoPendingMatch:
		return true
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not a PaymentError
func KindOf(err error) ErrorKind {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// UserMessage returns the user-facing text of err
func UserMessage(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		if pe.Message != "" {
			return pe.Message
		}
		return string(pe.Kind)
	}
	return "internal error"
}
