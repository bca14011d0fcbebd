package services

import (
	"errors"

	"autopay-backend/internal/repository"
	"autopay-backend/internal/types"
)

// PaymentError and its kinds are shared with the sources package
type (
	PaymentError = types.PaymentError
	ErrorKind    = types.ErrorKind
)

var (
	ErrInvalidMethod      = types.ErrInvalidMethod
	ErrInvalidInput       = types.ErrInvalidInput
	ErrIntentNotFound     = types.ErrIntentNotFound
	ErrNoPendingMatch     = types.ErrNoPendingMatch
	ErrAmountMismatch     = types.ErrAmountMismatch
	ErrUnconfirmed        = types.ErrUnconfirmed
	ErrNotFound           = types.ErrNotFound
	ErrWrongRecipient     = types.ErrWrongRecipient
	ErrAdapterUnavailable = types.ErrAdapterUnavailable
	ErrCredentialMissing  = types.ErrCredentialMissing
	ErrIntentExpired      = types.ErrIntentExpired
	ErrIntentNotPending   = types.ErrIntentNotPending
	ErrCreditApplyFailed  = types.ErrCreditApplyFailed
)

// intentLookupError maps a repository miss to IntentNotFound
func intentLookupError(err error, ref interface{}) error {
	if errors.Is(err, repository.ErrNotFound) {
		return types.NewPaymentError(types.KindIntentNotFound, "payment request %v not found", ref)
	}
	return err
}
