package handlers

import (
	"errors"
	"net/http"
	"testing"

	"autopay-backend/internal/types"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{types.NewPaymentError(types.KindInvalidMethod, "x"), http.StatusBadRequest},
		{types.NewPaymentError(types.KindInvalidInput, "x"), http.StatusBadRequest},
		{types.NewPaymentError(types.KindIntentNotFound, "x"), http.StatusNotFound},
		{types.NewPaymentError(types.KindIntentNotPending, "x"), http.StatusConflict},
		{types.NewPaymentError(types.KindIntentExpired, "x"), http.StatusConflict},
		{types.NewPaymentError(types.KindAdapterUnavailable, "x"), http.StatusServiceUnavailable},
		{types.NewPaymentError(types.KindCredentialMissing, "x"), http.StatusServiceUnavailable},
		{types.NewPaymentError(types.KindCreditApplyFailed, "x"), http.StatusUnprocessableEntity},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
