package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrDepositAlreadyMatched is returned when a deposit already satisfied another intent
	ErrDepositAlreadyMatched = errors.New("deposit already matched")
	// ErrStatusConflict is returned when a row is not in the status a write expected
	ErrStatusConflict = errors.New("intent status changed concurrently")
	// ErrPendingExists is returned when (user, method) already has a pending intent
	ErrPendingExists = errors.New("pending intent already exists for user and method")
)

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
