package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when input is rejected before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced video does not exist in the channel.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps connectivity and driver failures of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

var (
	ErrInvalidChannelName  = fmt.Errorf("%w: invalid channel name", ErrValidation)
	ErrReservedChannelName = fmt.Errorf("%w: reserved channel name", ErrValidation)
	ErrEmptyURL            = fmt.Errorf("%w: url is required", ErrValidation)
	ErrEmptyPatch          = fmt.Errorf("%w: no fields to update", ErrValidation)
	ErrDuplicateURL        = fmt.Errorf("%w: url already queued on channel", ErrValidation)
)

// Unavailable wraps a backend error so callers can match ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
