package claimstatus

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a claim cannot be resolved. Stores return
	// it (optionally wrapped) for missing rows.
	ErrNotFound = errors.New("claim not found")
	// ErrInvalidStatus is returned for values outside the status enumeration.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrStorage wraps persistence failures. Callers may retry.
	ErrStorage = errors.New("storage error")
)

// ValidationError names the field that failed a per-status requirement.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// storageErr classifies a store error: missing rows stay ErrNotFound,
// anything else becomes ErrStorage.
func storageErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
