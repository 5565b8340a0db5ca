package store

import (
	"errors"
	"fmt"
)

// Common storage errors
var (
	// ErrValidation is returned by Upsert when the record lacks its invoice
	// number or supplier. Storage is not touched.
	ErrValidation = errors.New("invoice failed validation")

	// ErrNotFound is returned when no invoice has the requested number.
	ErrNotFound = errors.New("invoice not found")

	// ErrUnsupportedDSN is returned for a DATABASE_URL that names neither
	// postgres nor sqlite.
	ErrUnsupportedDSN = errors.New("unsupported DATABASE_URL, expected postgres:// or sqlite://")
)

// StoreError wraps errors with the failing operation.
type StoreError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("store: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("store: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapStoreError wraps an error as a StoreError if it isn't already one.
func WrapStoreError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &StoreError{Op: op, Err: err, Details: details}
}
