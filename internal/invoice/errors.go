package invoice

import (
	"errors"
	"fmt"
)

// Common invoice extraction errors
var (
	// ErrRejected is returned by the orchestrator when a document yields no
	// invoice number or no supplier after both extractors ran. Rejected
	// records never reach the invoice store.
	ErrRejected = errors.New("invoice rejected: invoice number and supplier are required")

	// ErrEmptyDocument is returned when a document carries no bytes at all.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrNoCompletion marks a completion attempt that produced no usable result.
	// It never leaves this package as an error; it is recorded in Guess.Err.
	ErrNoCompletion = errors.New("completion service returned no result")

	// ErrSchemaMismatch marks a completion response that does not match the
	// invoice schema.
	ErrSchemaMismatch = errors.New("completion response does not match invoice schema")

	// ErrMissingCredentials is returned when the completion service has no API key.
	ErrMissingCredentials = errors.New("missing OPENAI_API_KEY")
)

// InvoiceProcessingError wraps errors with the document they relate to.
type InvoiceProcessingError struct {
	// Op is the operation that failed (e.g., "Orchestrator.Extract").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string

	// Document is the attachment name, if known.
	Document string
}

// Error implements the error interface.
func (e *InvoiceProcessingError) Error() string {
	switch {
	case e.Document != "" && e.Details != "":
		return fmt.Sprintf("invoice: %s failed for %s: %s: %v", e.Op, e.Document, e.Details, e.Err)
	case e.Details != "":
		return fmt.Sprintf("invoice: %s failed: %s: %v", e.Op, e.Details, e.Err)
	case e.Document != "":
		return fmt.Sprintf("invoice: %s failed for %s: %v", e.Op, e.Document, e.Err)
	}
	return fmt.Sprintf("invoice: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *InvoiceProcessingError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *InvoiceProcessingError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInvoiceProcessingError creates a new InvoiceProcessingError.
func NewInvoiceProcessingError(op string, err error, details string) *InvoiceProcessingError {
	return &InvoiceProcessingError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapInvoiceProcessingError wraps an error as an InvoiceProcessingError if it isn't already one.
func WrapInvoiceProcessingError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var invoiceErr *InvoiceProcessingError
	if errors.As(err, &invoiceErr) {
		return err
	}

	return NewInvoiceProcessingError(op, err, details)
}
