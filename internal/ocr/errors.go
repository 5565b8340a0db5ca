package ocr

import (
	"errors"
	"fmt"
)

// Common text extraction errors
var (
	// ErrDocumentTooLarge is returned when a document exceeds the synchronous
	// request limit of the cloud backends (20MB).
	ErrDocumentTooLarge = errors.New("document exceeds the maximum size (20MB)")

	// ErrInvalidPDF is returned when the data is not a readable PDF document.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	// ErrOCRFailed is returned when a backend fails to process the document.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrMissingConfiguration is returned when a backend lacks its project or
	// processor settings.
	ErrMissingConfiguration = errors.New("missing OCR backend configuration")

	// ErrTooManyPages is returned when the document has too many pages for
	// synchronous processing.
	ErrTooManyPages = errors.New("document has too many pages for synchronous processing")

	// ErrEmptyDocument is returned when no readable text was found.
	ErrEmptyDocument = errors.New("document contains no readable text")
)

// OCRError wraps errors with additional context about the extraction failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "VisionRecognizer.Recognize").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return &OCRError{Op: op, Err: err, Details: details}
}
