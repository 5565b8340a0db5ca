// Package ocr turns attachment bytes into plain text for the pattern rules and
// the completion prompt.
//
// Text is read from the embedded PDF text layer first (PDFText). Scanned
// documents have no text layer; for those a Recognizer backend is consulted:
//   - Google Cloud Vision document text detection (TEXT_BACKEND=vision)
//   - Google Document AI OCR processor (TEXT_BACKEND=documentai)
//
// With TEXT_BACKEND=pdf (the default) only the text layer is used.
//
// Credentials for the cloud backends come from GOOGLE_APPLICATION_CREDENTIALS
// or GOOGLE_CREDENTIALS.
package ocr

import (
	"context"
	"time"
)

// Recognizer is an OCR backend for documents without a text layer.
type Recognizer interface {
	// Recognize returns the text of the document in reading order.
	Recognize(ctx context.Context, data []byte) (*Result, error)

	// Name identifies the backend in logs.
	Name() string
}

// Result contains the recognized text with metadata.
type Result struct {
	// Text is the content of all pages, concatenated in reading order.
	Text string `json:"text"`

	// PageCount is the number of pages that were processed.
	PageCount int `json:"page_count"`

	// Confidence is the average confidence across all detected text (0.0 to 1.0).
	Confidence float32 `json:"confidence"`

	// LanguageCodes contains the detected languages in the document.
	LanguageCodes []string `json:"language_codes,omitempty"`

	ProcessedAt        time.Time     `json:"processed_at"`
	ProcessingDuration time.Duration `json:"processing_duration"`
}
