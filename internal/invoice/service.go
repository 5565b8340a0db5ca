// Package invoice turns invoice documents into models.Invoice records.
//
// Two extractors are combined by the Orchestrator:
//   - CompletionExtractor asks an OpenAI-compatible chat completion endpoint
//     for the fields. It is best-effort: it costs money and time, is rate
//     limited and may be unavailable, so its result is a Guess that is either
//     found or absent.
//   - PatternExtractor applies ordered regular-expression rules (DefaultRules)
//     to the document text. It is deterministic and never fails.
//
// The completion result is used first; the pattern result fills every field
// the completion left empty. Conflicting values are not cross-checked: the
// completion value is kept. Finally a missing amount is derived from the
// other two via gross = net + VAT.
//
// Required Environment Variables (completion only):
//   - OPENAI_API_KEY: API key of the completion endpoint
//   - OPENAI_BASE_URL: optional, for OpenAI-compatible gateways
//   - OPENAI_MODEL: defaults to gpt-4.1-mini
package invoice

import (
	"context"
	"path/filepath"
	"strings"
)

// Document is one attachment handed to the orchestrator.
type Document struct {
	// Name is the attachment filename.
	Name string

	// MimeType as reported by the mail provider.
	MimeType string

	// Data holds the raw bytes.
	Data []byte

	// Path is where the attachment was stored. It becomes the invoice's
	// source file path.
	Path string
}

// IsPDF reports whether the document looks like a PDF by type, name or header.
func (d Document) IsPDF() bool {
	if strings.EqualFold(d.MimeType, "application/pdf") {
		return true
	}
	if strings.EqualFold(filepath.Ext(d.Name), ".pdf") {
		return true
	}
	return len(d.Data) >= 4 && string(d.Data[:4]) == "%PDF"
}

// TextExtractor turns document bytes into text. Implementations return ""
// on failure instead of an error.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte) string
}

// Completer is the probabilistic extractor consumed by the orchestrator.
type Completer interface {
	Extract(ctx context.Context, doc Document, text string) Guess
}
