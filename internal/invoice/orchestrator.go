package invoice

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rechnungen/internal/logger"
	"rechnungen/pkg/models"
)

// Extraction sources.
const (
	SourceCompletion = "completion"
	SourcePatterns   = "patterns"
	SourceMerged     = "merged"
)

// Extraction is the combined result for one document.
type Extraction struct {
	Invoice *models.Invoice

	// Source says which extractor produced the record.
	Source string

	// Filled lists the fields taken from the pattern result after a
	// successful completion.
	Filled []string

	// Derived names the amount computed from the VAT identity, if any.
	Derived string

	// Excerpt is the start of the document text.
	Excerpt string

	// Guess is the raw completion outcome.
	Guess Guess
}

// Orchestrator combines the completion and pattern extractors per document.
type Orchestrator struct {
	text       TextExtractor
	completion Completer
	patterns   *PatternExtractor
	log        zerolog.Logger
}

// NewOrchestrator wires the extractors. completion may be nil, in which case
// every document is handled by the pattern rules alone.
func NewOrchestrator(text TextExtractor, completion Completer, patterns *PatternExtractor) *Orchestrator {
	if patterns == nil {
		patterns = NewPatternExtractor()
	}
	return &Orchestrator{
		text:       text,
		completion: completion,
		patterns:   patterns,
		log:        logger.WithComponent("orchestrator"),
	}
}

// Extract produces the invoice record of doc. It returns ErrRejected, along
// with the partial extraction, when the record lacks its invoice number or
// supplier.
func (o *Orchestrator) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	const op = "Orchestrator.Extract"

	if len(doc.Data) == 0 {
		return nil, &InvoiceProcessingError{Op: op, Err: ErrEmptyDocument, Document: doc.Name}
	}

	var text string
	if o.text != nil && doc.IsPDF() {
		text = o.text.ExtractText(ctx, doc.Data)
	}

	result := &Extraction{}
	if o.completion != nil {
		result.Guess = o.completion.Extract(ctx, doc, text)
	}

	patterns := o.patterns.Extract(text)
	result.Excerpt = patterns.Excerpt

	if result.Guess.Found {
		// An amount the patterns derived from their own values must not be
		// mixed with amounts from the completion.
		fallback := *patterns.Invoice
		clearAmount(&fallback, patterns.Derived)

		result.Invoice = result.Guess.Invoice
		result.Filled = result.Invoice.Merge(&fallback)
		result.Derived = DeriveMissingAmounts(result.Invoice)
		result.Source = SourceCompletion
		if len(result.Filled) > 0 {
			result.Source = SourceMerged
		}
	} else {
		result.Invoice = patterns.Invoice
		result.Derived = patterns.Derived
		result.Source = SourcePatterns
	}

	inv := result.Invoice
	inv.SourceFilePath = doc.Path

	log := o.log.With().
		Str("attachment", doc.Name).
		Str("source", result.Source).
		Logger()

	if !VATIdentityHolds(inv) {
		log.Warn().
			Str("net", inv.NetAmount.Decimal.StringFixed(2)).
			Str("vat", inv.VATAmount.Decimal.StringFixed(2)).
			Str("gross", inv.GrossAmount.Decimal.StringFixed(2)).
			Msg("Amounts do not satisfy gross = net + VAT")
	}

	if missing := inv.MissingRequired(); len(missing) > 0 {
		log.Warn().
			Strs("missing", missing).
			Int("text_length", len(text)).
			Str("excerpt", patterns.Excerpt).
			Msg("Invoice rejected")
		return result, &InvoiceProcessingError{
			Op:       op,
			Err:      ErrRejected,
			Details:  "missing " + strings.Join(missing, ", "),
			Document: doc.Name,
		}
	}

	log.Info().
		Str("invoice_number", inv.InvoiceNumber).
		Str("supplier", inv.Supplier).
		Strs("filled", result.Filled).
		Str("derived", result.Derived).
		Msg("Invoice extracted")

	return result, nil
}

func clearAmount(inv *models.Invoice, name string) {
	switch name {
	case DerivedGross:
		inv.GrossAmount = decimal.NullDecimal{}
	case DerivedNet:
		inv.NetAmount = decimal.NullDecimal{}
	case DerivedVAT:
		inv.VATAmount = decimal.NullDecimal{}
	}
}
