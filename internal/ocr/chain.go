package ocr

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"rechnungen/internal/config"
	"rechnungen/internal/logger"
)

// TextLayer reads text embedded in a document.
type TextLayer interface {
	ExtractText(ctx context.Context, data []byte) string
}

// Chain reads the text layer and falls back to OCR when it is empty.
type Chain struct {
	layer      TextLayer
	recognizer Recognizer
	log        zerolog.Logger
}

// NewChain combines a text layer reader with an optional OCR backend.
func NewChain(layer TextLayer, recognizer Recognizer) *Chain {
	return &Chain{
		layer:      layer,
		recognizer: recognizer,
		log:        logger.WithComponent("text-extractor"),
	}
}

// New builds the chain for the configured TEXT_BACKEND.
func New(ctx context.Context, cfg *config.Config) (*Chain, error) {
	const op = "ocr.New"

	if err := cfg.ValidateText(); err != nil {
		return nil, WrapOCRError(op, ErrMissingConfiguration, err.Error())
	}

	var recognizer Recognizer
	switch cfg.TextBackend {
	case config.TextBackendVision:
		r, err := NewVisionRecognizer(ctx, cfg.GoogleClientOptions()...)
		if err != nil {
			return nil, err
		}
		recognizer = r
	case config.TextBackendDocumentAI:
		r, err := NewDocumentAIRecognizer(ctx, DocumentAIConfig{
			ProjectID:   cfg.GoogleCloudProject,
			Location:    cfg.GoogleCloudLocation,
			ProcessorID: cfg.DocumentAIProcessorID,
		}, cfg.GoogleClientOptions()...)
		if err != nil {
			return nil, err
		}
		recognizer = r
	case config.TextBackendPDF:
	default:
		return nil, WrapOCRError(op, ErrMissingConfiguration, fmt.Sprintf("unknown text backend %q", cfg.TextBackend))
	}

	return NewChain(NewPDFText(), recognizer), nil
}

// ExtractText returns the document text, or "" when neither the text layer
// nor the OCR backend yields any. Backend failures are logged, not returned.
func (c *Chain) ExtractText(ctx context.Context, data []byte) string {
	if c.layer != nil {
		if text := c.layer.ExtractText(ctx, data); strings.TrimSpace(text) != "" {
			return text
		}
	}
	if c.recognizer == nil {
		return ""
	}

	result, err := c.recognizer.Recognize(ctx, data)
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("backend", c.recognizer.Name()).
			Int("size", len(data)).
			Msg("OCR failed")
		return ""
	}

	c.log.Info().
		Str("backend", c.recognizer.Name()).
		Int("pages", result.PageCount).
		Float32("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Msg("Text recognized via OCR")
	return result.Text
}

// Recognize skips the text layer and runs the OCR backend directly.
func (c *Chain) Recognize(ctx context.Context, data []byte) (*Result, error) {
	if c.recognizer == nil {
		return nil, WrapOCRError("Chain.Recognize", ErrMissingConfiguration, "no OCR backend configured (TEXT_BACKEND=pdf)")
	}
	return c.recognizer.Recognize(ctx, data)
}

// Close releases the OCR backend, if it holds a client.
func (c *Chain) Close() error {
	if closer, ok := c.recognizer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
