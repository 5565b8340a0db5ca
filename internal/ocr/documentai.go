package ocr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

// DocumentAIConfig identifies the OCR processor.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string // "us" or "eu"
	ProcessorID string
	Timeout     time.Duration
}

// ProcessorName returns the full resource name of the processor.
func (c DocumentAIConfig) ProcessorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

// DocumentAIRecognizer runs a Google Document AI OCR processor.
type DocumentAIRecognizer struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
}

// NewDocumentAIRecognizer creates the processor client on the regional endpoint.
func NewDocumentAIRecognizer(ctx context.Context, config DocumentAIConfig, opts ...option.ClientOption) (*DocumentAIRecognizer, error) {
	const op = "NewDocumentAIRecognizer"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, WrapOCRError(op, ErrMissingConfiguration, "project and processor ID are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAIRecognizer{client: client, config: config}, nil
}

// Name implements Recognizer.
func (p *DocumentAIRecognizer) Name() string { return "documentai" }

// Recognize implements Recognizer.
func (p *DocumentAIRecognizer) Recognize(ctx context.Context, data []byte) (*Result, error) {
	const op = "DocumentAIRecognizer.Recognize"
	startTime := time.Now()

	if len(data) > MaxDocumentSizeBytes {
		return nil, WrapOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(data)))
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.ProcessDocument(processCtx, &documentaipb.ProcessRequest{
		Name: p.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: documentMimeType(data),
			},
		},
	})
	if err != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Document AI error: %v", err))
	}
	if resp.Document == nil || strings.TrimSpace(resp.Document.Text) == "" {
		return nil, WrapOCRError(op, ErrEmptyDocument, "no text in response")
	}

	var confidenceSum float32
	var languages []string
	seen := make(map[string]bool)
	for _, page := range resp.Document.Pages {
		if page.Layout != nil {
			confidenceSum += page.Layout.Confidence
		}
		for _, lang := range page.DetectedLanguages {
			if lang.LanguageCode != "" && !seen[lang.LanguageCode] {
				seen[lang.LanguageCode] = true
				languages = append(languages, lang.LanguageCode)
			}
		}
	}

	result := &Result{
		Text:          resp.Document.Text,
		PageCount:     len(resp.Document.Pages),
		LanguageCodes: languages,
		ProcessedAt:   time.Now(),
	}
	if result.PageCount > 0 {
		result.Confidence = confidenceSum / float32(result.PageCount)
	}
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)
	return result, nil
}

// documentMimeType sniffs the raw document type Document AI expects.
func documentMimeType(data []byte) string {
	if mime := fileMimeType(data); mime != "" {
		return mime
	}
	return http.DetectContentType(data)
}

// Close closes the underlying Document AI client.
func (p *DocumentAIRecognizer) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
