package invoice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"rechnungen/internal/config"
	"rechnungen/internal/logger"
	"rechnungen/pkg/models"
)

// CompletionConfig configures the completion-based extractor
type CompletionConfig struct {
	Model             string        // e.g. gpt-4.1-mini
	MaxTokens         int           // response token limit
	Timeout           time.Duration // per request
	RequestsPerMinute int           // 0 disables the limiter
	MaxTextChars      int           // document text sent per request
}

// DefaultCompletionConfig returns the settings used when nothing is configured.
func DefaultCompletionConfig() CompletionConfig {
	return CompletionConfig{
		Model:             "gpt-4.1-mini",
		MaxTokens:         1000,
		Timeout:           60 * time.Second,
		RequestsPerMinute: 20,
		MaxTextChars:      20000,
	}
}

// Guess is the best-effort result of the completion extractor. When Found is
// false, Invoice is nil and Err says why; callers branch on Found and never
// treat Err as fatal.
type Guess struct {
	Invoice  *models.Invoice
	Found    bool
	Err      error
	Duration time.Duration
}

// CompletionExtractor asks an OpenAI-compatible chat completion endpoint for
// the invoice fields of a document.
type CompletionExtractor struct {
	client  *openai.Client
	limiter *rate.Limiter
	schema  *jsonschema.Schema
	config  CompletionConfig
	log     zerolog.Logger
}

// NewCompletionExtractor creates the extractor from the process configuration.
func NewCompletionExtractor(cfg *config.Config) (*CompletionExtractor, error) {
	const op = "NewCompletionExtractor"

	if cfg.OpenAIAPIKey == "" {
		return nil, WrapInvoiceProcessingError(op, ErrMissingCredentials, "")
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.OpenAITimeout}

	completionConfig := DefaultCompletionConfig()
	completionConfig.Model = cfg.OpenAIModel
	completionConfig.MaxTokens = cfg.OpenAIMaxTokens
	completionConfig.Timeout = cfg.OpenAITimeout
	completionConfig.RequestsPerMinute = cfg.OpenAIRequestsPerMinute

	return NewCompletionExtractorWithDeps(openai.NewClientWithConfig(clientConfig), completionConfig)
}

// NewCompletionExtractorWithDeps creates the extractor with an explicit client (for testing).
func NewCompletionExtractorWithDeps(client *openai.Client, completionConfig CompletionConfig) (*CompletionExtractor, error) {
	const op = "NewCompletionExtractorWithDeps"

	schema, err := compileGuessSchema()
	if err != nil {
		return nil, WrapInvoiceProcessingError(op, err, "invoice schema")
	}

	limit := rate.Inf
	if completionConfig.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(completionConfig.RequestsPerMinute))
	}
	if completionConfig.MaxTextChars <= 0 {
		completionConfig.MaxTextChars = DefaultCompletionConfig().MaxTextChars
	}

	return &CompletionExtractor{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		schema:  schema,
		config:  completionConfig,
		log:     logger.WithComponent("completion-extractor"),
	}, nil
}

// Extract sends one completion request for doc. Images travel inline as a
// data URL; every other document travels as its extracted text. Every failure
// degrades to a Guess with Found == false.
func (e *CompletionExtractor) Extract(ctx context.Context, doc Document, text string) Guess {
	start := time.Now()
	guess := e.extract(ctx, doc, text)
	guess.Duration = time.Since(start)

	if !guess.Found {
		e.log.Warn().
			Err(guess.Err).
			Str("attachment", doc.Name).
			Dur("duration", guess.Duration).
			Msg("Completion extraction returned no result")
		return guess
	}

	e.log.Info().
		Str("attachment", doc.Name).
		Str("invoice_number", guess.Invoice.InvoiceNumber).
		Str("supplier", guess.Invoice.Supplier).
		Dur("duration", guess.Duration).
		Msg("Completion extraction succeeded")
	return guess
}

func (e *CompletionExtractor) extract(ctx context.Context, doc Document, text string) Guess {
	message, err := e.buildMessage(doc, text)
	if err != nil {
		return Guess{Err: err}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return Guess{Err: fmt.Errorf("%w: rate limiter: %v", ErrNoCompletion, err)}
	}

	reqCtx := ctx
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	e.log.Debug().
		Str("attachment", doc.Name).
		Str("model", e.config.Model).
		Int("text_length", len(text)).
		Msg("Sending completion request")

	resp, err := e.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model:     e.config.Model,
		Messages:  []openai.ChatCompletionMessage{message},
		MaxTokens: e.config.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Guess{Err: fmt.Errorf("%w: %v", ErrNoCompletion, err)}
	}
	if len(resp.Choices) == 0 {
		return Guess{Err: fmt.Errorf("%w: no choices", ErrNoCompletion)}
	}

	content := resp.Choices[0].Message.Content
	e.log.Debug().Str("response", content).Msg("Received completion response")

	inv, err := e.parseGuess(content)
	if err != nil {
		return Guess{Err: err}
	}
	if !hasAnyField(inv) {
		return Guess{Err: fmt.Errorf("%w: every field is null", ErrNoCompletion)}
	}
	return Guess{Invoice: inv, Found: true}
}

func (e *CompletionExtractor) buildMessage(doc Document, text string) (openai.ChatCompletionMessage, error) {
	if strings.HasPrefix(doc.MimeType, "image/") && len(doc.Data) > 0 {
		dataURL := "data:" + doc.MimeType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
		return openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: extractionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return openai.ChatCompletionMessage{}, fmt.Errorf("%w: document has no text layer", ErrNoCompletion)
	}
	if runes := []rune(text); len(runes) > e.config.MaxTextChars {
		text = string(runes[:e.config.MaxTextChars])
	}

	var prompt strings.Builder
	prompt.WriteString(extractionPrompt)
	prompt.WriteString("\n\nRechnungstext")
	if doc.Name != "" {
		prompt.WriteString(" (" + doc.Name + ")")
	}
	prompt.WriteString(":\n")
	prompt.WriteString(text)

	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.String(),
	}, nil
}

const extractionPrompt = `Extrahiere aus dieser Rechnung die folgenden Felder und antworte ausschließlich mit einem JSON-Objekt:

{
  "rechnungsnummer": "Rechnungsnummer als String",
  "datum": "Rechnungsdatum im Format YYYY-MM-DD",
  "lieferant": "Name des Rechnungsstellers",
  "betragNetto": "Nettobetrag als Zahl",
  "mwstSatz": "MwSt-Satz in Prozent, z.B. 19 oder 7",
  "mwstBetrag": "MwSt-Betrag als Zahl",
  "betragBrutto": "Bruttobetrag als Zahl",
  "leistungszeitraum": "Leistungszeitraum, falls angegeben"
}

Verwende null für jede Angabe, die nicht in der Rechnung steht.
Beträge ohne Währungssymbol und ohne Tausendertrennzeichen, mit Punkt als Dezimaltrennzeichen.
Keine Code-Blöcke, kein Markdown, kein Text vor oder nach dem JSON.`

// parseGuess converts the response content into an invoice.
func (e *CompletionExtractor) parseGuess(content string) (*models.Invoice, error) {
	body := []byte(jsonBody(content))
	if err := validateGuess(e.schema, body); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	inv := &models.Invoice{
		InvoiceNumber: stringField(raw, "rechnungsnummer"),
		Supplier:      stringField(raw, "lieferant"),
		NetAmount:     amountField(raw, "betragNetto"),
		VATRate:       NormalizeVATRate(stringField(raw, "mwstSatz")),
		VATAmount:     amountField(raw, "mwstBetrag"),
		GrossAmount:   amountField(raw, "betragBrutto"),
		ServicePeriod: stringField(raw, "leistungszeitraum"),
	}
	if date, ok := parseISODate(stringField(raw, "datum")); ok {
		inv.Date = date
	}
	return inv, nil
}

// stringField reads a string or number field. "null" and blanks yield "".
func stringField(m map[string]any, key string) string {
	var s string
	switch v := m[key].(type) {
	case string:
		s = strings.TrimSpace(v)
	case json.Number:
		s = v.String()
	}
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func amountField(m map[string]any, key string) decimal.NullDecimal {
	switch v := m[key].(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.NullDecimal{}
		}
		return decimal.NullDecimal{Decimal: d.Round(2), Valid: true}
	case string:
		return parseLooseAmount(v)
	}
	return decimal.NullDecimal{}
}

func hasAnyField(inv *models.Invoice) bool {
	return inv.InvoiceNumber != "" || inv.Supplier != "" || !inv.Date.IsZero() ||
		inv.NetAmount.Valid || inv.VATAmount.Valid || inv.GrossAmount.Valid ||
		inv.VATRate != "" || inv.ServicePeriod != ""
}
