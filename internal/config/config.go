package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"

	"rechnungen/internal/logger"
)

// Config is read once at process start and handed to every component.
type Config struct {
	// Storage
	DatabaseURL string

	// Ledger
	LedgerPath     string
	LedgerCapacity int

	// Attachment storage
	AttachmentDir string
	GCSBucket     string
	GCSFolder     string

	// Mail (Gmail API)
	GmailUser            string
	GmailCredentialsFile string
	GmailTokenFile       string
	GmailAccessToken     string
	MailQuery            string
	MailLookbackHours    int
	MailMaxResults       int64

	// Probabilistic extraction (OpenAI-compatible endpoint)
	OpenAIAPIKey            string
	OpenAIBaseURL           string
	OpenAIModel             string
	OpenAIMaxTokens         int
	OpenAITimeout           time.Duration
	OpenAIRequestsPerMinute int

	// Google Cloud credentials, shared by every Google client
	GoogleCredentialsJSON string
	GoogleCredentialsFile string

	// Document text
	TextBackend           string
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// Export
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Text backends accepted in TEXT_BACKEND.
const (
	TextBackendPDF        = "pdf"
	TextBackendVision     = "vision"
	TextBackendDocumentAI = "documentai"
)

// Load reads the configuration from the environment. It fails only on
// malformed values; missing settings are reported by the Validate methods of
// the commands that need them.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		LedgerPath:            getEnv("LEDGER_PATH", "data/processed_emails.json"),
		AttachmentDir:         getEnv("ATTACHMENT_DIR", "invoices"),
		GCSBucket:             getEnv("GCS_BUCKET", ""),
		GCSFolder:             getEnv("GCS_FOLDER", ""),
		GmailUser:             getEnv("GMAIL_USER", "me"),
		GmailCredentialsFile:  getEnv("GMAIL_CREDENTIALS_FILE", ""),
		GmailTokenFile:        getEnv("GMAIL_TOKEN_FILE", ""),
		GmailAccessToken:      getEnv("GMAIL_ACCESS_TOKEN", ""),
		MailQuery:             getEnv("MAIL_QUERY", "has:attachment filename:pdf"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		TextBackend:           strings.ToLower(getEnv("TEXT_BACKEND", TextBackendPDF)),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "eu"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		GoogleSheetURL:        getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:  getEnv("GOOGLE_SHEET_WORKSHEET", "Rechnungen"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
	}

	var err error
	if cfg.LedgerCapacity, err = getEnvInt("LEDGER_CAPACITY", 1000); err != nil {
		return nil, err
	}
	if cfg.MailLookbackHours, err = getEnvInt("MAIL_LOOKBACK_HOURS", 24); err != nil {
		return nil, err
	}
	maxResults, err := getEnvInt("MAIL_MAX_RESULTS", 20)
	if err != nil {
		return nil, err
	}
	cfg.MailMaxResults = int64(maxResults)
	if cfg.OpenAIMaxTokens, err = getEnvInt("OPENAI_MAX_TOKENS", 1000); err != nil {
		return nil, err
	}
	timeoutSecs, err := getEnvInt("OPENAI_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.OpenAITimeout = time.Duration(timeoutSecs) * time.Second
	if cfg.OpenAIRequestsPerMinute, err = getEnvInt("OPENAI_REQUESTS_PER_MINUTE", 20); err != nil {
		return nil, err
	}

	switch cfg.TextBackend {
	case TextBackendPDF, TextBackendVision, TextBackendDocumentAI:
	default:
		return nil, fmt.Errorf("TEXT_BACKEND must be one of pdf, vision, documentai (got %q)", cfg.TextBackend)
	}

	return cfg, nil
}

// ValidateStore checks the settings every database command needs.
func (c *Config) ValidateStore() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// ValidateIngest checks the settings of the ingestion run.
func (c *Config) ValidateIngest() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.GmailAccessToken == "" && c.GmailCredentialsFile == "" {
		return fmt.Errorf("GMAIL_CREDENTIALS_FILE or GMAIL_ACCESS_TOKEN is required")
	}
	if c.GmailCredentialsFile != "" && c.GmailTokenFile == "" {
		return fmt.Errorf("GMAIL_TOKEN_FILE is required together with GMAIL_CREDENTIALS_FILE")
	}
	if c.MailLookbackHours <= 0 {
		return fmt.Errorf("MAIL_LOOKBACK_HOURS must be positive")
	}
	if c.GCSBucket == "" && c.AttachmentDir == "" {
		return fmt.Errorf("ATTACHMENT_DIR or GCS_BUCKET is required")
	}
	return c.ValidateText()
}

// ValidateText checks the settings of the configured text backend.
func (c *Config) ValidateText() error {
	if c.TextBackend != TextBackendDocumentAI {
		return nil
	}
	if c.GoogleCloudProject == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for TEXT_BACKEND=documentai")
	}
	if c.DocumentAIProcessorID == "" {
		return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for TEXT_BACKEND=documentai")
	}
	return nil
}

// CompletionEnabled reports whether the probabilistic extractor can be used.
func (c *Config) CompletionEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// GoogleClientOptions returns the credential options for Google API clients.
// Inline credentials win over the credentials file; with neither set the
// clients fall back to application default credentials.
func (c *Config) GoogleClientOptions() []option.ClientOption {
	switch {
	case c.GoogleCredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(c.GoogleCredentialsJSON))}
	case c.GoogleCredentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(c.GoogleCredentialsFile)}
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}
