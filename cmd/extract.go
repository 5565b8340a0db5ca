package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rechnungen/internal/config"
	"rechnungen/internal/invoice"
	"rechnungen/internal/logger"
	"rechnungen/internal/ocr"
	"rechnungen/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract the invoice fields of a single document",
	Long: `Run the extraction of the ingestion pipeline on one local file and print
the result as JSON with the German field names of the invoice table.
Nothing is stored.

The completion extractor is used when OPENAI_API_KEY is set; the pattern
rules fill every field it leaves empty. The text backend follows
TEXT_BACKEND (pdf, vision, documentai).`,
	Example: `  # Print the extracted invoice
  rechnungen extract rechnung.pdf

  # Pattern rules only, result into a file
  rechnungen extract rechnung.pdf --no-completion -o rechnung.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

// ExtractOutput is the JSON printed by the extract command.
type ExtractOutput struct {
	Invoice  *models.Invoice `json:"rechnung"`
	Source   string          `json:"quelle"`
	Filled   []string        `json:"ergaenzt,omitempty"`
	Derived  string          `json:"berechnet,omitempty"`
	Rejected bool            `json:"abgelehnt,omitempty"`
	Excerpt  string          `json:"textauszug,omitempty"`
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Bool("no-completion", false, "Use the pattern rules only")
	extractCmd.Flags().Bool("excerpt", false, "Include the start of the document text")
	extractCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	noCompletion, _ := cmd.Flags().GetBool("no-completion")
	withExcerpt, _ := cmd.Flags().GetBool("excerpt")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noCompletion {
		cfg.OpenAIAPIKey = ""
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	ctx, cancel := commandContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	text, err := ocr.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer text.Close()

	orchestrator := newOrchestrator(cfg, text, log)

	doc := invoice.Document{
		Name:     filepath.Base(path),
		MimeType: mime.TypeByExtension(filepath.Ext(path)),
		Data:     data,
		Path:     path,
	}
	result, err := orchestrator.Extract(ctx, doc)
	rejected := errors.Is(err, invoice.ErrRejected)
	if err != nil && !rejected {
		return err
	}

	out := ExtractOutput{
		Invoice:  result.Invoice,
		Source:   result.Source,
		Filled:   result.Filled,
		Derived:  result.Derived,
		Rejected: rejected,
	}
	if withExcerpt {
		out.Excerpt = result.Excerpt
	}
	if werr := writeJSON(out, outputPath); werr != nil {
		return werr
	}
	return err
}

// newOrchestrator wires the completion extractor when it is configured and
// falls back to the pattern rules alone otherwise.
func newOrchestrator(cfg *config.Config, text invoice.TextExtractor, log zerolog.Logger) *invoice.Orchestrator {
	if !cfg.CompletionEnabled() {
		log.Warn().Msg("OPENAI_API_KEY not set, using pattern rules only")
		return invoice.NewOrchestrator(text, nil, nil)
	}
	completion, err := invoice.NewCompletionExtractor(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Completion extractor unavailable, using pattern rules only")
		return invoice.NewOrchestrator(text, nil, nil)
	}
	return invoice.NewOrchestrator(text, completion, nil)
}

// writeJSON prints v indented to stdout, or writes it to path.
func writeJSON(v any, path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Ergebnis gespeichert: %s\n", path)
	return nil
}
