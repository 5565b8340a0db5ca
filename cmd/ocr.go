package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"rechnungen/internal/config"
	"rechnungen/internal/logger"
	"rechnungen/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [file]",
	Short: "Print the text the extractors see for a document",
	Long: `Read the text of a document the way the ingestion run does: the PDF text
layer first, then the OCR backend selected by TEXT_BACKEND when the layer
is empty. Use --force-ocr to skip the text layer.

Required environment variables for TEXT_BACKEND=vision or documentai:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID - documentai only`,
	Example: `  # Text of a PDF invoice
  rechnungen ocr rechnung.pdf

  # OCR of a scan with metadata as JSON
  TEXT_BACKEND=vision rechnungen ocr scan.pdf --force-ocr --json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	Text               string    `json:"text"`
	Backend            string    `json:"backend"`
	PageCount          int       `json:"page_count,omitempty"`
	Confidence         float32   `json:"confidence,omitempty"`
	LanguageCodes      []string  `json:"language_codes,omitempty"`
	ProcessedAt        time.Time `json:"processed_at,omitempty"`
	ProcessingDuration string    `json:"processing_duration,omitempty"`
	FileName           string    `json:"file_name"`
	FileSize           int       `json:"file_size"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Bool("force-ocr", false, "Skip the PDF text layer")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	forceOCR, _ := cmd.Flags().GetBool("force-ocr")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	ctx, cancel := commandContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	chain, err := ocr.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer chain.Close()

	out := OCROutput{
		Backend:  backendLabel(cfg.TextBackend, forceOCR),
		FileName: filepath.Base(path),
		FileSize: len(data),
	}
	if forceOCR {
		result, err := chain.Recognize(ctx, data)
		if err != nil {
			return err
		}
		out.Text = result.Text
		out.PageCount = result.PageCount
		out.Confidence = result.Confidence
		out.LanguageCodes = result.LanguageCodes
		out.ProcessedAt = result.ProcessedAt
		out.ProcessingDuration = result.ProcessingDuration.String()
	} else {
		out.Text = chain.ExtractText(ctx, data)
	}

	if out.Text == "" {
		log.Warn().Str("file", path).Msg("No text found")
	}

	if jsonOutput {
		return writeJSON(out, outputPath)
	}
	if outputPath == "" {
		fmt.Println(out.Text)
		return nil
	}
	if err := os.WriteFile(outputPath, []byte(out.Text), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	fmt.Fprintf(os.Stderr, "Text gespeichert: %s\n", outputPath)
	return nil
}

// backendLabel names the text sources that were consulted.
func backendLabel(backend string, forceOCR bool) string {
	if forceOCR || backend == config.TextBackendPDF {
		return backend
	}
	return config.TextBackendPDF + "+" + backend
}
