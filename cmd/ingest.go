package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"rechnungen/internal/attachments"
	"rechnungen/internal/ingest"
	"rechnungen/internal/ledger"
	"rechnungen/internal/logger"
	"rechnungen/internal/mail"
	"rechnungen/internal/ocr"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Process new invoice mails once",
	Long: `Search the mailbox for recent messages with PDF attachments, extract the
invoice of every attachment and insert or update it in the invoice table.
Messages that were processed before are skipped via the ledger file.

Required environment variables:
  DATABASE_URL - postgres://... or sqlite://path
  GMAIL_ACCESS_TOKEN, OR
  GMAIL_CREDENTIALS_FILE and GMAIL_TOKEN_FILE - Gmail API credentials

Optional:
  OPENAI_API_KEY - enables the completion extractor
  ATTACHMENT_DIR or GCS_BUCKET (+ GCS_FOLDER) - where attachments are kept
  LEDGER_PATH, LEDGER_CAPACITY - processed message ledger
  MAIL_QUERY, MAIL_LOOKBACK_HOURS, MAIL_MAX_RESULTS - candidate search`,
	Example: `  # Regular run
  rechnungen ingest

  # Look back a week, extract only
  rechnungen ingest --since-hours 168 --dry-run`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Int("since-hours", 0, "Search window in hours (default: MAIL_LOOKBACK_HOURS)")
	ingestCmd.Flags().Int64("max-results", 0, "Maximum number of candidate messages (default: MAIL_MAX_RESULTS)")
	ingestCmd.Flags().Bool("dry-run", false, "Extract only; store nothing and leave the ledger untouched")
	ingestCmd.Flags().Int("timeout", 0, "Run timeout in seconds (0: none)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ingest-cmd")

	sinceHours, _ := cmd.Flags().GetInt("since-hours")
	maxResults, _ := cmd.Flags().GetInt64("max-results")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sinceHours > 0 {
		cfg.MailLookbackHours = sinceHours
	}
	if maxResults > 0 {
		cfg.MailMaxResults = maxResults
	}
	if err := cfg.ValidateIngest(); err != nil {
		return err
	}

	ctx, cancel := commandContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	db, invoices, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	processed, err := ledger.Open(cfg.LedgerPath, cfg.LedgerCapacity)
	if err != nil {
		return err
	}

	files, err := attachments.New(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := files.(io.Closer); ok {
		defer c.Close()
	}

	text, err := ocr.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer text.Close()

	mailbox, err := mail.NewGmailMailbox(ctx, cfg)
	if err != nil {
		return err
	}

	pipeline := ingest.New(mailbox, processed, files, newOrchestrator(cfg, text, log), invoices, ingest.Options{
		Query:      cfg.MailQuery,
		Lookback:   time.Duration(cfg.MailLookbackHours) * time.Hour,
		MaxResults: cfg.MailMaxResults,
		DryRun:     dryRun,
	})
	summary := pipeline.Run(ctx)

	fmt.Printf("Nachrichten gefunden:        %d\n", summary.Candidates)
	fmt.Printf("Bereits verarbeitet:         %d\n", summary.Skipped)
	fmt.Printf("Verarbeitete Nachrichten:    %d\n", summary.Messages)
	fmt.Printf("Neue Rechnungen:             %d\n", summary.Inserted)
	fmt.Printf("Aktualisierte Rechnungen:    %d\n", summary.Updated)
	fmt.Printf("Abgelehnt:                   %d\n", summary.Rejected)
	fmt.Printf("Fehler:                      %d\n", summary.Failed)
	if dryRun {
		fmt.Printf("Extrahiert (Testlauf):       %d\n", summary.Extracted)
	}
	return nil
}
