package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rechnungen/internal/export"
	"rechnungen/internal/logger"
	"rechnungen/internal/sheets"
	"rechnungen/internal/store"
	"rechnungen/pkg/models"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored invoices to Excel or Google Sheets",
	Long: `Write the stored invoices, newest invoice date first, either into an .xlsx
workbook or append them to a Google Sheet worksheet. Both formats use the
same German header row.

Required environment variables for --format sheets:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_SHEET_URL - Target spreadsheet`,
	Example: `  # Workbook of the first quarter
  rechnungen export --from 2024-01-01 --to 2024-03-31 -o q1.xlsx

  # Unpaid invoices into the configured Google Sheet
  rechnungen export --format sheets --status Unbezahlt`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("format", "xlsx", "Output format: xlsx or sheets")
	exportCmd.Flags().StringP("output", "o", "rechnungen.xlsx", "Workbook path for --format xlsx")
	exportCmd.Flags().String("sheet", "", "Worksheet name (default: GOOGLE_SHEET_WORKSHEET)")
	exportCmd.Flags().String("from", "", "First invoice date (format: YYYY-MM-DD)")
	exportCmd.Flags().String("to", "", "Last invoice date (format: YYYY-MM-DD)")
	exportCmd.Flags().String("status", "", "Only invoices with this status (Neu, Unbezahlt, Bezahlt)")
}

func runExport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("export-cmd")

	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	sheetName, _ := cmd.Flags().GetString("sheet")
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	statusStr, _ := cmd.Flags().GetString("status")

	if format != "xlsx" && format != "sheets" {
		return fmt.Errorf("unknown format %q (use xlsx or sheets)", format)
	}

	opts := store.ListOptions{}
	var err error
	if opts.From, err = parseDateFlag("from", fromStr); err != nil {
		return err
	}
	if opts.To, err = parseDateFlag("to", toStr); err != nil {
		return err
	}
	if statusStr != "" {
		if opts.Status, err = models.ParseStatus(statusStr); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sheetName == "" {
		sheetName = cfg.GoogleSheetWorksheet
	}

	ctx, cancel := commandContext(0, log)
	defer cancel()

	db, invoices, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := invoices.List(ctx, opts)
	if err != nil {
		return err
	}

	if format == "sheets" {
		svc, err := sheets.NewSheetsService(ctx, cfg)
		if err != nil {
			return err
		}
		if err := svc.WriteInvoices(ctx, list, sheetName); err != nil {
			return err
		}
		fmt.Printf("%d Rechnungen in Tabelle %q geschrieben\n", len(list), sheetName)
		return nil
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	if err := export.WriteXLSX(f, list, sheetName); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	fmt.Printf("%d Rechnungen exportiert: %s\n", len(list), outputPath)
	return nil
}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date %q (format: YYYY-MM-DD)", name, value)
	}
	return t, nil
}
