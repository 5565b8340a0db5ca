package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rechnungen/internal/invoice"
	"rechnungen/internal/logger"
	"rechnungen/internal/store"
	"rechnungen/pkg/models"
)

var importCmd = &cobra.Command{
	Use:   "import [json-file]",
	Short: "Insert or update invoices from a JSON file",
	Long: `Reconcile invoice records from a JSON file with the invoice table. The file
holds one object or an array of objects with the German field names
(rechnungsnummer, datum, lieferant, betragNetto, mwstSatz, mwstBetrag,
betragBrutto, leistungszeitraum, status, dateipfad).

A missing amount is derived from the other two before storing. Records
without rechnungsnummer or lieferant are rejected.`,
	Example: `  rechnungen import rechnungen.json`,
	Args:    cobra.ExactArgs(1),
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("import")

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	records, err := decodeInvoices(raw)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(0, log)
	defer cancel()

	db, invoices, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var inserted, updated, rejected, failed int
	for i := range records {
		inv := &records[i]
		invoice.DeriveMissingAmounts(inv)

		outcome, err := invoices.Upsert(ctx, inv)
		switch {
		case errors.Is(err, store.ErrValidation):
			rejected++
			fmt.Printf("Abgelehnt (%d): %v\n", i+1, err)
			continue
		case err != nil:
			failed++
			log.Error().Err(err).Str("invoice_number", inv.InvoiceNumber).Msg("Failed to store invoice")
			continue
		}
		if outcome == store.Inserted {
			inserted++
		} else {
			updated++
		}
	}

	fmt.Printf("Neu: %d, aktualisiert: %d, abgelehnt: %d, Fehler: %d\n", inserted, updated, rejected, failed)
	if rejected+failed > 0 {
		return fmt.Errorf("%d of %d records not stored", rejected+failed, len(records))
	}
	return nil
}

// decodeInvoices accepts a single object or an array.
func decodeInvoices(raw []byte) ([]models.Invoice, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var list []models.Invoice
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one models.Invoice
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []models.Invoice{one}, nil
}
