// Package export renders stored invoices as spreadsheet rows, either into an
// .xlsx workbook or, through internal/sheets, into a Google Sheet.
package export

import (
	"github.com/shopspring/decimal"

	"rechnungen/pkg/models"
)

// Header is the German header row shared by every export format.
var Header = []string{
	"Rechnungsnummer",
	"Datum",
	"Lieferant",
	"Betrag Netto",
	"MwSt-Satz",
	"MwSt-Betrag",
	"Betrag Brutto",
	"Leistungszeitraum",
	"Status",
	"Dateipfad",
	"Verarbeitet",
}

// Column indexes of the amount cells.
const (
	ColumnNet   = 3
	ColumnVAT   = 5
	ColumnGross = 6
)

const (
	dateFormat      = "02.01.2006"
	timestampFormat = "02.01.2006 15:04:05"
)

// Row returns the cells of one invoice in Header order. Amounts are numbers
// so that spreadsheets can sum them; unknown values are empty strings.
func Row(inv *models.Invoice) []any {
	date := ""
	if !inv.Date.IsZero() {
		date = inv.Date.Format(dateFormat)
	}
	processed := ""
	if !inv.ProcessedAt.IsZero() {
		processed = inv.ProcessedAt.Local().Format(timestampFormat)
	}
	return []any{
		inv.InvoiceNumber,
		date,
		inv.Supplier,
		amountCell(inv.NetAmount),
		inv.VATRate,
		amountCell(inv.VATAmount),
		amountCell(inv.GrossAmount),
		inv.ServicePeriod,
		string(inv.Status),
		inv.SourceFilePath,
		processed,
	}
}

func amountCell(d decimal.NullDecimal) any {
	if !d.Valid {
		return ""
	}
	return d.Decimal.Round(2).InexactFloat64()
}
