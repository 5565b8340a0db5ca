package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"rechnungen/pkg/models"
)

func TestRow(t *testing.T) {
	inv := &models.Invoice{
		InvoiceNumber: "12345",
		Date:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Supplier:      "Meine Firma GmbH",
		NetAmount:     decimal.NewNullDecimal(decimal.RequireFromString("1000")),
		VATRate:       "19%",
		Status:        models.StatusNew,
	}

	row := Row(inv)
	if len(row) != len(Header) {
		t.Fatalf("row has %d cells, header %d", len(row), len(Header))
	}
	if row[1] != "01.03.2024" {
		t.Errorf("date cell = %v", row[1])
	}
	if row[ColumnNet] != 1000.0 {
		t.Errorf("net cell = %v (%T)", row[ColumnNet], row[ColumnNet])
	}
	if row[ColumnVAT] != "" || row[ColumnGross] != "" {
		t.Errorf("unknown amounts must be empty: %v / %v", row[ColumnVAT], row[ColumnGross])
	}
	if row[8] != "Neu" {
		t.Errorf("status cell = %v", row[8])
	}
}

func TestWriteXLSX(t *testing.T) {
	invoices := []models.Invoice{
		{InvoiceNumber: "2", Supplier: "B AG", GrossAmount: decimal.NewNullDecimal(decimal.RequireFromString("1487.5"))},
		{InvoiceNumber: "1", Supplier: "A GmbH"},
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, invoices, ""); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(DefaultSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "Rechnungsnummer" || rows[0][len(Header)-1] != "Verarbeitet" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "2" || rows[2][0] != "1" {
		t.Errorf("order not kept: %v / %v", rows[1], rows[2])
	}

	gross, err := f.GetCellValue(DefaultSheet, "G2", excelize.Options{RawCellValue: true})
	if err != nil || gross != "1487.5" {
		t.Errorf("G2 = %q, %v", gross, err)
	}
}
