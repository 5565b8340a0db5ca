package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"rechnungen/internal/logger"
	"rechnungen/pkg/models"
)

// DefaultSheet is the worksheet name used when none is given.
const DefaultSheet = "Rechnungen"

var amountFormat = "#,##0.00"

// WriteXLSX writes invoices, in the given order, as one worksheet with a
// header row to w.
func WriteXLSX(w io.Writer, invoices []models.Invoice, sheet string) error {
	const op = "WriteXLSX"
	log := logger.WithComponent("export")

	if sheet == "" {
		sheet = DefaultSheet
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("%s: name sheet: %w", op, err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("%s: write header: %w", op, err)
	}

	for i := range invoices {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		row := Row(&invoices[i])
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s: write row %d: %w", op, i+2, err)
		}
	}

	if err := styleSheet(f, sheet, len(invoices)); err != nil {
		// Cosmetic only.
		log.Warn().Err(err).Msg("Failed to format worksheet, continuing anyway")
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("%s: write workbook: %w", op, err)
	}

	log.Info().Str("sheet", sheet).Int("rows", len(invoices)).Msg("Workbook written")
	return nil
}

func styleSheet(f *excelize.File, sheet string, rows int) error {
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E6E6E6"}},
	})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(Header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return err
	}

	if rows > 0 {
		money, err := f.NewStyle(&excelize.Style{CustomNumFmt: &amountFormat})
		if err != nil {
			return err
		}
		for _, col := range []int{ColumnNet, ColumnVAT, ColumnGross} {
			from, _ := excelize.CoordinatesToCellName(col+1, 2)
			to, _ := excelize.CoordinatesToCellName(col+1, rows+1)
			if err := f.SetCellStyle(sheet, from, to, money); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(sheet, "A", "C", 22); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "D", "I", 14); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "J", "J", 48)
}
