package ocr

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"rechnungen/internal/logger"
)

// PDFText reads the embedded text layer of a PDF.
type PDFText struct {
	log zerolog.Logger
}

// NewPDFText creates the text layer reader.
func NewPDFText() *PDFText {
	return &PDFText{log: logger.WithComponent("pdf-text")}
}

// ExtractText returns the text layer of data row by row, or "" if the
// document is unreadable or has no text layer.
func (p *PDFText) ExtractText(ctx context.Context, data []byte) string {
	text, err := p.Read(data)
	if err != nil {
		p.log.Debug().Err(err).Int("size", len(data)).Msg("No text layer")
		return ""
	}
	return text
}

// Read parses data and returns its text layer.
func (p *PDFText) Read(data []byte) (text string, err error) {
	const op = "PDFText.Read"

	if len(data) < 4 || string(data[:4]) != "%PDF" {
		return "", WrapOCRError(op, ErrInvalidPDF, "missing PDF header")
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = WrapOCRError(op, ErrInvalidPDF, fmt.Sprint(r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", WrapOCRError(op, ErrInvalidPDF, err.Error())
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, row := range textRows(page.Content().Text) {
			sb.WriteString(row)
			sb.WriteString("\n")
		}
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyDocument
	}
	return sb.String(), nil
}

// textRow collects glyphs that share a baseline.
type textRow struct {
	y      float64
	glyphs []pdf.Text
}

// textRows groups positioned glyphs into lines ordered top to bottom. Glyphs
// keep their stream order within a line unless their X positions say
// otherwise, and a space is inserted where the gap to the previous glyph is
// wider than a quarter of the font size.
func textRows(glyphs []pdf.Text) []string {
	var rows []*textRow
	for _, g := range glyphs {
		if g.S == "\n" || g.S == "\r" || g.S == "" {
			continue
		}
		var row *textRow
		for _, r := range rows {
			if math.Abs(r.y-g.Y) <= rowTolerance(g.FontSize) {
				row = r
				break
			}
		}
		if row == nil {
			row = &textRow{y: g.Y}
			rows = append(rows, row)
		}
		row.glyphs = append(row.glyphs, g)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].y > rows[j].y })

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row.glyphs, func(i, j int) bool { return row.glyphs[i].X < row.glyphs[j].X })

		var sb strings.Builder
		for i, g := range row.glyphs {
			if i > 0 {
				prev := row.glyphs[i-1]
				if g.X-(prev.X+prev.W) > 0.25*fontSize(g.FontSize) && !strings.HasSuffix(sb.String(), " ") {
					sb.WriteString(" ")
				}
			}
			sb.WriteString(g.S)
		}
		if line := strings.Join(strings.Fields(sb.String()), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func rowTolerance(size float64) float64 {
	return math.Max(2, 0.3*fontSize(size))
}

func fontSize(size float64) float64 {
	if size <= 0 {
		return 10
	}
	return size
}
