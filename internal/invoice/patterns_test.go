package invoice

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

func newTestPatternExtractor() *PatternExtractor {
	return NewPatternExtractorWithRules(DefaultRules, func() time.Time { return fixedNow })
}

func amountEquals(t *testing.T, field string, got decimal.NullDecimal, want string) {
	t.Helper()
	if want == "" {
		if got.Valid {
			t.Errorf("%s = %s, want null", field, got.Decimal.StringFixed(2))
		}
		return
	}
	if !got.Valid {
		t.Errorf("%s is null, want %s", field, want)
		return
	}
	if !got.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", field, got.Decimal.StringFixed(2), want)
	}
}

func TestPatternExtractorReferenceInvoice(t *testing.T) {
	text := "Rechnungsnummer: 12345\nRechnungsdatum: 01.03.2024\nMeine Firma GmbH\nNetto: 1.000,00\n19% MwSt: 190,00"

	res := newTestPatternExtractor().Extract(text)
	inv := res.Invoice

	if inv.InvoiceNumber != "12345" {
		t.Errorf("InvoiceNumber = %q", inv.InvoiceNumber)
	}
	if got := inv.DateString(); got != "2024-03-01" {
		t.Errorf("Date = %s", got)
	}
	if !strings.Contains(inv.Supplier, "GmbH") {
		t.Errorf("Supplier = %q", inv.Supplier)
	}
	if inv.VATRate != "19%" {
		t.Errorf("VATRate = %q", inv.VATRate)
	}
	amountEquals(t, "net", inv.NetAmount, "1000.00")
	amountEquals(t, "vat", inv.VATAmount, "190.00")
	amountEquals(t, "gross", inv.GrossAmount, "1190.00")

	if res.Derived != DerivedGross {
		t.Errorf("Derived = %q, want %q", res.Derived, DerivedGross)
	}
	if res.Matched["mwst"] != "rate-label-amount" {
		t.Errorf("mwst matched by %q", res.Matched["mwst"])
	}
	if res.DateDefaulted {
		t.Errorf("date must not be defaulted")
	}
}

func TestPatternExtractorFields(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		invoiceNumber string
		date          string
		supplier      string
		net           string
		vatRate       string
		vat           string
		gross         string
		servicePeriod string
	}{
		{
			name:          "label priority beats earlier RE prefix",
			text:          "RE-999\nRechnungsnummer: 12345",
			invoiceNumber: "12345",
			date:          "2025-06-15",
		},
		{
			name:          "Rechnungs-Nr label",
			text:          "Rechnungs-Nr.: 4711\nDatum: 24.12.2023",
			invoiceNumber: "4711",
			date:          "2023-12-24",
		},
		{
			name:          "invalid calendar date falls back to today",
			text:          "Invoice: 77\nRechnungsdatum: 31.02.2024",
			invoiceNumber: "77",
			date:          "2025-06-15",
		},
		{
			name:          "supplier needs a whole legal-entity token",
			text:          "Lagerstraße 5\nMuster UG\nRE 1",
			invoiceNumber: "1",
			supplier:      "Muster UG",
			date:          "2025-06-15",
		},
		{
			name:     "supplier beyond the first lines via capitalized run",
			text:     strings.Repeat("-\n", 21) + "Beispiel Handels GmbH\n",
			supplier: "Beispiel Handels GmbH",
			date:     "2025-06-15",
		},
		{
			name:  "Rechnungsbetrag phrasing derives VAT",
			text:  "Rechnungsbetrag (ohne Umsatzsteuer): 2.500,00\nRechnungsbetrag (inklusive Umsatzsteuer): 2.975,00",
			date:  "2025-06-15",
			net:   "2500.00",
			vat:   "475.00",
			gross: "2975.00",
		},
		{
			name:    "label rate amount with base",
			text:    "Summe netto: 100,00\nUSt. 7% von 100,00 EUR 7,00\nGesamtbetrag: EUR 107,00",
			date:    "2025-06-15",
			net:     "100.00",
			vatRate: "7%",
			vat:     "7.00",
			gross:   "107.00",
		},
		{
			name:    "net derived from gross and VAT",
			text:    "Umsatzsteuer 19%: 38,00\nEndbetrag: 238,00",
			date:    "2025-06-15",
			net:     "200.00",
			vatRate: "19%",
			vat:     "38.00",
			gross:   "238.00",
		},
		{
			name:          "service period month form",
			text:          "Leistungszeitraum: 03.2024",
			date:          "2025-06-15",
			servicePeriod: "03.2024",
		},
		{
			name:          "service period generic form",
			text:          "Leistungszeitraum: 01/2024-03/2024",
			date:          "2025-06-15",
			servicePeriod: "01/2024-03/2024",
		},
		{
			name: "empty text",
			text: "",
			date: "2025-06-15",
		},
	}

	p := newTestPatternExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := p.Extract(tt.text).Invoice
			if inv.InvoiceNumber != tt.invoiceNumber {
				t.Errorf("InvoiceNumber = %q, want %q", inv.InvoiceNumber, tt.invoiceNumber)
			}
			if got := inv.DateString(); got != tt.date {
				t.Errorf("Date = %q, want %q", got, tt.date)
			}
			if inv.Supplier != tt.supplier {
				t.Errorf("Supplier = %q, want %q", inv.Supplier, tt.supplier)
			}
			if inv.VATRate != tt.vatRate {
				t.Errorf("VATRate = %q, want %q", inv.VATRate, tt.vatRate)
			}
			if inv.ServicePeriod != tt.servicePeriod {
				t.Errorf("ServicePeriod = %q, want %q", inv.ServicePeriod, tt.servicePeriod)
			}
			amountEquals(t, "net", inv.NetAmount, tt.net)
			amountEquals(t, "vat", inv.VATAmount, tt.vat)
			amountEquals(t, "gross", inv.GrossAmount, tt.gross)
		})
	}
}

func TestPatternExtractorExcerpt(t *testing.T) {
	text := strings.Repeat("ä", 600)
	res := newTestPatternExtractor().Extract(text)
	if n := len([]rune(res.Excerpt)); n != excerptLength {
		t.Fatalf("excerpt has %d runes, want %d", n, excerptLength)
	}
}

func TestRulesAreIndependentlyUsable(t *testing.T) {
	for _, field := range DefaultRules {
		for _, rule := range field.Rules {
			if rule.Name == "" || rule.Match == nil || rule.Apply == nil {
				t.Errorf("field %s has an incomplete rule %+v", field.Field, rule.Name)
			}
			if groups := rule.Match("nothing to see here"); groups != nil {
				t.Errorf("rule %s/%s matched unrelated text: %q", field.Field, rule.Name, groups)
			}
		}
	}
}
