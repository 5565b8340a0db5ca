package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar date layout used on the wire and in storage.
const DateLayout = "2006-01-02"

// DefaultVATRate is applied at persistence time when no rate was extracted.
const DefaultVATRate = "19%"

// Status is the lifecycle tag of a stored invoice.
type Status string

const (
	StatusNew    Status = "Neu"
	StatusUnpaid Status = "Unbezahlt"
	StatusPaid   Status = "Bezahlt"
)

// ParseStatus accepts the German labels and their English equivalents.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "neu", "new":
		return StatusNew, nil
	case "unbezahlt", "unpaid":
		return StatusUnpaid, nil
	case "bezahlt", "paid":
		return StatusPaid, nil
	}
	return "", fmt.Errorf("unknown invoice status %q", s)
}

// ErrMissingKey is returned when an invoice lacks its invoice number or supplier.
var ErrMissingKey = errors.New("invoice number and supplier are required")

// Invoice is the canonical extracted invoice record.
//
// Amounts are nullable: an unknown amount stays invalid until it is derived
// from the other two or defaulted to zero when persisted. An empty VATRate,
// ServicePeriod or Status means "not supplied".
type Invoice struct {
	// Core identifiers
	ID            string // Storage identifier, empty until persisted
	InvoiceNumber string // Natural business key, compared case-sensitively

	Date     time.Time // Invoice date (calendar date, UTC midnight)
	Supplier string    // Lieferant

	// Amounts
	NetAmount   decimal.NullDecimal
	VATRate     string // e.g. "19%"
	VATAmount   decimal.NullDecimal
	GrossAmount decimal.NullDecimal

	ServicePeriod  string // Leistungszeitraum, free form
	Status         Status
	SourceFilePath string // Where the attachment was stored

	ProcessedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MissingRequired lists the key fields that are empty.
func (inv *Invoice) MissingRequired() []string {
	var missing []string
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		missing = append(missing, "rechnungsnummer")
	}
	if strings.TrimSpace(inv.Supplier) == "" {
		missing = append(missing, "lieferant")
	}
	return missing
}

// Validate returns ErrMissingKey if the invoice cannot be reconciled.
func (inv *Invoice) Validate() error {
	if missing := inv.MissingRequired(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingKey, strings.Join(missing, ", "))
	}
	return nil
}

// Merge fills every empty field of inv from other and returns the names of
// the fields that were filled. Non-empty fields of inv are never overwritten.
func (inv *Invoice) Merge(other *Invoice) []string {
	if other == nil {
		return nil
	}
	var filled []string
	fillString := func(name string, dst *string, src string) {
		if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
			*dst = src
			filled = append(filled, name)
		}
	}
	fillAmount := func(name string, dst *decimal.NullDecimal, src decimal.NullDecimal) {
		if !dst.Valid && src.Valid {
			*dst = src
			filled = append(filled, name)
		}
	}

	fillString("rechnungsnummer", &inv.InvoiceNumber, other.InvoiceNumber)
	if inv.Date.IsZero() && !other.Date.IsZero() {
		inv.Date = other.Date
		filled = append(filled, "datum")
	}
	fillString("lieferant", &inv.Supplier, other.Supplier)
	fillAmount("betragNetto", &inv.NetAmount, other.NetAmount)
	fillString("mwstSatz", &inv.VATRate, other.VATRate)
	fillAmount("mwstBetrag", &inv.VATAmount, other.VATAmount)
	fillAmount("betragBrutto", &inv.GrossAmount, other.GrossAmount)
	fillString("leistungszeitraum", &inv.ServicePeriod, other.ServicePeriod)
	if inv.Status == "" && other.Status != "" {
		inv.Status = other.Status
		filled = append(filled, "status")
	}
	fillString("dateipfad", &inv.SourceFilePath, other.SourceFilePath)
	return filled
}

// DateString renders the invoice date as YYYY-MM-DD, or "" when unknown.
func (inv *Invoice) DateString() string {
	if inv.Date.IsZero() {
		return ""
	}
	return inv.Date.Format(DateLayout)
}

// invoiceJSON is the wire shape shared by the extract and import commands.
type invoiceJSON struct {
	ID                string              `json:"id,omitempty"`
	Rechnungsnummer   string              `json:"rechnungsnummer"`
	Datum             *string             `json:"datum"`
	Lieferant         string              `json:"lieferant"`
	BetragNetto       decimal.NullDecimal `json:"betragNetto"`
	MwstSatz          *string             `json:"mwstSatz"`
	MwstBetrag        decimal.NullDecimal `json:"mwstBetrag"`
	BetragBrutto      decimal.NullDecimal `json:"betragBrutto"`
	Leistungszeitraum *string             `json:"leistungszeitraum"`
	Status            string              `json:"status,omitempty"`
	Dateipfad         string              `json:"dateipfad,omitempty"`
	Verarbeitet       *time.Time          `json:"verarbeitungsdatum,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// MarshalJSON uses the German field names of the invoice table.
func (inv Invoice) MarshalJSON() ([]byte, error) {
	out := invoiceJSON{
		ID:                inv.ID,
		Rechnungsnummer:   inv.InvoiceNumber,
		Datum:             optional(inv.DateString()),
		Lieferant:         inv.Supplier,
		BetragNetto:       inv.NetAmount,
		MwstSatz:          optional(inv.VATRate),
		MwstBetrag:        inv.VATAmount,
		BetragBrutto:      inv.GrossAmount,
		Leistungszeitraum: optional(inv.ServicePeriod),
		Status:            string(inv.Status),
		Dateipfad:         inv.SourceFilePath,
	}
	if !inv.ProcessedAt.IsZero() {
		out.Verarbeitet = &inv.ProcessedAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts amounts as JSON numbers or strings.
func (inv *Invoice) UnmarshalJSON(data []byte) error {
	var in invoiceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	status, err := ParseStatus(in.Status)
	if err != nil {
		return err
	}

	parsed := Invoice{
		ID:             in.ID,
		InvoiceNumber:  strings.TrimSpace(in.Rechnungsnummer),
		Supplier:       strings.TrimSpace(in.Lieferant),
		NetAmount:      in.BetragNetto,
		VATRate:        deref(in.MwstSatz),
		VATAmount:      in.MwstBetrag,
		GrossAmount:    in.BetragBrutto,
		ServicePeriod:  deref(in.Leistungszeitraum),
		Status:         status,
		SourceFilePath: in.Dateipfad,
	}
	if d := deref(in.Datum); d != "" {
		date, err := time.Parse(DateLayout, d)
		if err != nil {
			return fmt.Errorf("datum: %w", err)
		}
		parsed.Date = date
	}
	if in.Verarbeitet != nil {
		parsed.ProcessedAt = *in.Verarbeitet
	}
	*inv = parsed
	return nil
}
