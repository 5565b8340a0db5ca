package invoice

import (
	"github.com/shopspring/decimal"

	"rechnungen/pkg/models"
)

// Names returned by DeriveMissingAmounts.
const (
	DerivedGross = "betragBrutto"
	DerivedNet   = "betragNetto"
	DerivedVAT   = "mwstBetrag"
)

// DeriveMissingAmounts completes the VAT identity gross = net + vat when
// exactly one of the three amounts is missing. It returns the name of the
// derived amount, or "" when nothing was derived.
func DeriveMissingAmounts(inv *models.Invoice) string {
	net, vat, gross := inv.NetAmount, inv.VATAmount, inv.GrossAmount

	switch {
	case net.Valid && vat.Valid && !gross.Valid:
		inv.GrossAmount = valid(net.Decimal.Add(vat.Decimal))
		return DerivedGross
	case gross.Valid && vat.Valid && !net.Valid:
		inv.NetAmount = valid(gross.Decimal.Sub(vat.Decimal))
		return DerivedNet
	case gross.Valid && net.Valid && !vat.Valid:
		inv.VATAmount = valid(gross.Decimal.Sub(net.Decimal))
		return DerivedVAT
	}
	return ""
}

// VATIdentityHolds reports whether gross equals net plus VAT at two fraction
// digits. Invoices with an unknown amount trivially hold.
func VATIdentityHolds(inv *models.Invoice) bool {
	if !inv.NetAmount.Valid || !inv.VATAmount.Valid || !inv.GrossAmount.Valid {
		return true
	}
	sum := inv.NetAmount.Decimal.Add(inv.VATAmount.Decimal).Round(2)
	return sum.Equal(inv.GrossAmount.Decimal.Round(2))
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d.Round(2), Valid: true}
}
