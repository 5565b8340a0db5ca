package invoice

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rechnungen/pkg/models"
)

var (
	nonNumeric = regexp.MustCompile(`[^\d.]`)
	germanDate = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})`)
	ratePrefix = regexp.MustCompile(`^\d+(?:[.,]\d+)?`)
)

// ParseGermanAmount parses an amount written as "1.234,56". Thousands dots
// are dropped, the decimal comma becomes a point and anything else that is
// not a digit or point is discarded. Unparseable input yields an invalid
// NullDecimal.
func ParseGermanAmount(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	negative := strings.HasPrefix(s, "-")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	s = nonNumeric.ReplaceAllString(s, "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if negative {
		d = d.Neg()
	}
	return decimal.NullDecimal{Decimal: d.Round(2), Valid: true}
}

// parseLooseAmount accepts the amount shapes a completion service emits:
// bare numbers ("1234.56"), German notation ("1.234,56"), comma-grouped
// values ("1,234.56") and values with a currency marker ("1234.56 EUR").
// Whichever separator comes last is the decimal one.
func parseLooseAmount(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return decimal.NullDecimal{}
	}
	if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
		return ParseGermanAmount(s)
	}
	negative := strings.HasPrefix(s, "-")
	d, err := decimal.NewFromString(nonNumeric.ReplaceAllString(s, ""))
	if err != nil {
		return decimal.NullDecimal{}
	}
	if negative {
		d = d.Neg()
	}
	return decimal.NullDecimal{Decimal: d.Round(2), Valid: true}
}

// ParseGermanDate finds a DD.MM.YYYY date in s. It reports false when no
// valid calendar date is present.
func ParseGermanDate(s string) (time.Time, bool) {
	m := germanDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	date, err := time.Parse("02.01.2006", m[1]+"."+m[2]+"."+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// parseISODate parses YYYY-MM-DD and falls back to DD.MM.YYYY.
func parseISODate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if date, err := time.Parse(models.DateLayout, s); err == nil {
		return date, true
	}
	return ParseGermanDate(s)
}

// NormalizeVATRate renders rates like "19", "19,0", "19 %" or "7.5%" as
// "19%" / "7.5%". Input without a leading number yields "".
func NormalizeVATRate(s string) string {
	s = strings.TrimSpace(s)
	m := ratePrefix.FindString(s)
	if m == "" {
		return ""
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m, ",", "."))
	if err != nil {
		return ""
	}
	return d.String() + "%"
}

// today returns the calendar date of now as UTC midnight.
func today(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
