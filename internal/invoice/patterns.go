package invoice

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"rechnungen/internal/logger"
	"rechnungen/pkg/models"
)

// amount matches German notation with mandatory cents: 1.234,56 or 190,00.
const amount = `([0-9]{1,3}(?:\.[0-9]{3})*,[0-9]{2})`

const (
	supplierScanLines = 20
	excerptLength     = 500
)

// Rule is one pattern rule for one field. Match returns the submatches of the
// rule or nil; Apply stores them on the invoice and reports whether a value
// was set. Rules of a field are tried in order and the first rule that sets a
// value wins.
type Rule struct {
	Name  string
	Match func(text string) []string
	Apply func(groups []string, inv *models.Invoice) bool
}

// FieldRules is the ordered rule list of a single field.
type FieldRules struct {
	Field string
	Rules []Rule
}

// regexRule builds a case-insensitive, unanchored Rule.
func regexRule(name, expr string, apply func([]string, *models.Invoice) bool) Rule {
	re := regexp.MustCompile(`(?i)` + expr)
	return Rule{Name: name, Match: re.FindStringSubmatch, Apply: apply}
}

// DefaultRules are the rules for German invoices, in priority order per field.
var DefaultRules = []FieldRules{
	{Field: "rechnungsnummer", Rules: []Rule{
		regexRule("rechnungsnummer", `Rechnungsnummer[:\s]+(\d+)`, setInvoiceNumber),
		regexRule("rechnung-nr", `Rechnung[s]?[-\s]?Nr\.?[:\s]+(\d+)`, setInvoiceNumber),
		regexRule("invoice", `Invoice[:\s]+(\d+)`, setInvoiceNumber),
		regexRule("re-prefix", `RE[-\s]?(\d+)`, setInvoiceNumber),
	}},
	{Field: "datum", Rules: []Rule{
		regexRule("rechnungsdatum", `Rechnungsdatum[:\s]+(\d{2}\.\d{2}\.\d{4})`, setDate),
		regexRule("datum", `Datum[:\s]+(\d{2}\.\d{2}\.\d{4})`, setDate),
		regexRule("date", `Date[:\s]+(\d{2}\.\d{2}\.\d{4})`, setDate),
	}},
	{Field: "lieferant", Rules: []Rule{
		{Name: "legal-entity-line", Match: matchLegalEntityLine, Apply: setSupplier},
		// Case-sensitive on purpose: the run must start with a capital letter.
		{
			Name:  "capitalized-run",
			Match: regexp.MustCompile(`(?m)^([A-Z][A-Za-z \t&.-]+(?:GmbH|AG|KG|e\.V\.|UG))`).FindStringSubmatch,
			Apply: setSupplier,
		},
	}},
	{Field: "betragNetto", Rules: []Rule{
		regexRule("netto", `(?:Netto|Summe netto|Gesamt netto|ohne\s+(?:Umsatz)?steuer)[:\s]+(?:EUR\s+)?`+amount, setNet),
		regexRule("rechnungsbetrag-ohne", `Rechnungsbetrag\s+\(ohne\s+Umsatzsteuer\)[:\s]+`+amount, setNet),
	}},
	{Field: "mwst", Rules: []Rule{
		regexRule("label-rate-amount", `(?:MwSt|Umsatzsteuer|USt\.?)\s+\(?([0-9]{1,2})%\)?[:\s]+(?:von\s+[0-9,.]+\s+EUR\s+)?`+amount, setVAT),
		regexRule("rate-label-amount", `([0-9]{1,2})\s*%\s+(?:MwSt|USt)[:\s]+`+amount, setVAT),
	}},
	{Field: "betragBrutto", Rules: []Rule{
		regexRule("brutto", `(?:Brutto|Gesamt brutto|Summe brutto|Endbetrag|Gesamtbetrag|inklusive\s+(?:Umsatz)?steuer)[:\s]+(?:EUR\s+)?`+amount, setGross),
		regexRule("rechnungsbetrag-inklusive", `Rechnungsbetrag\s+\(inklusive\s+Umsatzsteuer\)[:\s]+`+amount, setGross),
	}},
	{Field: "leistungszeitraum", Rules: []Rule{
		regexRule("monat", `Leistungszeitraum[:\s]+(\d{2}\.\d{4}|\d{2}\.\d{2}\.\d{4})`, setServicePeriod),
		regexRule("frei", `Leistungszeitraum[:\s]+([0-9/.-]+)`, setServicePeriod),
	}},
}

var legalEntity = regexp.MustCompile(`(?i)\b(?:gmbh|ag|kg|ug)\b|\be\.v\.`)

// matchLegalEntityLine returns the first of the leading lines that names a
// legal entity and has a plausible length.
func matchLegalEntityLine(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > supplierScanLines {
		lines = lines[:supplierScanLines]
	}
	for _, line := range lines {
		if !legalEntity.MatchString(line) {
			continue
		}
		line = strings.TrimSpace(line)
		if n := utf8.RuneCountInString(line); n > 3 && n < 100 {
			return []string{line, line}
		}
	}
	return nil
}

func setInvoiceNumber(g []string, inv *models.Invoice) bool {
	inv.InvoiceNumber = g[1]
	return true
}

func setDate(g []string, inv *models.Invoice) bool {
	date, ok := ParseGermanDate(g[1])
	if !ok {
		return false
	}
	inv.Date = date
	return true
}

func setSupplier(g []string, inv *models.Invoice) bool {
	s := strings.TrimSpace(g[1])
	if s == "" {
		return false
	}
	inv.Supplier = s
	return true
}

func setNet(g []string, inv *models.Invoice) bool {
	inv.NetAmount = ParseGermanAmount(g[1])
	return inv.NetAmount.Valid
}

func setVAT(g []string, inv *models.Invoice) bool {
	vat := ParseGermanAmount(g[2])
	if !vat.Valid {
		return false
	}
	inv.VATRate = g[1] + "%"
	inv.VATAmount = vat
	return true
}

func setGross(g []string, inv *models.Invoice) bool {
	inv.GrossAmount = ParseGermanAmount(g[1])
	return inv.GrossAmount.Valid
}

func setServicePeriod(g []string, inv *models.Invoice) bool {
	inv.ServicePeriod = g[1]
	return true
}

// PatternResult is the outcome of the deterministic extractor.
type PatternResult struct {
	Invoice *models.Invoice

	// Excerpt holds the first characters of the text for diagnostics.
	Excerpt string

	// Matched maps each field to the name of the rule that set it.
	Matched map[string]string

	// Derived names the amount computed from the other two, if any.
	Derived string

	// DateDefaulted is set when no date rule matched and today was used.
	DateDefaulted bool
}

// PatternExtractor recovers invoice fields from raw document text.
type PatternExtractor struct {
	rules []FieldRules
	now   func() time.Time
	log   zerolog.Logger
}

// NewPatternExtractor returns an extractor using DefaultRules.
func NewPatternExtractor() *PatternExtractor {
	return NewPatternExtractorWithRules(DefaultRules, time.Now)
}

// NewPatternExtractorWithRules creates an extractor with explicit rules and clock (for testing).
func NewPatternExtractorWithRules(rules []FieldRules, now func() time.Time) *PatternExtractor {
	return &PatternExtractor{
		rules: rules,
		now:   now,
		log:   logger.WithComponent("pattern-extractor"),
	}
}

// Extract applies the rules to text. It never fails: fields that no rule
// recovers stay empty, except the date, which falls back to today.
func (p *PatternExtractor) Extract(text string) *PatternResult {
	inv := &models.Invoice{}
	result := &PatternResult{
		Invoice: inv,
		Excerpt: excerpt(text, excerptLength),
		Matched: make(map[string]string),
	}

	if strings.TrimSpace(text) != "" {
		for _, field := range p.rules {
			for _, rule := range field.Rules {
				groups := rule.Match(text)
				if groups == nil || !rule.Apply(groups, inv) {
					continue
				}
				result.Matched[field.Field] = rule.Name
				break
			}
		}
	}

	if inv.Date.IsZero() {
		inv.Date = today(p.now())
		result.DateDefaulted = true
	}

	result.Derived = DeriveMissingAmounts(inv)

	p.log.Debug().
		Int("text_length", len(text)).
		Interface("matched", result.Matched).
		Str("derived", result.Derived).
		Bool("date_defaulted", result.DateDefaulted).
		Msg("Pattern extraction finished")

	return result
}

func excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
