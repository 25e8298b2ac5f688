package parser

import (
	"regexp"
	"strings"
	"time"

	"finconv/internal"
)

var balanceKeywords = []string{
	"balance sheet", "total assets", "total liabilities", "stockholders equity",
	"shareholders equity", "current assets", "current liabilities", "cash and cash equivalents",
	"accounts receivable", "accounts payable", "retained earnings", "goodwill", "inventory",
	"financial position",
}

var incomeKeywords = []string{
	"income statement", "statement of operations", "profit and loss", "revenue", "revenues",
	"net sales", "cost of goods sold", "cost of revenue", "gross profit", "operating expenses",
	"operating income", "net income", "earnings per share", "interest expense", "income tax",
}

var cashFlowKeywords = []string{
	"cash flow", "operating activities", "investing activities", "financing activities",
	"net change in cash", "depreciation and amortization", "capital expenditures",
	"proceeds from", "repayments of", "free cash flow",
}

// DetectStatementKind scores the sampled text against the three keyword sets
// and picks the highest hit count. Ties break toward balance sheet, then
// income, then cash flow; zero hits is unknown.
func DetectStatementKind(sample string) internal.StatementKind {
	lower := strings.ToLower(sample)

	count := func(keywords []string) int {
		hits := 0
		for _, kw := range keywords {
			hits += strings.Count(lower, kw)
		}
		return hits
	}

	balance := count(balanceKeywords)
	income := count(incomeKeywords)
	cash := count(cashFlowKeywords)

	if balance == 0 && income == 0 && cash == 0 {
		return internal.StatementUnknown
	}
	if balance >= income && balance >= cash {
		return internal.StatementBalanceSheet
	}
	if income >= cash {
		return internal.StatementIncome
	}
	return internal.StatementCashFlow
}

// KindFromName maps a sheet/section name to a statement kind, for formats
// that carry explicit structural names.
func KindFromName(name string) internal.StatementKind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "balance") || strings.Contains(lower, "position"):
		return internal.StatementBalanceSheet
	case strings.Contains(lower, "income") || strings.Contains(lower, "profit") ||
		strings.Contains(lower, "operations") || strings.Contains(lower, "p&l"):
		return internal.StatementIncome
	case strings.Contains(lower, "cash"):
		return internal.StatementCashFlow
	case strings.Contains(lower, "equity"):
		return internal.StatementEquity
	}
	return internal.StatementUnknown
}

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"₽", "RUB"},
	{"$", "USD"},
}

var currencyCodes = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CHF|CAD|AUD|CNY|INR|RUB|SEK|NOK)\b`)

// DetectCurrency prefers an explicitly declared code, then scans sampled
// text for ISO codes and currency symbols, then falls back to the default.
func DetectCurrency(explicit, sample string) string {
	explicit = strings.ToUpper(strings.TrimSpace(explicit))
	if len(explicit) == 3 && currencyCodes.MatchString(explicit) {
		return explicit
	}

	if m := currencyCodes.FindString(strings.ToUpper(sample)); m != "" {
		return m
	}
	for _, c := range currencySymbols {
		if strings.Contains(sample, c.symbol) {
			return c.code
		}
	}
	return internal.DefaultCurrency
}

// Field names probed for a period-end date, in priority order.
var periodFieldNames = []string{
	"period_end", "periodend", "period_end_date", "as_of", "asof", "as_of_date",
	"reporting_date", "statement_date", "fiscal_year_end", "date", "period",
}

var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), "2006-01-02"},
	{regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`), "1/2/2006"},
	{regexp.MustCompile(`\b(\d{1,2}\.\d{1,2}\.\d{4})\b`), "2.1.2006"},
	{regexp.MustCompile(`\b([A-Z][a-z]+ \d{1,2}, \d{4})\b`), "January 2, 2006"},
	{regexp.MustCompile(`\b(\d{1,2} [A-Z][a-z]+ \d{4})\b`), "2 January 2006"},
}

// DetectPeriodEnd resolves a statement's period-end date from explicit
// fields first, then from date patterns in sampled text. It never fails:
// the fallback is the processing time, so every statement stays orderable.
func DetectPeriodEnd(fields map[string]string, sample string, now time.Time) time.Time {
	for _, name := range periodFieldNames {
		for key, value := range fields {
			if normalizeFieldName(key) != name {
				continue
			}
			if t, ok := parseDate(value); ok {
				return t
			}
		}
	}

	for _, p := range datePatterns {
		if m := p.re.FindStringSubmatch(sample); m != nil {
			if t, err := time.Parse(p.layout, m[1]); err == nil {
				return t
			}
		}
	}

	return now
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05Z07:00", "1/2/2006", "2.1.2006", "January 2, 2006", "2 January 2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	for _, p := range datePatterns {
		if m := p.re.FindStringSubmatch(value); m != nil {
			if t, err := time.Parse(p.layout, m[1]); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func normalizeFieldName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"), " ", "_")
}

// FiscalQuarterOf derives the calendar quarter of a period-end date.
func FiscalQuarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}
