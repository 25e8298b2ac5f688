package internal

import "time"

type DocumentFormat string

const (
	FormatCSV  DocumentFormat = "csv"
	FormatXLSX DocumentFormat = "xlsx"
	FormatText DocumentFormat = "text"
	FormatJSON DocumentFormat = "json"
	FormatXBRL DocumentFormat = "xbrl"
)

type StatementKind string

const (
	StatementBalanceSheet StatementKind = "balance_sheet"
	StatementIncome       StatementKind = "income_statement"
	StatementCashFlow     StatementKind = "cash_flow"
	StatementEquity       StatementKind = "equity"
	StatementUnknown      StatementKind = "unknown"
)

type Framework string

const (
	FrameworkUSGAAP Framework = "us-gaap"
	FrameworkIFRS   Framework = "ifrs"
)

type MatchMethod string

const (
	MethodExact    MatchMethod = "exact"
	MethodFuzzy    MatchMethod = "fuzzy"
	MethodAssisted MatchMethod = "assisted"
	MethodManual   MatchMethod = "manual"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

const DefaultCurrency = "USD"

// SourceRef points back at the row/cell/line an item was extracted from.
type SourceRef struct {
	Source  string `json:"source"`
	Segment string `json:"segment,omitempty"`
	Line    int    `json:"line"`
	Cell    string `json:"cell,omitempty"`
	Raw     string `json:"raw,omitempty"`
}

type TaxonomyMatch struct {
	Tag        string      `json:"tag"`
	Framework  Framework   `json:"framework"`
	Confidence float64     `json:"confidence"`
	Method     MatchMethod `json:"method"`
	Synonyms   []string    `json:"synonyms,omitempty"`
}

// LineItem is one extracted fact before standardization. At most one of
// NumberValue/BoolValue/TextValue is set; a nil-flagged item carries none.
type LineItem struct {
	Label       string         `json:"label"`
	NumberValue *float64       `json:"numberValue,omitempty"`
	BoolValue   *bool          `json:"boolValue,omitempty"`
	TextValue   *string        `json:"textValue,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	Decimals    *int           `json:"decimals,omitempty"`
	Nil         bool           `json:"nil,omitempty"`
	Ref         SourceRef      `json:"ref"`
	Confidence  float64        `json:"confidence"`
	Match       *TaxonomyMatch `json:"match,omitempty"`
}

func (li LineItem) HasValue() bool {
	return li.NumberValue != nil || li.BoolValue != nil || li.TextValue != nil
}

type Statement struct {
	Kind          StatementKind `json:"kind"`
	PeriodEnd     time.Time     `json:"periodEnd"`
	FiscalYear    int           `json:"fiscalYear"`
	FiscalQuarter *int          `json:"fiscalQuarter,omitempty"`
	Items         []LineItem    `json:"items"`
	Framework     Framework     `json:"framework,omitempty"`
	Audited       *bool         `json:"audited,omitempty"`
	Consolidated  *bool         `json:"consolidated,omitempty"`
}

type ReportIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type ReportMeta struct {
	ParserVersion string        `json:"parserVersion"`
	ParsedAt      time.Time     `json:"parsedAt"`
	DurationMs    float64       `json:"durationMs"`
	Warnings      []string      `json:"warnings,omitempty"`
	Errors        []ReportIssue `json:"errors,omitempty"`
	AIAssisted    bool          `json:"aiAssisted,omitempty"`
}

// CanonicalReport is the format-independent result of parsing one document.
type CanonicalReport struct {
	Currency      string      `json:"currency"`
	FiscalYear    int         `json:"fiscalYear,omitempty"`
	FiscalQuarter *int        `json:"fiscalQuarter,omitempty"`
	ReportType    string      `json:"reportType,omitempty"`
	CompanyName   string      `json:"companyName,omitempty"`
	Statements    []Statement `json:"statements"`
	Meta          ReportMeta  `json:"meta"`
}

func (r *CanonicalReport) HasCriticalError() bool {
	for _, e := range r.Meta.Errors {
		if e.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func (r *CanonicalReport) ItemCount() int {
	n := 0
	for _, s := range r.Statements {
		n += len(s.Items)
	}
	return n
}

type ValidationResult struct {
	Valid   int      `json:"valid"`
	Invalid int      `json:"invalid"`
	Issues  []string `json:"issues,omitempty"`
}

type TaxonomyConcept struct {
	ID            int
	Tag           string
	Label         string
	Framework     Framework
	Sector        *string
	StatementKind *string
	ParentTag     *string
	Synonyms      []string
}

type LearnedMapping struct {
	Label         string
	Sector        *string
	StatementKind *string
	Tag           string
	Framework     Framework
	Confidence    float64
	Method        MatchMethod
}

type MatchCandidate struct {
	Tag        string    `json:"tag"`
	Label      string    `json:"label"`
	Framework  Framework `json:"framework"`
	Confidence float64   `json:"confidence"`
}

type ReviewExportRow struct {
	Statement      string
	LineNo         int
	Label          string
	Value          *float64
	Unit           *string
	ExtractionConf float64
	MatchTag       *string
	MatchMethod    *string
	MatchConf      *float64
	NeedsMapping   bool
}
