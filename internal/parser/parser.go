package parser

import (
	"strings"
	"time"

	"finconv/internal"
)

const Version = "1.0.0"

// Base extraction confidence per format. The XBRL instance format already
// carries standardized tags, so it seeds matching at full confidence;
// unstructured text seeds lowest.
const (
	ConfidenceXBRL = 100
	ConfidenceJSON = 90
	ConfidenceCSV  = 85
	ConfidenceXLSX = 85
	ConfidenceText = 60
)

// Parser turns raw document bytes into the canonical model. Parse never
// returns an error: unrecoverable failure yields a report with zero
// statements and a critical error entry, partial failure yields best-effort
// statements plus warnings.
type Parser interface {
	Format() internal.DocumentFormat
	Parse(raw []byte, fileName string) *internal.CanonicalReport
	Validate(raw []byte, fileName string) internal.ValidationResult
}

var mimeTable = map[string]internal.DocumentFormat{
	"text/csv":                      internal.FormatCSV,
	"text/tab-separated-values":     internal.FormatCSV,
	"application/vnd.ms-excel":      internal.FormatXLSX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": internal.FormatXLSX,
	"application/pdf":  internal.FormatText,
	"text/plain":       internal.FormatText,
	"text/html":        internal.FormatText,
	"application/json": internal.FormatJSON,
	"application/xml":  internal.FormatXBRL,
	"text/xml":         internal.FormatXBRL,
}

var extTable = map[string]internal.DocumentFormat{
	".csv":  internal.FormatCSV,
	".tsv":  internal.FormatCSV,
	".xlsx": internal.FormatXLSX,
	".xls":  internal.FormatXLSX,
	".pdf":  internal.FormatText,
	".txt":  internal.FormatText,
	".html": internal.FormatText,
	".htm":  internal.FormatText,
	".json": internal.FormatJSON,
	".xml":  internal.FormatXBRL,
	".xbrl": internal.FormatXBRL,
}

var aliasTable = map[string]internal.DocumentFormat{
	"comma":       internal.FormatCSV,
	"delimited":   internal.FormatCSV,
	"tabular":     internal.FormatCSV,
	"excel":       internal.FormatXLSX,
	"sheet":       internal.FormatXLSX,
	"spreadsheet": internal.FormatXLSX,
	"pdf":         internal.FormatText,
	"plain":       internal.FormatText,
	"unstructured": internal.FormatText,
	"object":      internal.FormatJSON,
	"structured":  internal.FormatJSON,
	"instance":    internal.FormatXBRL,
	"xml":         internal.FormatXBRL,
}

// Registry resolves a format identifier (plus optional MIME/extension hints)
// to a registered parser. Extensible at runtime via Register.
type Registry struct {
	byFormat map[internal.DocumentFormat]Parser
}

func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byFormat: map[internal.DocumentFormat]Parser{}}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Parser) {
	r.byFormat[p.Format()] = p
}

// Resolve walks its tiers in order: exact registered format, MIME table,
// file extension, then fuzzy alias keywords. A miss on every tier means the
// format is unsupported; callers must treat that as terminal.
func (r *Registry) Resolve(formatID, mimeHint, fileName string) (Parser, bool) {
	if p, ok := r.byFormat[internal.DocumentFormat(strings.ToLower(strings.TrimSpace(formatID)))]; ok {
		return p, true
	}

	mime := strings.ToLower(strings.TrimSpace(mimeHint))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if format, ok := mimeTable[mime]; ok {
		if p, ok := r.byFormat[format]; ok {
			return p, true
		}
	}

	lower := strings.ToLower(fileName)
	if dot := strings.LastIndex(lower, "."); dot >= 0 {
		if format, ok := extTable[lower[dot:]]; ok {
			if p, ok := r.byFormat[format]; ok {
				return p, true
			}
		}
	}

	probe := strings.ToLower(formatID + " " + mimeHint)
	for alias, format := range aliasTable {
		if strings.Contains(probe, alias) {
			if p, ok := r.byFormat[format]; ok {
				return p, true
			}
		}
	}

	return nil, false
}

// Default returns a registry with all five format parsers registered.
func Default() *Registry {
	return NewRegistry(
		NewCSVParser(),
		NewXLSXParser(),
		NewTextParser(),
		NewObjectParser(),
		NewXBRLParser(),
	)
}

func newReport(currency string) *internal.CanonicalReport {
	return &internal.CanonicalReport{
		Currency: currency,
		Meta: internal.ReportMeta{
			ParserVersion: Version,
			ParsedAt:      time.Now().UTC(),
		},
	}
}

func finishReport(r *internal.CanonicalReport, started time.Time) *internal.CanonicalReport {
	r.Meta.DurationMs = float64(time.Since(started).Microseconds()) / 1000
	if len(r.Statements) > 0 {
		first := r.Statements[0]
		r.FiscalYear = first.FiscalYear
		r.FiscalQuarter = first.FiscalQuarter
		if first.FiscalQuarter != nil {
			r.ReportType = "quarterly"
		} else {
			r.ReportType = "annual"
		}
	}
	return r
}

func addCritical(r *internal.CanonicalReport, msg string) {
	r.Meta.Errors = append(r.Meta.Errors, internal.ReportIssue{Severity: internal.SeverityCritical, Message: msg})
}

func addWarning(r *internal.CanonicalReport, msg string) {
	r.Meta.Warnings = append(r.Meta.Warnings, msg)
}
