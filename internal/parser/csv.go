package parser

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"finconv/internal"
	"finconv/internal/util"
)

// CSVParser handles delimited tables (comma, semicolon, tab). The first
// column is the concept label; the first sanitizable remaining cell is the
// fact value.
type CSVParser struct{}

func NewCSVParser() *CSVParser { return &CSVParser{} }

func (p *CSVParser) Format() internal.DocumentFormat { return internal.FormatCSV }

func (p *CSVParser) Parse(raw []byte, fileName string) *internal.CanonicalReport {
	started := time.Now()
	report := newReport(internal.DefaultCurrency)

	records, err := readDelimited(raw)
	if err != nil {
		addCritical(report, fmt.Sprintf("csv: unreadable input: %v", err))
		return finishReport(report, started)
	}
	if len(records) == 0 {
		addCritical(report, "csv: no rows")
		return finishReport(report, started)
	}

	fields := map[string]string{}
	dataRows := make([][]string, 0, len(records))
	dataLines := make([]int, 0, len(records))
	headerSeen := false

	for i, row := range records {
		cells := trimCells(row)
		if emptyRow(cells) {
			continue
		}
		// Two-cell prologue rows like "Currency,EUR" carry document fields.
		if len(cells) == 2 && !headerSeen && looksLikeFieldRow(cells[0]) {
			fields[normalizeFieldName(cells[0])] = cells[1]
			continue
		}
		if !headerSeen && isHeaderRow(cells) {
			headerSeen = true
			fields["header"] = strings.Join(cells, " ")
			continue
		}
		dataRows = append(dataRows, cells)
		dataLines = append(dataLines, i+1)
	}

	sample := string(raw)
	if len(sample) > 4096 {
		sample = sample[:4096]
	}

	report.Currency = DetectCurrency(fields["currency"], sample)
	if company, ok := fields["company"]; ok {
		report.CompanyName = company
	} else if company, ok := fields["company_name"]; ok {
		report.CompanyName = company
	}

	periodEnd := DetectPeriodEnd(fields, sample, report.Meta.ParsedAt)

	items := make([]internal.LineItem, 0, len(dataRows))
	labels := make([]string, 0, len(dataRows))
	for i, cells := range dataRows {
		item, ok := rowToItem(cells, internal.SourceRef{
			Source: string(internal.FormatCSV),
			Line:   dataLines[i],
			Raw:    strings.Join(cells, "|"),
		}, ConfidenceCSV)
		if !ok {
			continue
		}
		items = append(items, item)
		labels = append(labels, item.Label)
	}

	if len(items) == 0 {
		addCritical(report, "csv: no line items extracted")
		return finishReport(report, started)
	}

	kind := DetectStatementKind(strings.Join(labels, "\n") + "\n" + fields["header"])
	report.Statements = []internal.Statement{{
		Kind:       kind,
		PeriodEnd:  periodEnd,
		FiscalYear: periodEnd.Year(),
		Items:      items,
	}}
	return finishReport(report, started)
}

func (p *CSVParser) Validate(raw []byte, fileName string) internal.ValidationResult {
	result := internal.ValidationResult{}
	records, err := readDelimited(raw)
	if err != nil {
		result.Issues = append(result.Issues, err.Error())
		return result
	}
	for i, row := range records {
		cells := trimCells(row)
		if emptyRow(cells) {
			continue
		}
		if _, ok := rowToItem(cells, internal.SourceRef{Line: i + 1}, 0); ok {
			result.Valid++
		} else {
			result.Invalid++
		}
	}
	return result
}

func readDelimited(raw []byte) ([][]string, error) {
	text := string(raw)
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = detectDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader.ReadAll()
}

func detectDelimiter(text string) rune {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestCount := ',', strings.Count(line, ",")
	if c := strings.Count(line, ";"); c > bestCount {
		best, bestCount = ';', c
	}
	if c := strings.Count(line, "\t"); c > bestCount {
		best = '\t'
	}
	return best
}

// rowToItem converts one tabular record: first cell is the label, the first
// remaining cell that sanitizes to a value is the fact. Rows with no label
// or no value are dropped, never emitted as empty items.
func rowToItem(cells []string, ref internal.SourceRef, confidence float64) (internal.LineItem, bool) {
	if len(cells) < 2 {
		return internal.LineItem{}, false
	}
	label := strings.TrimSpace(cells[0])
	if label == "" || util.NormalizeLabel(label) == "" {
		return internal.LineItem{}, false
	}

	var value util.ParsedValue
	unit := ""
	for _, cell := range cells[1:] {
		parsed := util.SanitizeValue(cell)
		if parsed.Empty() {
			continue
		}
		if value.Empty() {
			value = parsed
			continue
		}
		// A short trailing text cell after the value is treated as a unit.
		if parsed.Text != nil && unit == "" && len(*parsed.Text) <= 12 {
			unit = *parsed.Text
		}
	}
	if value.Empty() {
		return internal.LineItem{}, false
	}

	return internal.LineItem{
		Label:       label,
		NumberValue: value.Number,
		BoolValue:   value.Bool,
		TextValue:   value.Text,
		Unit:        unit,
		Ref:         ref,
		Confidence:  confidence,
	}, true
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = util.NormalizeSpaces(c)
	}
	return out
}

func emptyRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

var fieldRowNames = map[string]struct{}{}

func init() {
	for _, name := range append([]string{"currency", "company", "company_name", "framework"}, periodFieldNames...) {
		fieldRowNames[name] = struct{}{}
	}
}

func looksLikeFieldRow(first string) bool {
	_, ok := fieldRowNames[normalizeFieldName(first)]
	return ok
}

// isHeaderRow reports whether a row looks like column headers: several
// cells, none of which sanitize to a number.
func isHeaderRow(cells []string) bool {
	if len(cells) < 2 {
		return false
	}
	for _, c := range cells[1:] {
		if c == "" {
			continue
		}
		if _, ok := util.ParseAmount(c); ok {
			return false
		}
	}
	lower := strings.ToLower(strings.Join(cells, " "))
	for _, probe := range []string{"label", "concept", "item", "description", "account", "amount", "value", "fy", "20"} {
		if strings.Contains(lower, probe) {
			return true
		}
	}
	return false
}
