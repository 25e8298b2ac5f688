package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"finconv/internal"
	"finconv/internal/util"
)

// XLSXParser reads one logical statement per sheet, re-detecting currency,
// period and statement kind for each sheet independently.
type XLSXParser struct{}

func NewXLSXParser() *XLSXParser { return &XLSXParser{} }

func (p *XLSXParser) Format() internal.DocumentFormat { return internal.FormatXLSX }

func (p *XLSXParser) Parse(raw []byte, fileName string) *internal.CanonicalReport {
	started := time.Now()
	report := newReport(internal.DefaultCurrency)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		addCritical(report, fmt.Sprintf("xlsx: unreadable workbook: %v", err))
		return finishReport(report, started)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		addCritical(report, "xlsx: workbook has no sheets")
		return finishReport(report, started)
	}

	report.CompanyName = workbookCompany(f)

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			addWarning(report, fmt.Sprintf("xlsx: sheet %q unreadable: %v", sheet, err))
			continue
		}
		stmt, ok := p.parseSheet(sheet, rows, report)
		if !ok {
			addWarning(report, fmt.Sprintf("xlsx: sheet %q yielded no line items", sheet))
			continue
		}
		report.Statements = append(report.Statements, stmt)
	}

	if len(report.Statements) == 0 {
		addCritical(report, "xlsx: no statements extracted from any sheet")
	}
	return finishReport(report, started)
}

func (p *XLSXParser) parseSheet(sheet string, rows [][]string, report *internal.CanonicalReport) (internal.Statement, bool) {
	sample := strings.Builder{}
	fields := map[string]string{}
	items := []internal.LineItem{}

	for i, row := range rows {
		cells := trimCells(row)
		if emptyRow(cells) {
			continue
		}
		sample.WriteString(strings.Join(cells, " "))
		sample.WriteString("\n")

		if len(cells) == 2 && looksLikeFieldRow(cells[0]) {
			fields[normalizeFieldName(cells[0])] = cells[1]
			continue
		}
		// Single-cell heading rows near the top carry the company name.
		if report.CompanyName == "" && i < 4 && headingCell(cells) != "" {
			report.CompanyName = headingCell(cells)
			continue
		}
		if isHeaderRow(cells) && len(items) == 0 {
			fields["header"] = strings.Join(cells, " ")
			continue
		}

		cellName, _ := excelize.CoordinatesToCellName(1, i+1)
		item, ok := rowToItem(cells, internal.SourceRef{
			Source:  string(internal.FormatXLSX),
			Segment: sheet,
			Line:    i + 1,
			Cell:    cellName,
			Raw:     strings.Join(cells, "|"),
		}, ConfidenceXLSX)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return internal.Statement{}, false
	}

	kind := KindFromName(sheet)
	if kind == internal.StatementUnknown {
		kind = DetectStatementKind(sample.String())
	}
	periodEnd := DetectPeriodEnd(fields, sample.String(), report.Meta.ParsedAt)
	// Workbook currency follows the first sheet that detects one explicitly.
	if c := DetectCurrency(fields["currency"], sample.String()); c != internal.DefaultCurrency && report.Currency == internal.DefaultCurrency {
		report.Currency = c
	}

	return internal.Statement{
		Kind:       kind,
		PeriodEnd:  periodEnd,
		FiscalYear: periodEnd.Year(),
		Items:      items,
	}, true
}

func (p *XLSXParser) Validate(raw []byte, fileName string) internal.ValidationResult {
	result := internal.ValidationResult{}
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		result.Issues = append(result.Issues, err.Error())
		return result
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			result.Issues = append(result.Issues, fmt.Sprintf("sheet %q: %v", sheet, err))
			continue
		}
		for i, row := range rows {
			cells := trimCells(row)
			if emptyRow(cells) || isHeaderRow(cells) {
				continue
			}
			if _, ok := rowToItem(cells, internal.SourceRef{Line: i + 1}, 0); ok {
				result.Valid++
			} else {
				result.Invalid++
			}
		}
	}
	return result
}

func workbookCompany(f *excelize.File) string {
	if app, err := f.GetAppProps(); err == nil && app != nil && strings.TrimSpace(app.Company) != "" {
		return strings.TrimSpace(app.Company)
	}
	if props, err := f.GetDocProps(); err == nil && props != nil && strings.TrimSpace(props.Title) != "" {
		return strings.TrimSpace(props.Title)
	}
	return ""
}

// headingCell returns the only non-empty cell of a row when that cell looks
// like a title rather than a label/value pair.
func headingCell(cells []string) string {
	found := ""
	for _, c := range cells {
		if c == "" {
			continue
		}
		if found != "" {
			return ""
		}
		found = c
	}
	if found == "" {
		return ""
	}
	if _, numeric := util.ParseAmount(found); numeric {
		return ""
	}
	if KindFromName(found) != internal.StatementUnknown {
		return ""
	}
	return found
}

