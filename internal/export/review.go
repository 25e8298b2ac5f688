package export

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"finconv/internal"
)

// ReviewRows flattens matched statements into one row per line item for
// human review of low-confidence and unmapped labels.
func ReviewRows(statements []internal.Statement) []internal.ReviewExportRow {
	var rows []internal.ReviewExportRow
	for _, stmt := range statements {
		for i, item := range stmt.Items {
			row := internal.ReviewExportRow{
				Statement:      string(stmt.Kind),
				LineNo:         i + 1,
				Label:          item.Label,
				Value:          item.NumberValue,
				ExtractionConf: item.Confidence,
				NeedsMapping:   item.Match == nil,
			}
			if item.Unit != "" {
				unit := item.Unit
				row.Unit = &unit
			}
			if item.Match != nil {
				tag := item.Match.Tag
				method := string(item.Match.Method)
				conf := item.Match.Confidence
				row.MatchTag = &tag
				row.MatchMethod = &method
				row.MatchConf = &conf
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func WriteReviewXLSX(rows []internal.ReviewExportRow, outputPath string) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	headers := []string{
		"statement", "line_no", "label", "value", "unit",
		"extraction_confidence", "match_tag", "match_method", "match_confidence", "needs_mapping",
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.Statement)
		set(2, row.LineNo)
		set(3, row.Label)
		set(4, derefFloat(row.Value))
		set(5, derefString(row.Unit))
		set(6, row.ExtractionConf)
		set(7, derefString(row.MatchTag))
		set(8, derefString(row.MatchMethod))
		set(9, derefFloat(row.MatchConf))
		set(10, row.NeedsMapping)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
