package parser

import (
	"strings"
	"testing"

	"finconv/internal"
)

func TestObjectParseStatementsArray(t *testing.T) {
	input := `{
		"company": "Acme Corp",
		"currency": "EUR",
		"statements": [{
			"type": "income_statement",
			"fiscal_year": 2023,
			"fiscal_quarter": 2,
			"items": [
				{"concept": "Revenue", "value": 5000000},
				{"label": "Net Income", "value": "1,200,000"}
			]
		}]
	}`

	report := NewObjectParser().Parse([]byte(input), "report.json")
	if report.HasCriticalError() {
		t.Fatalf("unexpected critical errors: %+v", report.Meta.Errors)
	}
	if report.CompanyName != "Acme Corp" || report.Currency != "EUR" {
		t.Fatalf("document fields wrong: %q %q", report.CompanyName, report.Currency)
	}
	if len(report.Statements) != 1 {
		t.Fatalf("statements = %d, want 1", len(report.Statements))
	}

	stmt := report.Statements[0]
	if stmt.Kind != internal.StatementIncome {
		t.Fatalf("kind = %s, want income_statement", stmt.Kind)
	}
	if stmt.FiscalYear != 2023 || stmt.FiscalQuarter == nil || *stmt.FiscalQuarter != 2 {
		t.Fatalf("period wrong: year=%d quarter=%v", stmt.FiscalYear, stmt.FiscalQuarter)
	}
	if report.ReportType != "quarterly" {
		t.Fatalf("report type = %q, want quarterly", report.ReportType)
	}
	if len(stmt.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(stmt.Items))
	}
	if *stmt.Items[0].NumberValue != 5000000 || stmt.Items[0].Confidence != ConfidenceJSON {
		t.Fatalf("first item wrong: %+v", stmt.Items[0])
	}
	if *stmt.Items[1].NumberValue != 1200000 {
		t.Fatalf("string amount not parsed: %+v", stmt.Items[1])
	}
}

func TestObjectParseRepairsTrailingComma(t *testing.T) {
	input := `{"Total Assets": 5000000, "Total Liabilities": 2000000,}`

	report := NewObjectParser().Parse([]byte(input), "flat.json")
	if report.HasCriticalError() {
		t.Fatalf("unexpected critical errors: %+v", report.Meta.Errors)
	}
	repaired := false
	for _, w := range report.Meta.Warnings {
		if strings.Contains(w, "repair") {
			repaired = true
		}
	}
	if !repaired {
		t.Fatal("expected a repair warning")
	}
	stmt := report.Statements[0]
	if stmt.Kind != internal.StatementBalanceSheet {
		t.Fatalf("kind = %s, want balance_sheet", stmt.Kind)
	}
	if len(stmt.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(stmt.Items))
	}
}

func TestObjectParseSections(t *testing.T) {
	input := `{
		"balance_sheet": {"Total Assets": 5000000},
		"income_statement": {"Revenue": 3000000}
	}`

	report := NewObjectParser().Parse([]byte(input), "sections.json")
	if report.HasCriticalError() {
		t.Fatalf("unexpected critical errors: %+v", report.Meta.Errors)
	}
	if len(report.Statements) != 2 {
		t.Fatalf("statements = %d, want 2", len(report.Statements))
	}
	kinds := map[internal.StatementKind]bool{}
	for _, s := range report.Statements {
		kinds[s.Kind] = true
	}
	if !kinds[internal.StatementBalanceSheet] || !kinds[internal.StatementIncome] {
		t.Fatalf("section names should drive kinds, got %v", kinds)
	}
}

func TestObjectParseFlatKeepsDocumentOrder(t *testing.T) {
	input := `{
		"currency": "USD",
		"Revenue": 5000000,
		"Cost of Goods Sold": 2000000,
		"Gross Profit": 3000000,
		"Operating Expenses": 1000000,
		"Net Income": 1500000
	}`
	want := []string{"Revenue", "Cost of Goods Sold", "Gross Profit", "Operating Expenses", "Net Income"}

	for run := 0; run < 5; run++ {
		report := NewObjectParser().Parse([]byte(input), "flat.json")
		if report.HasCriticalError() {
			t.Fatalf("unexpected critical errors: %+v", report.Meta.Errors)
		}
		items := report.Statements[0].Items
		if len(items) != len(want) {
			t.Fatalf("items = %d, want %d", len(items), len(want))
		}
		for i, item := range items {
			if item.Label != want[i] {
				t.Fatalf("run %d: item %d = %q, want %q", run, i, item.Label, want[i])
			}
			if item.Ref.Line != i+1 {
				t.Fatalf("run %d: item %q line = %d, want %d", run, item.Label, item.Ref.Line, i+1)
			}
		}
	}
}

func TestObjectParseSectionOrderIsStable(t *testing.T) {
	input := `{
		"income_statement": {"Revenue": 3000000},
		"balance_sheet": {"Total Assets": 5000000}
	}`

	for run := 0; run < 5; run++ {
		report := NewObjectParser().Parse([]byte(input), "sections.json")
		if len(report.Statements) != 2 {
			t.Fatalf("statements = %d, want 2", len(report.Statements))
		}
		if report.Statements[0].Kind != internal.StatementIncome || report.Statements[1].Kind != internal.StatementBalanceSheet {
			t.Fatalf("run %d: sections out of document order: %s, %s", run, report.Statements[0].Kind, report.Statements[1].Kind)
		}
	}
}

func TestObjectParseGarbage(t *testing.T) {
	report := NewObjectParser().Parse([]byte("not json at all {{{"), "bad.json")
	if !report.HasCriticalError() {
		t.Fatal("garbage input should be a critical error")
	}
}
