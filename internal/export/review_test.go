package export

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"finconv/internal"
	"finconv/internal/util"
)

func reviewStatements() []internal.Statement {
	return []internal.Statement{{
		Kind: internal.StatementBalanceSheet,
		Items: []internal.LineItem{
			{
				Label:       "Total Assets",
				NumberValue: util.FloatPtr(5000000),
				Confidence:  85,
				Match: &internal.TaxonomyMatch{
					Tag:        "us-gaap:Assets",
					Confidence: 100,
					Method:     internal.MethodExact,
				},
			},
			{
				Label:       "Misc Provision",
				NumberValue: util.FloatPtr(1234),
				Confidence:  85,
			},
		},
	}}
}

func TestReviewRows(t *testing.T) {
	rows := ReviewRows(reviewStatements())
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	matched := rows[0]
	if matched.Statement != "balance_sheet" || matched.LineNo != 1 {
		t.Fatalf("first row wrong: %+v", matched)
	}
	if matched.NeedsMapping {
		t.Fatal("matched item must not need mapping")
	}
	if matched.MatchTag == nil || *matched.MatchTag != "us-gaap:Assets" {
		t.Fatalf("match tag wrong: %v", matched.MatchTag)
	}

	unmapped := rows[1]
	if !unmapped.NeedsMapping {
		t.Fatal("unmatched item must need mapping")
	}
	if unmapped.MatchTag != nil {
		t.Fatalf("unmatched row should have no tag, got %v", *unmapped.MatchTag)
	}
}

func TestWriteReviewXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.xlsx")
	if err := WriteReviewXLSX(ReviewRows(reviewStatements()), path); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("sheet rows = %d, want header plus 2", len(rows))
	}
	if rows[0][0] != "statement" || rows[0][9] != "needs_mapping" {
		t.Fatalf("header wrong: %v", rows[0])
	}
	if rows[1][2] != "Total Assets" || rows[1][6] != "us-gaap:Assets" {
		t.Fatalf("data row wrong: %v", rows[1])
	}
	if rows[2][9] != "TRUE" {
		t.Fatalf("needs_mapping cell = %q, want TRUE", rows[2][9])
	}
}
