package taxonomy

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"finconv/internal"
)

// LoadConceptsCSV reads taxonomy concepts from a CSV export with the
// columns id,tag,label,framework,sector,statement_kind,parent_tag,synonyms.
// Synonyms are separated by semicolons inside the last column.
func LoadConceptsCSV(raw []byte) ([]internal.TaxonomyConcept, error) {
	reader := csv.NewReader(strings.NewReader(string(raw)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty taxonomy csv")
	}

	start := 0
	if strings.EqualFold(strings.TrimSpace(records[0][0]), "id") {
		start = 1
	}

	var out []internal.TaxonomyConcept
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < 4 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad concept id %q", i+1, rec[0])
		}
		c := internal.TaxonomyConcept{
			ID:        id,
			Tag:       strings.TrimSpace(rec[1]),
			Label:     strings.TrimSpace(rec[2]),
			Framework: internal.Framework(strings.TrimSpace(rec[3])),
		}
		if c.Tag == "" || c.Label == "" {
			return nil, fmt.Errorf("row %d: tag and label are required", i+1)
		}
		if len(rec) > 4 {
			if v := strings.TrimSpace(rec[4]); v != "" {
				c.Sector = &v
			}
		}
		if len(rec) > 5 {
			if v := strings.TrimSpace(rec[5]); v != "" {
				c.StatementKind = &v
			}
		}
		if len(rec) > 6 {
			if v := strings.TrimSpace(rec[6]); v != "" {
				c.ParentTag = &v
			}
		}
		if len(rec) > 7 {
			for _, syn := range strings.Split(rec[7], ";") {
				if s := strings.TrimSpace(syn); s != "" {
					c.Synonyms = append(c.Synonyms, s)
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// CoreConcepts is a minimal built-in us-gaap concept set so a fresh install
// can convert documents before a full taxonomy is seeded.
func CoreConcepts() []internal.TaxonomyConcept {
	bs := string(internal.StatementBalanceSheet)
	is := string(internal.StatementIncome)
	cf := string(internal.StatementCashFlow)

	mk := func(id int, tag, label, kind string, synonyms ...string) internal.TaxonomyConcept {
		c := internal.TaxonomyConcept{
			ID:        id,
			Tag:       tag,
			Label:     label,
			Framework: internal.FrameworkUSGAAP,
			Synonyms:  synonyms,
		}
		if kind != "" {
			c.StatementKind = &kind
		}
		return c
	}

	return []internal.TaxonomyConcept{
		mk(1, "us-gaap:Assets", "Total Assets", bs, "Assets"),
		mk(2, "us-gaap:AssetsCurrent", "Total Current Assets", bs, "Current Assets"),
		mk(3, "us-gaap:CashAndCashEquivalentsAtCarryingValue", "Cash and Cash Equivalents", bs, "Cash", "Cash Equivalents"),
		mk(4, "us-gaap:AccountsReceivableNetCurrent", "Accounts Receivable", bs, "Receivables", "Trade Receivables"),
		mk(5, "us-gaap:InventoryNet", "Inventories", bs, "Inventory"),
		mk(6, "us-gaap:PropertyPlantAndEquipmentNet", "Property Plant and Equipment", bs, "PP&E", "Fixed Assets"),
		mk(7, "us-gaap:Goodwill", "Goodwill", bs),
		mk(8, "us-gaap:Liabilities", "Total Liabilities", bs, "Liabilities"),
		mk(9, "us-gaap:LiabilitiesCurrent", "Total Current Liabilities", bs, "Current Liabilities"),
		mk(10, "us-gaap:AccountsPayableCurrent", "Accounts Payable", bs, "Payables", "Trade Payables"),
		mk(11, "us-gaap:LongTermDebtNoncurrent", "Long Term Debt", bs, "Long-term Debt", "Noncurrent Debt"),
		mk(12, "us-gaap:StockholdersEquity", "Total Stockholders Equity", bs, "Shareholders Equity", "Total Equity"),
		mk(13, "us-gaap:RetainedEarningsAccumulatedDeficit", "Retained Earnings", bs, "Accumulated Deficit"),

		mk(14, "us-gaap:Revenues", "Total Revenue", is, "Revenue", "Net Sales", "Sales", "Total Revenues"),
		mk(15, "us-gaap:CostOfRevenue", "Cost of Revenue", is, "Cost of Sales", "Cost of Goods Sold", "COGS"),
		mk(16, "us-gaap:GrossProfit", "Gross Profit", is, "Gross Margin"),
		mk(17, "us-gaap:OperatingExpenses", "Operating Expenses", is, "Total Operating Expenses"),
		mk(18, "us-gaap:ResearchAndDevelopmentExpense", "Research and Development Expense", is, "R&D", "Research and Development"),
		mk(19, "us-gaap:SellingGeneralAndAdministrativeExpense", "Selling General and Administrative Expense", is, "SG&A", "Selling and Administrative"),
		mk(20, "us-gaap:OperatingIncomeLoss", "Operating Income", is, "Income from Operations", "Operating Profit", "Operating Loss"),
		mk(21, "us-gaap:InterestExpense", "Interest Expense", is),
		mk(22, "us-gaap:IncomeTaxExpenseBenefit", "Income Tax Expense", is, "Provision for Income Taxes", "Income Taxes"),
		mk(23, "us-gaap:NetIncomeLoss", "Net Income", is, "Net Loss", "Net Earnings", "Profit for the Year"),
		mk(24, "us-gaap:EarningsPerShareBasic", "Earnings Per Share Basic", is, "Basic EPS", "EPS Basic"),
		mk(25, "us-gaap:EarningsPerShareDiluted", "Earnings Per Share Diluted", is, "Diluted EPS", "EPS Diluted"),

		mk(26, "us-gaap:NetCashProvidedByUsedInOperatingActivities", "Net Cash Provided by Operating Activities", cf, "Cash from Operations", "Operating Cash Flow"),
		mk(27, "us-gaap:NetCashProvidedByUsedInInvestingActivities", "Net Cash Provided by Investing Activities", cf, "Cash from Investing", "Investing Cash Flow"),
		mk(28, "us-gaap:NetCashProvidedByUsedInFinancingActivities", "Net Cash Provided by Financing Activities", cf, "Cash from Financing", "Financing Cash Flow"),
		mk(29, "us-gaap:DepreciationDepletionAndAmortization", "Depreciation and Amortization", cf, "D&A", "Depreciation"),
		mk(30, "us-gaap:PaymentsToAcquirePropertyPlantAndEquipment", "Capital Expenditures", cf, "CapEx", "Purchases of Property and Equipment"),
	}
}
