package taxonomy

import (
	"context"
	"strings"

	"finconv/internal"
)

// ScoreHint is the context an assisted scorer may use to adjust confidence.
type ScoreHint struct {
	Sector        string
	StatementKind string
	Magnitude     float64
}

// Scorer is the pluggable backend of the assisted matching stage. The
// default is a static pattern table; other implementations may call an
// external model. Either way the matcher only sees this contract.
type Scorer interface {
	Score(ctx context.Context, label string, hint ScoreHint) (*internal.TaxonomyMatch, bool)
}

type assistPattern struct {
	keywords        []string
	tag             string
	confidence      float64
	sectorSensitive bool
}

// Curated common financial label synonyms with base confidences.
var assistPatterns = []assistPattern{
	{keywords: []string{"cash", "cash equivalents"}, tag: "us-gaap:CashAndCashEquivalentsAtCarryingValue", confidence: 85},
	{keywords: []string{"total assets"}, tag: "us-gaap:Assets", confidence: 90},
	{keywords: []string{"total liabilities"}, tag: "us-gaap:Liabilities", confidence: 90},
	{keywords: []string{"stockholders equity", "shareholders equity", "total equity"}, tag: "us-gaap:StockholdersEquity", confidence: 85},
	{keywords: []string{"retained earnings", "accumulated deficit"}, tag: "us-gaap:RetainedEarningsAccumulatedDeficit", confidence: 80},
	{keywords: []string{"accounts receivable", "trade receivables"}, tag: "us-gaap:AccountsReceivableNetCurrent", confidence: 80},
	{keywords: []string{"accounts payable", "trade payables"}, tag: "us-gaap:AccountsPayableCurrent", confidence: 80},
	{keywords: []string{"inventory", "inventories"}, tag: "us-gaap:InventoryNet", confidence: 80, sectorSensitive: true},
	{keywords: []string{"property plant", "property, plant"}, tag: "us-gaap:PropertyPlantAndEquipmentNet", confidence: 80},
	{keywords: []string{"goodwill"}, tag: "us-gaap:Goodwill", confidence: 85},
	{keywords: []string{"long term debt", "long-term debt"}, tag: "us-gaap:LongTermDebt", confidence: 80},
	{keywords: []string{"revenue", "net sales", "turnover"}, tag: "us-gaap:Revenues", confidence: 85, sectorSensitive: true},
	{keywords: []string{"cost of goods sold", "cost of sales", "cost of revenue"}, tag: "us-gaap:CostOfRevenue", confidence: 80},
	{keywords: []string{"gross profit", "gross margin"}, tag: "us-gaap:GrossProfit", confidence: 85},
	{keywords: []string{"operating income", "operating profit"}, tag: "us-gaap:OperatingIncomeLoss", confidence: 85},
	{keywords: []string{"net income", "net profit", "net earnings", "profit for the year"}, tag: "us-gaap:NetIncomeLoss", confidence: 85},
	{keywords: []string{"interest expense"}, tag: "us-gaap:InterestExpense", confidence: 80},
	{keywords: []string{"income tax"}, tag: "us-gaap:IncomeTaxExpenseBenefit", confidence: 75},
	{keywords: []string{"depreciation", "amortization"}, tag: "us-gaap:DepreciationDepletionAndAmortization", confidence: 75},
	{keywords: []string{"capital expenditures", "purchases of property"}, tag: "us-gaap:PaymentsToAcquirePropertyPlantAndEquipment", confidence: 75},
	{keywords: []string{"operating activities"}, tag: "us-gaap:NetCashProvidedByUsedInOperatingActivities", confidence: 80},
	{keywords: []string{"investing activities"}, tag: "us-gaap:NetCashProvidedByUsedInInvestingActivities", confidence: 80},
	{keywords: []string{"financing activities"}, tag: "us-gaap:NetCashProvidedByUsedInFinancingActivities", confidence: 80},
}

// StaticScorer matches labels against the curated pattern table. Sector
// hints lower confidence for patterns with known sector variance; a large
// magnitude raises it for labels that look like subtotals.
type StaticScorer struct{}

func NewStaticScorer() *StaticScorer { return &StaticScorer{} }

func (s *StaticScorer) Score(_ context.Context, label string, hint ScoreHint) (*internal.TaxonomyMatch, bool) {
	lower := strings.ToLower(label)

	for _, p := range assistPatterns {
		for _, kw := range p.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			confidence := p.confidence
			if p.sectorSensitive && hint.Sector != "" {
				confidence -= 5
			}
			if hint.Magnitude >= 1e6 && strings.Contains(lower, "total") {
				confidence += 5
			}
			return &internal.TaxonomyMatch{
				Tag:        p.tag,
				Framework:  internal.FrameworkUSGAAP,
				Confidence: confidence,
				Method:     internal.MethodAssisted,
			}, true
		}
	}
	return nil, false
}
