package xbrl

import (
	"encoding/xml"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"finconv/internal"
)

const (
	nsXbrli   = "http://www.xbrl.org/2003/instance"
	nsLink    = "http://www.xbrl.org/2003/linkbase"
	nsXlink   = "http://www.w3.org/1999/xlink"
	nsIso4217 = "http://www.xbrl.org/2003/iso4217"
	nsXsi     = "http://www.w3.org/2001/XMLSchema-instance"
	nsUSGAAP  = "http://fasb.org/us-gaap/2023"
	nsIFRS    = "https://xbrl.ifrs.org/taxonomy/2023-03-23/ifrs-full"

	schemaUSGAAP = "https://xbrl.fasb.org/us-gaap/2023/elts/us-gaap-2023.xsd"
	schemaIFRS   = "https://xbrl.ifrs.org/taxonomy/2023-03-23/full_ifrs/full_ifrs-cor_2023-03-23.xsd"

	entityScheme = "http://www.sec.gov/CIK"
)

// Options select the target framework, currency and reporting entity for
// one generation run.
type Options struct {
	Framework    internal.Framework
	Currency     string
	DocumentDate time.Time
	EntityName   string
	EntityID     string
}

// Metadata describes what one generation run produced.
type Metadata struct {
	Contexts int      `json:"contexts"`
	Units    int      `json:"units"`
	Facts    int      `json:"facts"`
	Skipped  []string `json:"skipped,omitempty"`
	Unmapped []string `json:"unmapped,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// Result is a generated instance document plus its metadata. Generation
// never fails hard: callers get a document and an issues list and decide
// severity themselves.
type Result struct {
	Document []byte
	Metadata Metadata
}

type instanceDoc struct {
	XMLName      xml.Name    `xml:"xbrli:xbrl"`
	XmlnsXbrli   string      `xml:"xmlns:xbrli,attr"`
	XmlnsLink    string      `xml:"xmlns:link,attr"`
	XmlnsXlink   string      `xml:"xmlns:xlink,attr"`
	XmlnsIso4217 string      `xml:"xmlns:iso4217,attr"`
	XmlnsXsi     string      `xml:"xmlns:xsi,attr"`
	XmlnsUSGAAP  string      `xml:"xmlns:us-gaap,attr,omitempty"`
	XmlnsIFRS    string      `xml:"xmlns:ifrs-full,attr,omitempty"`
	SchemaRefs   []schemaRef `xml:"link:schemaRef"`
	Contexts     []contextEl `xml:"xbrli:context"`
	Units        []unitEl    `xml:"xbrli:unit"`
	Facts        []factEl
}

type schemaRef struct {
	Type string `xml:"xlink:type,attr"`
	Href string `xml:"xlink:href,attr"`
}

type contextEl struct {
	ID     string   `xml:"id,attr"`
	Entity entityEl `xml:"xbrli:entity"`
	Period periodEl `xml:"xbrli:period"`
}

type entityEl struct {
	Identifier identifierEl `xml:"xbrli:identifier"`
}

type identifierEl struct {
	Scheme string `xml:"scheme,attr"`
	Value  string `xml:",chardata"`
}

type periodEl struct {
	Instant   string `xml:"xbrli:instant,omitempty"`
	StartDate string `xml:"xbrli:startDate,omitempty"`
	EndDate   string `xml:"xbrli:endDate,omitempty"`
}

type unitEl struct {
	ID      string `xml:"id,attr"`
	Measure string `xml:"xbrli:measure"`
}

type factEl struct {
	XMLName    xml.Name
	ContextRef string `xml:"contextRef,attr"`
	UnitRef    string `xml:"unitRef,attr,omitempty"`
	Decimals   string `xml:"decimals,attr,omitempty"`
	Nil        string `xml:"xsi:nil,attr,omitempty"`
	Value      string `xml:",chardata"`
}

// Generator assembles matched canonical statements into an XBRL instance
// document with cross-referentially valid contexts, units and facts.
type Generator struct{}

func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) Generate(statements []internal.Statement, opts Options) Result {
	meta := Metadata{}

	if opts.Currency == "" {
		opts.Currency = internal.DefaultCurrency
	}
	if opts.Framework == "" {
		opts.Framework = internal.FrameworkUSGAAP
	}
	if opts.DocumentDate.IsZero() {
		opts.DocumentDate = time.Now().UTC()
	}
	entityID := opts.EntityID
	if entityID == "" {
		entityID = sanitizeTagName(opts.EntityName)
	}
	if entityID == "" {
		entityID = "UNKNOWN"
	}

	doc := instanceDoc{
		XmlnsXbrli:   nsXbrli,
		XmlnsLink:    nsLink,
		XmlnsXlink:   nsXlink,
		XmlnsIso4217: nsIso4217,
		XmlnsXsi:     nsXsi,
	}
	switch opts.Framework {
	case internal.FrameworkIFRS:
		doc.XmlnsIFRS = nsIFRS
		doc.SchemaRefs = []schemaRef{{Type: "simple", Href: schemaIFRS}}
	default:
		doc.XmlnsUSGAAP = nsUSGAAP
		doc.SchemaRefs = []schemaRef{{Type: "simple", Href: schemaUSGAAP}}
	}

	// One monetary unit per target currency plus one dimensionless unit,
	// declared once and referenced by id.
	monetaryUnit := "U-" + strings.ToUpper(opts.Currency)
	pureUnit := "U-PURE"
	doc.Units = []unitEl{
		{ID: monetaryUnit, Measure: "iso4217:" + strings.ToUpper(opts.Currency)},
		{ID: pureUnit, Measure: "xbrli:pure"},
	}

	contextIDs := map[string]string{}

	for _, stmt := range statements {
		ctxID := g.contextFor(&doc, contextIDs, stmt, entityID)
		for _, item := range stmt.Items {
			fact, ok := g.buildFact(item, ctxID, monetaryUnit, pureUnit, opts, &meta)
			if !ok {
				continue
			}
			doc.Facts = append(doc.Facts, fact)
		}
	}

	meta.Contexts = len(doc.Contexts)
	meta.Units = len(doc.Units)
	meta.Facts = len(doc.Facts)

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Marshal of a value built here cannot realistically fail, but the
		// contract stays: document plus issues, never an error.
		meta.Issues = append(meta.Issues, fmt.Sprintf("marshal failed: %v", err))
		body = nil
	}
	out := append([]byte(xml.Header), body...)

	meta.Issues = append(meta.Issues, Validate(out)...)
	return Result{Document: out, Metadata: meta}
}

// contextFor returns the context id for the statement's (period, kind,
// fiscal year, quarter) tuple, declaring the context on first use.
// Balance-sheet statements get an instant period; everything else a
// duration.
func (g *Generator) contextFor(doc *instanceDoc, seen map[string]string, stmt internal.Statement, entityID string) string {
	endDate := stmt.PeriodEnd.Format("2006-01-02")
	quarter := 0
	if stmt.FiscalQuarter != nil {
		quarter = *stmt.FiscalQuarter
	}
	key := fmt.Sprintf("%s|%s|%d|%d", endDate, stmt.Kind, stmt.FiscalYear, quarter)
	if id, ok := seen[key]; ok {
		return id
	}

	id := fmt.Sprintf("C-%s-%d", kindAbbrev(stmt.Kind), stmt.FiscalYear)
	if quarter > 0 {
		id = fmt.Sprintf("%s-Q%d", id, quarter)
	}
	// Distinct tuples can collide on the readable id; suffix until unique.
	base := id
	for n := 2; contextIDTaken(doc.Contexts, id); n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}

	ctx := contextEl{
		ID:     id,
		Entity: entityEl{Identifier: identifierEl{Scheme: entityScheme, Value: entityID}},
	}
	if stmt.Kind == internal.StatementBalanceSheet {
		ctx.Period = periodEl{Instant: endDate}
	} else {
		start := stmt.PeriodEnd.AddDate(-1, 0, 0).AddDate(0, 0, 1)
		if quarter > 0 {
			start = stmt.PeriodEnd.AddDate(0, -3, 0).AddDate(0, 0, 1)
		}
		ctx.Period = periodEl{StartDate: start.Format("2006-01-02"), EndDate: endDate}
	}

	doc.Contexts = append(doc.Contexts, ctx)
	seen[key] = id
	return id
}

func (g *Generator) buildFact(item internal.LineItem, ctxID, monetaryUnit, pureUnit string, opts Options, meta *Metadata) (factEl, bool) {
	tag := ""
	switch {
	case item.Match != nil:
		tag = item.Match.Tag
	default:
		meta.Unmapped = append(meta.Unmapped, item.Label)
		tag = synthesizeTag(item.Label, opts.Framework)
		if tag == "" {
			meta.Skipped = append(meta.Skipped, item.Label)
			meta.Issues = append(meta.Issues, fmt.Sprintf("no usable tag for %q; fact skipped", item.Label))
			return factEl{}, false
		}
	}

	fact := factEl{
		XMLName:    xml.Name{Local: tag},
		ContextRef: ctxID,
	}

	switch {
	case item.Nil:
		fact.Nil = "true"
		fact.UnitRef = monetaryUnit
	case item.NumberValue != nil:
		fact.UnitRef = monetaryUnit
		fact.Value = formatNumeric(*item.NumberValue, item.Decimals)
		if item.Decimals != nil {
			fact.Decimals = strconv.Itoa(*item.Decimals)
		}
	case item.BoolValue != nil:
		fact.UnitRef = pureUnit
		fact.Value = strconv.FormatBool(*item.BoolValue)
	case item.TextValue != nil:
		fact.UnitRef = pureUnit
		fact.Value = *item.TextValue
	default:
		meta.Skipped = append(meta.Skipped, item.Label)
		meta.Issues = append(meta.Issues, fmt.Sprintf("item %q has neither value nor nil marker; fact skipped", item.Label))
		return factEl{}, false
	}

	return fact, true
}

// formatNumeric renders a numeric fact at the item's declared precision.
// A negative precision is a rounding magnitude (thousands, millions);
// otherwise values render at the precision (default 2) with trailing
// zeros trimmed.
func formatNumeric(v float64, decimals *int) string {
	d := 2
	if decimals != nil {
		d = *decimals
	}
	if d < 0 {
		scale := math.Pow(10, float64(-d))
		return strconv.FormatFloat(math.Round(v/scale)*scale, 'f', 0, 64)
	}
	s := strconv.FormatFloat(v, 'f', d, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

var nonTagChars = regexp.MustCompile(`[^A-Za-z0-9 ]`)

// synthesizeTag builds a best-effort CamelCase tag from a free-text label
// under the framework's default namespace. Empty when the label has no
// usable characters.
func synthesizeTag(label string, framework internal.Framework) string {
	name := sanitizeTagName(label)
	if name == "" {
		return ""
	}
	prefix := "us-gaap"
	if framework == internal.FrameworkIFRS {
		prefix = "ifrs-full"
	}
	return prefix + ":" + name
}

func sanitizeTagName(label string) string {
	clean := nonTagChars.ReplaceAllString(label, " ")
	words := strings.Fields(clean)
	if len(words) == 0 {
		return ""
	}
	out := strings.Builder{}
	for _, w := range words {
		out.WriteString(strings.ToUpper(w[:1]))
		out.WriteString(w[1:])
	}
	name := out.String()
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "N" + name
	}
	return name
}

func kindAbbrev(kind internal.StatementKind) string {
	switch kind {
	case internal.StatementBalanceSheet:
		return "BS"
	case internal.StatementIncome:
		return "IS"
	case internal.StatementCashFlow:
		return "CF"
	case internal.StatementEquity:
		return "EQ"
	}
	return "XX"
}

func contextIDTaken(contexts []contextEl, id string) bool {
	for _, c := range contexts {
		if c.ID == id {
			return true
		}
	}
	return false
}
