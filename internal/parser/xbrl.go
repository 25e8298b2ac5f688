package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"finconv/internal"
	"finconv/internal/util"
)

// XBRLParser reads an XBRL instance document. Elements carrying a
// contextRef are facts; unit references resolve to currency codes through
// the instance's unit declarations; facts group by context into statements.
// This is the only variant that can short-circuit the matching engine: the
// element's own namespaced tag is an exact match at full confidence.
type XBRLParser struct{}

func NewXBRLParser() *XBRLParser { return &XBRLParser{} }

func (p *XBRLParser) Format() internal.DocumentFormat { return internal.FormatXBRL }

type xbrlContext struct {
	id        string
	entity    string
	instant   string
	startDate string
	endDate   string
}

func (c xbrlContext) periodEnd() (time.Time, bool) {
	for _, v := range []string{c.instant, c.endDate} {
		if t, ok := parseDate(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

type xbrlFact struct {
	tag      string
	context  string
	unit     string
	decimals *int
	nilFlag  bool
	value    string
	line     int
}

func (p *XBRLParser) Parse(raw []byte, fileName string) *internal.CanonicalReport {
	started := time.Now()
	report := newReport(internal.DefaultCurrency)

	contexts, units, facts, entity, err := scanInstance(raw)
	if err != nil {
		addCritical(report, fmt.Sprintf("xbrl: malformed instance: %v", err))
		return finishReport(report, started)
	}
	if len(facts) == 0 {
		addCritical(report, "xbrl: no facts with context references")
		return finishReport(report, started)
	}
	report.CompanyName = entity

	// Currency comes from the first monetary unit declaration.
	for _, measure := range units {
		if code, ok := currencyFromMeasure(measure); ok {
			report.Currency = code
			break
		}
	}

	// Temporal grouping: one statement per context.
	byContext := map[string][]xbrlFact{}
	order := []string{}
	for _, f := range facts {
		if _, seen := byContext[f.context]; !seen {
			order = append(order, f.context)
		}
		byContext[f.context] = append(byContext[f.context], f)
	}

	for _, ctxID := range order {
		ctx, ok := contexts[ctxID]
		if !ok {
			addWarning(report, fmt.Sprintf("xbrl: facts reference undeclared context %q", ctxID))
			continue
		}
		stmt := p.buildStatement(ctx, byContext[ctxID], units, report)
		if len(stmt.Items) == 0 {
			continue
		}
		report.Statements = append(report.Statements, stmt)
	}

	if len(report.Statements) == 0 {
		addCritical(report, "xbrl: no statements assembled")
	}
	return finishReport(report, started)
}

func (p *XBRLParser) buildStatement(ctx xbrlContext, facts []xbrlFact, units map[string]string, report *internal.CanonicalReport) internal.Statement {
	items := make([]internal.LineItem, 0, len(facts))
	vocab := strings.Builder{}

	for _, f := range facts {
		item := internal.LineItem{
			Label:    camelToWords(localName(f.tag)),
			Decimals: f.decimals,
			Ref: internal.SourceRef{
				Source:  string(internal.FormatXBRL),
				Segment: ctx.id,
				Line:    f.line,
				Raw:     f.tag,
			},
			Confidence: ConfidenceXBRL,
			Match: &internal.TaxonomyMatch{
				Tag:        f.tag,
				Framework:  frameworkFromTag(f.tag),
				Confidence: 100,
				Method:     internal.MethodExact,
			},
		}
		if f.unit != "" {
			if code, ok := currencyFromMeasure(units[f.unit]); ok {
				item.Unit = code
			} else {
				item.Unit = units[f.unit]
			}
		}

		if f.nilFlag {
			item.Nil = true
		} else {
			parsed := util.SanitizeValue(f.value)
			if parsed.Empty() {
				addWarning(report, fmt.Sprintf("xbrl: fact %s has no usable value", f.tag))
				continue
			}
			item.NumberValue = parsed.Number
			item.BoolValue = parsed.Bool
			item.TextValue = parsed.Text
		}

		items = append(items, item)
		vocab.WriteString(item.Label)
		vocab.WriteString("\n")
	}

	periodEnd, ok := ctx.periodEnd()
	if !ok {
		periodEnd = report.Meta.ParsedAt
	}
	stmt := internal.Statement{
		Kind:       DetectStatementKind(vocab.String()),
		PeriodEnd:  periodEnd,
		FiscalYear: periodEnd.Year(),
		Items:      items,
	}
	if ctx.instant == "" && ctx.startDate != "" {
		// Duration contexts shorter than a year are quarterly.
		if start, okStart := parseDate(ctx.startDate); okStart && periodEnd.Sub(start) < 200*24*time.Hour {
			stmt.FiscalQuarter = util.IntPtr(FiscalQuarterOf(periodEnd))
		}
	}
	return stmt
}

func (p *XBRLParser) Validate(raw []byte, fileName string) internal.ValidationResult {
	result := internal.ValidationResult{}
	contexts, _, facts, _, err := scanInstance(raw)
	if err != nil {
		result.Issues = append(result.Issues, err.Error())
		return result
	}
	for _, f := range facts {
		if _, ok := contexts[f.context]; ok && (f.nilFlag || strings.TrimSpace(f.value) != "") {
			result.Valid++
		} else {
			result.Invalid++
		}
	}
	return result
}

// scanInstance walks the token stream once, collecting contexts, unit
// measures and contextRef-bearing fact elements.
func scanInstance(raw []byte) (map[string]xbrlContext, map[string]string, []xbrlFact, string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))

	contexts := map[string]xbrlContext{}
	units := map[string]string{}
	facts := []xbrlFact{}
	entity := ""
	prefixByURI := map[string]string{}

	var current *xbrlContext
	var currentUnit string
	var currentFact *xbrlFact
	var leaf string
	line := 0
	rootSeen := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			line++
			if !rootSeen {
				rootSeen = true
				for _, attr := range t.Attr {
					if attr.Name.Space == "xmlns" {
						prefixByURI[attr.Value] = attr.Name.Local
					}
				}
				continue
			}

			local := t.Name.Local
			leaf = local
			switch local {
			case "context":
				current = &xbrlContext{id: attrValue(t, "id")}
			case "unit":
				currentUnit = attrValue(t, "id")
			default:
				if current != nil || currentUnit != "" {
					continue
				}
				ctxRef := attrValue(t, "contextRef")
				if ctxRef == "" {
					continue
				}
				fact := xbrlFact{
					tag:     qualifiedName(t.Name, prefixByURI),
					context: ctxRef,
					unit:    attrValue(t, "unitRef"),
					line:    line,
				}
				if d := attrValue(t, "decimals"); d != "" && d != "INF" {
					if n, err := strconv.Atoi(d); err == nil {
						fact.decimals = util.IntPtr(n)
					}
				}
				if n := attrValue(t, "nil"); strings.EqualFold(n, "true") {
					fact.nilFlag = true
				}
				currentFact = &fact
			}

		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch {
			case currentFact != nil:
				currentFact.value += text
			case current != nil:
				switch leaf {
				case "instant":
					current.instant = text
				case "startDate":
					current.startDate = text
				case "endDate":
					current.endDate = text
				case "identifier":
					current.entity = text
					if entity == "" {
						entity = text
					}
				}
			case currentUnit != "":
				if leaf == "measure" {
					units[currentUnit] = text
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "context":
				if current != nil && current.id != "" {
					contexts[current.id] = *current
				}
				current = nil
			case "unit":
				currentUnit = ""
			default:
				if currentFact != nil && t.Name.Local == localName(currentFact.tag) {
					facts = append(facts, *currentFact)
					currentFact = nil
				}
			}
			leaf = ""
		}
	}

	return contexts, units, facts, entity, nil
}

func attrValue(el xml.StartElement, name string) string {
	for _, attr := range el.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

func qualifiedName(name xml.Name, prefixByURI map[string]string) string {
	if name.Space == "" {
		return name.Local
	}
	if prefix, ok := prefixByURI[name.Space]; ok && prefix != "" {
		return prefix + ":" + name.Local
	}
	// Undeclared prefixes surface as the raw space value.
	return name.Space + ":" + name.Local
}

func localName(tag string) string {
	if i := strings.LastIndex(tag, ":"); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

func frameworkFromTag(tag string) internal.Framework {
	if strings.Contains(strings.ToLower(tag), "ifrs") {
		return internal.FrameworkIFRS
	}
	return internal.FrameworkUSGAAP
}

func currencyFromMeasure(measure string) (string, bool) {
	lower := strings.ToLower(measure)
	if i := strings.Index(lower, "iso4217:"); i >= 0 {
		return strings.ToUpper(measure[i+len("iso4217:"):]), true
	}
	return "", false
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func camelToWords(s string) string {
	return camelBoundary.ReplaceAllString(s, "$1 $2")
}
