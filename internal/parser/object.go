package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"finconv/internal"
	"finconv/internal/util"
)

// ObjectParser handles structured JSON inputs. The ad hoc topologies the
// format arrives in are modeled as explicit shapes detected by structural
// probing, each with its own conversion.
type ObjectParser struct{}

func NewObjectParser() *ObjectParser { return &ObjectParser{} }

func (p *ObjectParser) Format() internal.DocumentFormat { return internal.FormatJSON }

type objectShape int

const (
	shapeUnknown objectShape = iota
	shapeStatementsArray // {"statements": [...], ...}
	shapeArrayOfStatements
	shapeSections // {"balance_sheet": {...}, "income_statement": {...}}
	shapeFlat     // {"Total Assets": 5000000, ...}
)

// objectNode is a decoded JSON object that remembers the document order of
// its keys. map[string]any iteration is randomized, and line numbers and
// statement order must follow input order.
type objectNode struct {
	keys   []string
	values map[string]any
}

var metaKeys = map[string]struct{}{
	"company": {}, "company_name": {}, "currency": {}, "fiscal_year": {},
	"fiscal_quarter": {}, "quarter": {}, "period_end": {}, "date": {},
	"type": {}, "kind": {}, "statement_type": {}, "framework": {},
	"audited": {}, "consolidated": {}, "statements": {}, "items": {},
	"line_items": {}, "lineitems": {}, "report_type": {},
}

func (p *ObjectParser) Parse(raw []byte, fileName string) *internal.CanonicalReport {
	started := time.Now()
	report := newReport(internal.DefaultCurrency)

	root, repaired, err := decodeObject(raw)
	if err != nil {
		addCritical(report, fmt.Sprintf("json: malformed input: %v", err))
		return finishReport(report, started)
	}
	if repaired {
		addWarning(report, "json: input required repair before parsing")
	}

	switch probeShape(root) {
	case shapeStatementsArray:
		obj := root.(*objectNode)
		applyDocumentFields(report, obj)
		for i, raw := range asArray(obj.values["statements"]) {
			stmt, ok := convertStatement(raw, i, report)
			if !ok {
				addWarning(report, fmt.Sprintf("json: statement %d yielded no items", i))
				continue
			}
			report.Statements = append(report.Statements, stmt)
		}
	case shapeArrayOfStatements:
		for i, raw := range root.([]any) {
			stmt, ok := convertStatement(raw, i, report)
			if !ok {
				addWarning(report, fmt.Sprintf("json: statement %d yielded no items", i))
				continue
			}
			report.Statements = append(report.Statements, stmt)
		}
	case shapeSections:
		obj := root.(*objectNode)
		applyDocumentFields(report, obj)
		i := 0
		for _, key := range obj.keys {
			if _, meta := metaKeys[normalizeFieldName(key)]; meta {
				continue
			}
			stmt, ok := convertSection(key, obj.values[key], i, report)
			if ok {
				report.Statements = append(report.Statements, stmt)
			}
			i++
		}
	case shapeFlat:
		obj := root.(*objectNode)
		applyDocumentFields(report, obj)
		stmt, ok := convertStatement(obj, 0, report)
		if !ok {
			addCritical(report, "json: flat object yielded no line items")
			return finishReport(report, started)
		}
		report.Statements = append(report.Statements, stmt)
	default:
		addCritical(report, "json: unrecognized input topology")
		return finishReport(report, started)
	}

	if len(report.Statements) == 0 {
		addCritical(report, "json: no statements extracted")
	}
	return finishReport(report, started)
}

func (p *ObjectParser) Validate(raw []byte, fileName string) internal.ValidationResult {
	result := internal.ValidationResult{}
	root, _, err := decodeObject(raw)
	if err != nil {
		result.Issues = append(result.Issues, err.Error())
		return result
	}
	scratch := newReport(internal.DefaultCurrency)
	countItems := func(raw any, idx int) {
		if stmt, ok := convertStatement(raw, idx, scratch); ok {
			result.Valid += len(stmt.Items)
		} else {
			result.Invalid++
		}
	}
	switch probeShape(root) {
	case shapeStatementsArray:
		for i, s := range asArray(root.(*objectNode).values["statements"]) {
			countItems(s, i)
		}
	case shapeArrayOfStatements:
		for i, s := range root.([]any) {
			countItems(s, i)
		}
	case shapeSections, shapeFlat:
		countItems(root, 0)
	default:
		result.Issues = append(result.Issues, "unrecognized topology")
	}
	return result
}

func decodeObject(raw []byte) (any, bool, error) {
	root, err := decodeTree(raw)
	if err == nil {
		return root, false, nil
	}
	repaired, err := jsonrepair.RepairJSON(string(raw))
	if err != nil {
		return nil, false, err
	}
	root, err = decodeTree([]byte(repaired))
	if err != nil {
		return nil, false, err
	}
	return root, true, nil
}

func decodeTree(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	root, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after document")
	}
	return root, nil
}

// decodeValue walks the token stream so objects come back as *objectNode
// with their key order intact. Arrays and scalars decode as []any and the
// usual string/float64/bool/nil.
func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		node := &objectNode{values: map[string]any{}}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key := keyTok.(string)
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			if _, dup := node.values[key]; !dup {
				node.keys = append(node.keys, key)
			}
			node.values[key] = val
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return node, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// probeShape picks the richest structural interpretation first.
func probeShape(root any) objectShape {
	switch v := root.(type) {
	case []any:
		for _, el := range v {
			if _, ok := el.(*objectNode); !ok {
				return shapeUnknown
			}
		}
		if len(v) == 0 {
			return shapeUnknown
		}
		return shapeArrayOfStatements
	case *objectNode:
		if arr, ok := v.values["statements"].([]any); ok && len(arr) > 0 {
			return shapeStatementsArray
		}
		nested := false
		scalar := false
		for _, key := range v.keys {
			if _, meta := metaKeys[normalizeFieldName(key)]; meta {
				continue
			}
			switch v.values[key].(type) {
			case *objectNode, []any:
				nested = true
			default:
				scalar = true
			}
		}
		if nested {
			return shapeSections
		}
		if scalar {
			return shapeFlat
		}
	}
	return shapeUnknown
}

func applyDocumentFields(report *internal.CanonicalReport, obj *objectNode) {
	fields := stringFields(obj)
	report.Currency = DetectCurrency(fields["currency"], "")
	if c := fields["company"]; c != "" {
		report.CompanyName = c
	} else if c := fields["company_name"]; c != "" {
		report.CompanyName = c
	}
}

// convertStatement handles one statement object: explicit item lists when
// present, flat concept→value pairs in document order otherwise.
func convertStatement(raw any, index int, report *internal.CanonicalReport) (internal.Statement, bool) {
	obj, ok := raw.(*objectNode)
	if !ok {
		return internal.Statement{}, false
	}
	fields := stringFields(obj)

	items := []internal.LineItem{}
	if list := explicitItems(obj); list != nil {
		for i, el := range list {
			if item, ok := convertExplicitItem(el, index, i); ok {
				items = append(items, item)
			}
		}
	} else {
		line := 0
		for _, key := range obj.keys {
			if _, meta := metaKeys[normalizeFieldName(key)]; meta {
				continue
			}
			line++
			if item, ok := convertPair(key, obj.values[key], index, line); ok {
				items = append(items, item)
			}
		}
	}
	if len(items) == 0 {
		return internal.Statement{}, false
	}

	kind := KindFromName(fields["type"] + " " + fields["kind"] + " " + fields["statement_type"])
	if kind == internal.StatementUnknown {
		labels := make([]string, 0, len(items))
		for _, it := range items {
			labels = append(labels, it.Label)
		}
		kind = DetectStatementKind(strings.Join(labels, "\n"))
	}

	periodEnd := DetectPeriodEnd(fields, "", report.Meta.ParsedAt)
	stmt := internal.Statement{
		Kind:       kind,
		PeriodEnd:  periodEnd,
		FiscalYear: periodEnd.Year(),
		Items:      items,
	}
	if fy, ok := obj.values["fiscal_year"].(float64); ok {
		stmt.FiscalYear = int(fy)
	}
	if q, ok := obj.values["fiscal_quarter"].(float64); ok {
		stmt.FiscalQuarter = util.IntPtr(int(q))
	} else if q, ok := obj.values["quarter"].(float64); ok {
		stmt.FiscalQuarter = util.IntPtr(int(q))
	}
	return stmt, true
}

func convertSection(name string, raw any, index int, report *internal.CanonicalReport) (internal.Statement, bool) {
	stmt, ok := convertStatement(raw, index, report)
	if !ok {
		if arr, isArr := raw.([]any); isArr {
			items := []internal.LineItem{}
			for i, el := range arr {
				if item, itemOK := convertExplicitItem(el, index, i); itemOK {
					items = append(items, item)
				}
			}
			if len(items) == 0 {
				return internal.Statement{}, false
			}
			periodEnd := report.Meta.ParsedAt
			stmt = internal.Statement{PeriodEnd: periodEnd, FiscalYear: periodEnd.Year(), Items: items}
			ok = true
		}
	}
	if !ok {
		return internal.Statement{}, false
	}
	if kind := KindFromName(name); kind != internal.StatementUnknown {
		stmt.Kind = kind
	}
	return stmt, true
}

func explicitItems(obj *objectNode) []any {
	for _, key := range []string{"items", "line_items", "lineItems"} {
		if arr, ok := obj.values[key].([]any); ok {
			return arr
		}
	}
	return nil
}

// convertExplicitItem handles {concept, value, unit} objects.
func convertExplicitItem(raw any, stmtIndex, line int) (internal.LineItem, bool) {
	obj, ok := raw.(*objectNode)
	if !ok {
		return internal.LineItem{}, false
	}
	label := ""
	for _, key := range []string{"concept", "label", "name"} {
		if s, ok := obj.values[key].(string); ok && strings.TrimSpace(s) != "" {
			label = strings.TrimSpace(s)
			break
		}
	}
	if label == "" {
		return internal.LineItem{}, false
	}

	item, ok := convertPair(label, obj.values["value"], stmtIndex, line)
	if !ok {
		return internal.LineItem{}, false
	}
	if unit, isStr := obj.values["unit"].(string); isStr {
		item.Unit = strings.TrimSpace(unit)
	}
	if dec, isNum := obj.values["decimals"].(float64); isNum {
		item.Decimals = util.IntPtr(int(dec))
	}
	return item, true
}

func convertPair(label string, value any, stmtIndex, line int) (internal.LineItem, bool) {
	item := internal.LineItem{
		Label: label,
		Ref: internal.SourceRef{
			Source:  string(internal.FormatJSON),
			Segment: fmt.Sprintf("statement[%d]", stmtIndex),
			Line:    line,
			Raw:     label,
		},
		Confidence: ConfidenceJSON,
	}

	switch v := value.(type) {
	case float64:
		item.NumberValue = util.FloatPtr(v)
	case bool:
		item.BoolValue = util.BoolPtr(v)
	case string:
		parsed := util.SanitizeValue(v)
		if parsed.Empty() {
			return internal.LineItem{}, false
		}
		item.NumberValue = parsed.Number
		item.BoolValue = parsed.Bool
		item.TextValue = parsed.Text
	case nil:
		return internal.LineItem{}, false
	default:
		// Composite values are not line items.
		return internal.LineItem{}, false
	}
	return item, true
}

func stringFields(obj *objectNode) map[string]string {
	out := map[string]string{}
	for key, val := range obj.values {
		if s, ok := val.(string); ok {
			out[normalizeFieldName(key)] = s
		}
	}
	return out
}

func asArray(v any) []any {
	arr, _ := v.([]any)
	return arr
}
