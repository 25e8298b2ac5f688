package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/ledongthuc/pdf"

	"finconv/internal"
	"finconv/internal/util"
)

// TextParser handles unstructured inputs: PDF, HTML and plain text. Text is
// extracted first (page by page for PDFs, tolerating individual page
// failures), then the shared detection/extraction pass runs over the
// concatenated text.
type TextParser struct{}

func NewTextParser() *TextParser { return &TextParser{} }

func (p *TextParser) Format() internal.DocumentFormat { return internal.FormatText }

// Minimum label length for lines whose label misses the financial
// vocabulary heuristic.
const minLabelLen = 12

var financialVocab = []string{
	"cash", "asset", "liabilit", "equity", "revenue", "income", "expense",
	"profit", "loss", "debt", "receivable", "payable", "inventory", "goodwill",
	"depreciation", "amortization", "tax", "interest", "share", "dividend",
	"capital", "earnings", "cost", "sales", "securities", "borrowings",
}

var (
	amountPart    = `\(?-?[$€£¥]?\s?\d[\d,. ]*\)?`
	reLabelNumber = regexp.MustCompile(`^([A-Za-z][A-Za-z&.,'()\-/ ]{2,80}?)[:\s]\s*(` + amountPart + `)$`)
	reNumberLabel = regexp.MustCompile(`^(` + amountPart + `)\s+([A-Za-z][A-Za-z&.,'()\-/ ]{2,80})$`)
	reWideGap     = regexp.MustCompile(`\s{2,}|\t`)
)

func (p *TextParser) Parse(raw []byte, fileName string) *internal.CanonicalReport {
	started := time.Now()
	report := newReport(internal.DefaultCurrency)

	text := p.extractText(raw, report)
	if strings.TrimSpace(text) == "" {
		if !report.HasCriticalError() {
			addCritical(report, "text: no extractable text")
		}
		return finishReport(report, started)
	}

	items := extractTextItems(text)
	if len(items) == 0 {
		addCritical(report, "text: no line items recognized")
		return finishReport(report, started)
	}

	report.Currency = DetectCurrency("", text)
	periodEnd := DetectPeriodEnd(nil, text, report.Meta.ParsedAt)
	report.Statements = []internal.Statement{{
		Kind:       DetectStatementKind(text),
		PeriodEnd:  periodEnd,
		FiscalYear: periodEnd.Year(),
		Items:      items,
	}}
	return finishReport(report, started)
}

func (p *TextParser) Validate(raw []byte, fileName string) internal.ValidationResult {
	result := internal.ValidationResult{}
	scratch := newReport(internal.DefaultCurrency)
	text := p.extractText(raw, scratch)
	for _, issue := range scratch.Meta.Errors {
		result.Issues = append(result.Issues, issue.Message)
	}
	lines := splitLines(text)
	for _, line := range lines {
		if _, _, ok := matchLayout(line); ok {
			result.Valid++
		} else {
			result.Invalid++
		}
	}
	return result
}

func (p *TextParser) extractText(raw []byte, report *internal.CanonicalReport) string {
	switch {
	case bytes.HasPrefix(raw, []byte("%PDF")):
		return extractPDFText(raw, report)
	case looksLikeHTML(raw):
		return extractHTMLText(raw, report)
	default:
		return string(raw)
	}
}

func extractPDFText(raw []byte, report *internal.CanonicalReport) string {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		addCritical(report, fmt.Sprintf("text: unreadable pdf: %v", err))
		return ""
	}
	if r.NumPage() == 0 {
		addCritical(report, "text: pdf has zero pages")
		return ""
	}

	out := strings.Builder{}
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			addWarning(report, fmt.Sprintf("text: pdf page %d empty", i))
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			addWarning(report, fmt.Sprintf("text: pdf page %d failed: %v", i, err))
			continue
		}
		out.WriteString(pageText)
		out.WriteString("\n")
	}
	return out.String()
}

func extractHTMLText(raw []byte, report *internal.CanonicalReport) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		addCritical(report, fmt.Sprintf("text: unreadable html: %v", err))
		return ""
	}

	out := strings.Builder{}
	// Table rows come out as wide-gap separated label/value lines so the
	// shared layout scan picks them up.
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := []string{}
		row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			if t := util.NormalizeSpaces(cell.Text()); t != "" {
				cells = append(cells, t)
			}
		})
		if len(cells) >= 2 {
			out.WriteString(strings.Join(cells, "  "))
			out.WriteString("\n")
		}
	})
	doc.Find("table").Remove()
	out.WriteString(doc.Text())
	return out.String()
}

func looksLikeHTML(raw []byte) bool {
	head := strings.ToLower(string(raw[:min(len(raw), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype") || strings.Contains(head, "<table")
}

func extractTextItems(text string) []internal.LineItem {
	items := []internal.LineItem{}
	for lineNo, line := range splitLines(text) {
		label, rawValue, ok := matchLayout(line)
		if !ok {
			continue
		}
		if !acceptLabel(label) {
			continue
		}
		amount, ok := util.ParseAmount(rawValue)
		if !ok {
			continue
		}
		items = append(items, internal.LineItem{
			Label:       strings.TrimRight(strings.TrimSpace(label), ":."),
			NumberValue: util.FloatPtr(amount),
			Ref: internal.SourceRef{
				Source: string(internal.FormatText),
				Line:   lineNo + 1,
				Raw:    line,
			},
			Confidence: ConfidenceText,
		})
	}
	return items
}

// matchLayout tries the three supported line layouts in order:
// label-then-number, number-then-label, wide-gap separated columns.
func matchLayout(line string) (label, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}

	if m := reLabelNumber.FindStringSubmatch(line); m != nil {
		return m[1], m[2], true
	}
	if m := reNumberLabel.FindStringSubmatch(line); m != nil {
		return m[2], m[1], true
	}

	parts := reWideGap.Split(line, -1)
	if len(parts) >= 2 {
		first := strings.TrimSpace(parts[0])
		last := strings.TrimSpace(parts[len(parts)-1])
		if _, numeric := util.ParseAmount(last); numeric && first != "" {
			if _, firstNumeric := util.ParseAmount(first); !firstNumeric {
				return first, last, true
			}
		}
	}
	return "", "", false
}

// acceptLabel filters noise lines: a label is kept when it hits the
// financial vocabulary or is long enough to be a real concept.
func acceptLabel(label string) bool {
	lower := strings.ToLower(label)
	for _, word := range financialVocab {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return len(strings.TrimSpace(label)) >= minLabelLen
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
