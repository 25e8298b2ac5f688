package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	currencyRunes  = "$€£¥₽₹"
	reThousandDot  = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandComa = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	reNumeric      = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

// ParsedValue is one sanitized raw value. At most one field is set; all nil
// means the raw value was empty and the item should be dropped.
type ParsedValue struct {
	Number *float64
	Bool   *bool
	Text   *string
}

func (v ParsedValue) Empty() bool {
	return v.Number == nil && v.Bool == nil && v.Text == nil
}

// SanitizeValue turns a raw cell/field value into a typed value. Currency
// symbols and grouping separators are stripped, parenthesized numbers
// become negative, boolean-like strings become booleans, anything else
// non-empty stays a string.
func SanitizeValue(raw string) ParsedValue {
	s := strings.TrimSpace(strings.ReplaceAll(raw, " ", " "))
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") || s == "-" || s == "—" {
		return ParsedValue{}
	}

	switch strings.ToLower(s) {
	case "true", "yes":
		return ParsedValue{Bool: BoolPtr(true)}
	case "false", "no":
		return ParsedValue{Bool: BoolPtr(false)}
	}

	if n, ok := ParseAmount(s); ok {
		return ParsedValue{Number: FloatPtr(n)}
	}

	return ParsedValue{Text: StringPtr(s)}
}

// ParseAmount parses a formatted monetary amount. Parentheses denote a
// negative value, e.g. "(1,250.00)" -> -1250.
func ParseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(strings.Trim(s, currencyRunes))
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	s = strings.TrimSpace(strings.Trim(s, currencyRunes))
	s = strings.ReplaceAll(s, " ", "")

	s = normalizeNumericToken(s)
	if !reNumeric.MatchString(s) {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		parsed = -parsed
	}
	return parsed, true
}

func normalizeNumericToken(token string) string {
	if reThousandDot.MatchString(token) {
		return strings.ReplaceAll(token, ".", "")
	}
	if reThousandComa.MatchString(token) {
		return strings.ReplaceAll(token, ",", "")
	}
	if strings.Contains(token, ",") && !strings.Contains(token, ".") {
		return strings.ReplaceAll(token, ",", ".")
	}
	return strings.ReplaceAll(token, ",", "")
}
