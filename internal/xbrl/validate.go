package xbrl

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Validate independently re-scans a generated document for the minimum
// required element set and referential consistency. It returns
// human-readable issues; deciding whether they are fatal is the caller's
// job.
func Validate(doc []byte) []string {
	issues := []string{}

	dec := xml.NewDecoder(bytes.NewReader(doc))

	rootSeen := false
	contexts := map[string]struct{}{}
	units := map[string]struct{}{}
	factCount := 0
	refContexts := map[string]struct{}{}
	refUnits := map[string]struct{}{}

	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return append(issues, fmt.Sprintf("document is not well-formed XML: %v", err))
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				rootSeen = true
				if t.Name.Local != "xbrl" {
					issues = append(issues, fmt.Sprintf("unexpected root element %q", t.Name.Local))
				}
				continue
			}
			switch t.Name.Local {
			case "context":
				if id := attr(t, "id"); id != "" {
					contexts[id] = struct{}{}
				} else {
					issues = append(issues, "context without id attribute")
				}
			case "unit":
				if id := attr(t, "id"); id != "" {
					units[id] = struct{}{}
				} else {
					issues = append(issues, "unit without id attribute")
				}
			default:
				// Declarations may legally follow the facts that reference
				// them, so references are collected and resolved after the
				// scan.
				ctxRef := attr(t, "contextRef")
				if ctxRef == "" {
					continue
				}
				factCount++
				refContexts[ctxRef] = struct{}{}
				if unitRef := attr(t, "unitRef"); unitRef != "" {
					refUnits[unitRef] = struct{}{}
				}
			}
		case xml.EndElement:
			depth--
		}
	}

	if !rootSeen {
		issues = append(issues, "document has no root element")
	}
	if len(contexts) == 0 {
		issues = append(issues, "document declares no contexts")
	}
	if len(units) == 0 {
		issues = append(issues, "document declares no units")
	}
	if factCount == 0 {
		issues = append(issues, "document contains no facts")
	}
	for ref := range refContexts {
		if _, ok := contexts[ref]; !ok {
			issues = append(issues, fmt.Sprintf("fact references undeclared context %q", ref))
		}
	}
	for ref := range refUnits {
		if _, ok := units[ref]; !ok {
			issues = append(issues, fmt.Sprintf("fact references undeclared unit %q", ref))
		}
	}

	return issues
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}
