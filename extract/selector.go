package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docutag/shopscraper/normalize"
)

var attrName = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)

// Selector addresses one value inside a container element.
//
// The textual form is "css@attr|json:key". Every part is optional: an empty
// css part means the container itself, a missing @attr reads the element
// text, and json:key decodes the value as a JSON object and reads key
// (dotted paths descend into nested objects).
type Selector struct {
	CSS     string
	Attr    string
	JSONKey string
}

// ParseSelector parses the textual selector form
func ParseSelector(s string) Selector {
	var sel Selector
	s = strings.TrimSpace(s)

	if i := strings.LastIndex(s, "|json:"); i >= 0 {
		sel.JSONKey = strings.TrimSpace(s[i+len("|json:"):])
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 && attrName.MatchString(s[i+1:]) {
		sel.Attr = s[i+1:]
		s = s[:i]
	}
	sel.CSS = strings.TrimSpace(s)
	return sel
}

// ParseSelectors parses a list of textual selectors
func ParseSelectors(list []string) []Selector {
	out := make([]Selector, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, ParseSelector(s))
	}
	return out
}

// String returns the textual form
func (s Selector) String() string {
	out := s.CSS
	if s.Attr != "" {
		out += "@" + s.Attr
	}
	if s.JSONKey != "" {
		out += "|json:" + s.JSONKey
	}
	return out
}

// Value returns the first non-empty value the selector yields within scope
func (s Selector) Value(scope *goquery.Selection) string {
	target := scope
	if s.CSS != "" {
		target = scope.Find(s.CSS)
	}

	var value string
	target.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		var raw string
		if s.Attr != "" {
			attr, ok := el.Attr(s.Attr)
			if !ok {
				return true
			}
			raw = attr
		} else {
			raw = el.Text()
		}

		if s.JSONKey != "" {
			raw = jsonField(raw, s.JSONKey)
		}
		if raw = normalize.Text(raw); raw != "" {
			value = raw
			return false
		}
		return true
	})
	return value
}

// FirstValue tries selectors in order and returns the first non-empty value
func FirstValue(scope *goquery.Selection, selectors []Selector) string {
	for _, sel := range selectors {
		if v := sel.Value(scope); v != "" {
			return v
		}
	}
	return ""
}

// jsonField decodes raw as a JSON object and returns the scalar at a dotted
// key path. Malformed JSON yields an empty string.
func jsonField(raw, key string) string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ""
	}

	parts := strings.Split(key, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[p]
	}
	return scalarString(cur)
}

// scalarString renders a decoded JSON scalar. Objects and arrays yield "".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
