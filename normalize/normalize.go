// Package normalize converts raw extracted strings into typed product fields.
// Every function degrades a malformed input to "absent" instead of failing.
package normalize

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MinTitleLength is the minimum rune count of a usable product title
const MinTitleLength = 3

var ratingPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// Text trims s and collapses internal whitespace runs to single spaces
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Title normalizes a raw title. It reports false when the result is too
// short to identify a product.
func Title(raw string) (string, bool) {
	title := Text(raw)
	if utf8.RuneCountInString(title) < MinTitleLength {
		return "", false
	}
	return title, true
}

// Price parses a locale-formatted price such as "1.234,50 Kč" or "1,234.50".
//
// All characters except digits, commas and periods are dropped, commas become
// periods, and when more than one period remains every period but the last is
// a thousands separator. Returns nil when nothing parseable remains.
func Price(raw string) *float64 {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',':
			b.WriteRune('.')
		}
	}

	cleaned := b.String()
	if strings.Count(cleaned, ".") > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}

	// "1 499,-" leaves a dangling separator
	cleaned = strings.TrimRight(cleaned, ".")
	if cleaned == "" {
		return nil
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &value
}

// Rating extracts the first decimal-looking number from raw, e.g. "4,5 z 5"
func Rating(raw string) *float64 {
	match := ratingPattern.FindString(raw)
	if match == "" {
		return nil
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
	if err != nil {
		return nil
	}
	return &value
}

// Link resolves raw against the page URL. Only http and https results are
// accepted; anything else (javascript:, mailto:, unparseable) is absent.
func Link(base *url.URL, raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil
	}
	if resolved.Host == "" {
		return nil
	}

	link := resolved.String()
	return &link
}

// Optional returns a pointer to the normalized text, or nil when it is empty
func Optional(s string) *string {
	s = Text(s)
	if s == "" {
		return nil
	}
	return &s
}
