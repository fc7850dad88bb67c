package slug

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxLength = 100

var (
	nonSlugChars = regexp.MustCompile("[^a-z0-9-]+")
	hyphenRuns   = regexp.MustCompile("-+")
)

// Generate creates a URL-friendly slug from a string
func Generate(s string) string {
	if s == "" {
		return ""
	}

	s = Fold(s)

	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, ".", "-")

	s = nonSlugChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > maxLength {
		s = s[:maxLength]
		s = strings.TrimRight(s, "-")
	}

	return s
}

// GenerateWithFallback generates a slug, falling back to a default if the input produces an empty slug
func GenerateWithFallback(s, fallback string) string {
	slug := Generate(s)
	if slug == "" {
		return Generate(fallback)
	}
	return slug
}

// Fold lowercases s, strips diacritics and collapses whitespace so that
// labels like "Domů" and "domu" compare equal
func Fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = transliterate(s)
	return strings.Join(strings.Fields(s), " ")
}

// FromPageURL builds a slug from a page URL's host, path and query,
// used as the object name for archived pages
func FromPageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Generate(raw)
	}

	parts := []string{strings.TrimPrefix(u.Hostname(), "www.")}
	if p := strings.Trim(u.Path, "/"); p != "" {
		parts = append(parts, p)
	}
	if u.RawQuery != "" {
		parts = append(parts, u.RawQuery)
	}

	return GenerateWithFallback(strings.Join(parts, "-"), "page")
}

// transliterate converts unicode characters to ASCII equivalents
func transliterate(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// isMn checks if a rune is a nonspacing mark (accents, diacritics)
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}
