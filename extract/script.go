package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docutag/shopscraper/models"
)

// DefaultScriptArrayKeys name the arrays that hold product objects in
// analytics and state scripts
var DefaultScriptArrayKeys = []string{"products", "items", "impressions", "productList"}

// Field-name anchors, tried in order per field
var (
	scriptTitleKeys    = []string{"name", "item_name", "productName", "title"}
	scriptPriceKeys    = []string{"price", "item_price", "priceWithVat", "priceVat", "finalPrice"}
	scriptLinkKeys     = []string{"url", "link", "href", "productUrl"}
	scriptRatingKeys   = []string{"rating", "ratingValue", "averageRating"}
	scriptCategoryKeys = []string{"category", "item_category", "categoryPath"}
	scriptIDKeys       = []string{"id", "item_id", "productId", "productID", "sku", "code", "ean"}
)

// EmbeddedScript pulls product fields out of object arrays inside inline
// scripts. The script body is never parsed as a whole: arrays are located
// by key, split into objects by bracket matching, and each field is read
// with a field-name anchored pattern.
type EmbeddedScript struct {
	arrays []*regexp.Regexp
	fields map[string]*regexp.Regexp
}

// NewEmbeddedScript creates the strategy. Empty keys means DefaultScriptArrayKeys.
func NewEmbeddedScript(arrayKeys []string) *EmbeddedScript {
	if len(arrayKeys) == 0 {
		arrayKeys = DefaultScriptArrayKeys
	}

	s := &EmbeddedScript{fields: make(map[string]*regexp.Regexp)}
	for _, k := range arrayKeys {
		s.arrays = append(s.arrays, regexp.MustCompile(`["']?`+regexp.QuoteMeta(k)+`["']?\s*[:=]\s*\[`))
	}
	for _, group := range [][]string{scriptTitleKeys, scriptPriceKeys, scriptLinkKeys, scriptRatingKeys, scriptCategoryKeys, scriptIDKeys} {
		for _, k := range group {
			s.fields[k] = fieldPattern(k)
		}
	}
	return s
}

// fieldPattern matches `"key": value` where value is a quoted string or a
// bare number. Unquoted keys are accepted since the data is JavaScript.
func fieldPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[{,\s])["']?` + regexp.QuoteMeta(key) + `["']?\s*:\s*` +
		`(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)'|(-?\d+(?:[.,]\d+)?))`)
}

// Name implements Strategy
func (s *EmbeddedScript) Name() string { return StrategyEmbeddedScript }

// Extract implements Strategy
func (s *EmbeddedScript) Extract(page *Page) ([]models.CandidateRecord, error) {
	var (
		candidates []models.CandidateRecord
		errs       itemErrors
		index      int
	)

	for _, script := range page.Scripts {
		if script.IsJSONLD() {
			continue
		}
		for _, body := range s.arrayBodies(script.Text) {
			for _, obj := range splitObjects(body) {
				// Fields of nested objects (brand, category, variants) are not the product's
				obj = topLevel(obj)
				// Arrays of menu entries or tracking events carry no product identity
				if !s.looksLikeProduct(obj) {
					continue
				}
				c, err := s.candidate(obj)
				if err != nil {
					errs.add(index, err)
				} else {
					candidates = append(candidates, c)
				}
				index++
			}
		}
	}

	return candidates, errs.err()
}

// arrayBodies returns the bracket-matched contents of every configured
// array found in text
func (s *EmbeddedScript) arrayBodies(text string) []string {
	var bodies []string
	for _, re := range s.arrays {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			open := loc[1] - 1
			end := matchBracket(text, open)
			if end < 0 {
				continue
			}
			bodies = append(bodies, text[open+1:end])
		}
	}
	return bodies
}

func (s *EmbeddedScript) looksLikeProduct(obj string) bool {
	for _, k := range scriptIDKeys {
		if s.fields[k].MatchString(obj) {
			return true
		}
	}
	return s.field(obj, scriptTitleKeys) != ""
}

func (s *EmbeddedScript) candidate(obj string) (models.CandidateRecord, error) {
	c := models.CandidateRecord{
		TitleRaw:    s.field(obj, scriptTitleKeys),
		PriceRaw:    s.field(obj, scriptPriceKeys),
		LinkRaw:     s.field(obj, scriptLinkKeys),
		RatingRaw:   s.field(obj, scriptRatingKeys),
		CategoryRaw: s.field(obj, scriptCategoryKeys),
	}
	if strings.TrimSpace(c.TitleRaw) == "" {
		if id := s.field(obj, scriptIDKeys); id != "" {
			return c, fmt.Errorf("%w: product %s", ErrMissingTitle, id)
		}
		return c, ErrMissingTitle
	}
	return c, nil
}

// field returns the first anchored value found among keys
func (s *EmbeddedScript) field(obj string, keys []string) string {
	for _, k := range keys {
		m := s.fields[k].FindStringSubmatch(obj)
		if m == nil {
			continue
		}
		for _, group := range m[1:] {
			if v := strings.TrimSpace(DecodeEscapes(group)); v != "" {
				return v
			}
		}
	}
	return ""
}

// matchBracket returns the index of the bracket closing the one at open,
// skipping over string literals, or -1 when unbalanced
func matchBracket(text string, open int) int {
	var closer byte
	switch text[open] {
	case '[':
		closer = ']'
	case '{':
		closer = '}'
	default:
		return -1
	}
	opener := text[open]

	depth := 0
	var quote byte
	for i := open; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			switch ch {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// topLevel returns obj with every nested {...} and [...] span replaced by a
// single space, so only the object's own keys remain. String literals are
// kept and may contain brackets.
func topLevel(obj string) string {
	var b strings.Builder
	b.Grow(len(obj))

	depth := 0
	var quote byte
	for i := 0; i < len(obj); i++ {
		ch := obj[i]
		if quote != 0 {
			if depth <= 1 {
				b.WriteByte(ch)
			}
			switch ch {
			case '\\':
				if i+1 < len(obj) {
					i++
					if depth <= 1 {
						b.WriteByte(obj[i])
					}
				}
			case quote:
				quote = 0
			}
			continue
		}

		switch ch {
		case '"', '\'':
			quote = ch
		case '{', '[':
			depth++
			if depth == 2 {
				b.WriteByte(' ')
			}
		case '}', ']':
			depth--
			if depth == 1 {
				continue
			}
		}
		if depth <= 1 {
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// splitObjects returns the top-level {...} objects of an array body
func splitObjects(body string) []string {
	var objects []string
	for i := 0; i < len(body); i++ {
		if body[i] != '{' {
			continue
		}
		end := matchBracket(body, i)
		if end < 0 {
			break
		}
		objects = append(objects, body[i:end+1])
		i = end
	}
	return objects
}
