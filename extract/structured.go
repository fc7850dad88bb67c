package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/docutag/shopscraper/models"
)

// productMarker locates a Product type declaration inside a script that is
// not a clean JSON-LD block
var productMarker = regexp.MustCompile(`"@type"\s*:\s*"Product"`)

// maxBacktrack bounds how many opening braces before a marker are tried
// as the start of the enclosing object
const maxBacktrack = 16

// StructuredData reads schema.org Product objects from JSON-LD blocks and
// from Product objects embedded in other scripts
type StructuredData struct{}

// Name implements Strategy
func (StructuredData) Name() string { return StrategyStructuredData }

// Extract implements Strategy
func (StructuredData) Extract(page *Page) ([]models.CandidateRecord, error) {
	var (
		candidates []models.CandidateRecord
		errs       itemErrors
		index      int
	)

	emit := func(obj map[string]any) {
		c, err := productCandidate(obj)
		if err != nil {
			errs.add(index, err)
		} else {
			candidates = append(candidates, c)
		}
		index++
	}

	for _, script := range page.Scripts {
		if script.IsJSONLD() {
			var doc any
			if err := json.Unmarshal([]byte(script.Text), &doc); err == nil {
				collectProducts(doc, emit)
				continue
			}
			// Truncated or concatenated blocks fall through to the lenient scan
		}
		if !productMarker.MatchString(script.Text) {
			continue
		}
		for _, obj := range scanProductObjects(script.Text) {
			emit(obj)
		}
	}

	return candidates, errs.err()
}

// collectProducts walks a decoded JSON-LD document and calls emit for every
// Product node, descending through @graph, ItemList and plain arrays
func collectProducts(v any, emit func(map[string]any)) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			collectProducts(item, emit)
		}
	case map[string]any:
		if hasType(t, "Product") {
			emit(t)
			return
		}
		if graph, ok := t["@graph"]; ok {
			collectProducts(graph, emit)
		}
		if elements, ok := t["itemListElement"]; ok {
			collectProducts(elements, emit)
		}
		// ListItem wraps the product in "item"
		if item, ok := t["item"]; ok {
			collectProducts(item, emit)
		}
	}
}

// scanProductObjects pulls self-contained Product objects out of arbitrary
// script text. For each marker the nearest preceding brace that decodes to a
// Product object spanning the marker wins.
func scanProductObjects(text string) []map[string]any {
	var objects []map[string]any
	consumed := 0

	for _, loc := range productMarker.FindAllStringIndex(text, -1) {
		if loc[0] < consumed {
			continue
		}

		start := loc[0]
		for tries := 0; tries < maxBacktrack; tries++ {
			start = strings.LastIndexByte(text[consumed:start], '{')
			if start < 0 {
				break
			}
			start += consumed

			dec := json.NewDecoder(strings.NewReader(text[start:]))
			var obj map[string]any
			if err := dec.Decode(&obj); err != nil {
				continue
			}
			end := start + int(dec.InputOffset())
			if end <= loc[0] || !hasType(obj, "Product") {
				continue
			}
			objects = append(objects, obj)
			consumed = end
			break
		}
	}
	return objects
}

// productCandidate maps one schema.org Product to a candidate
func productCandidate(obj map[string]any) (models.CandidateRecord, error) {
	c := models.CandidateRecord{
		TitleRaw: strings.TrimSpace(scalarString(obj["name"])),
		LinkRaw:  scalarString(obj["url"]),
	}
	if c.TitleRaw == "" {
		return c, ErrMissingTitle
	}

	if offer := firstOffer(obj["offers"]); offer != nil {
		c.PriceRaw = firstScalar(offer, "price", "lowPrice", "highPrice")
		if c.LinkRaw == "" {
			c.LinkRaw = scalarString(offer["url"])
		}
	}
	if c.PriceRaw == "" {
		c.PriceRaw = scalarString(obj["price"])
	}

	if rating, ok := obj["aggregateRating"].(map[string]any); ok {
		c.RatingRaw = scalarString(rating["ratingValue"])
	}

	c.CategoryRaw = categoryPath(obj["category"])
	return c, nil
}

// firstOffer returns the offer object from either the dict or list shape.
// AggregateOffer is a dict carrying lowPrice.
func firstOffer(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func firstScalar(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := scalarString(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// categoryPath flattens the category shapes seen in the wild: a path
// string, a list of labels, or a Thing with a name
func categoryPath(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		labels := make([]string, 0, len(t))
		for _, item := range t {
			if s := categoryPath(item); s != "" {
				labels = append(labels, s)
			}
		}
		return strings.Join(labels, " > ")
	case map[string]any:
		return scalarString(t["name"])
	}
	return ""
}

// hasType reports whether a JSON-LD node declares the given @type, either
// as a string or within a list
func hasType(obj map[string]any, want string) bool {
	switch t := obj["@type"].(type) {
	case string:
		return strings.EqualFold(t, want) || strings.HasSuffix(t, "/"+want)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}
