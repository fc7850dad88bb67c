package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docutag/shopscraper/models"
	"github.com/docutag/shopscraper/normalize"
)

// DOMSelectors lists the fallback selectors for each field in the textual
// "css@attr|json:key" form. For each field the first non-empty value wins;
// for Containers the first selector matching any element wins.
type DOMSelectors struct {
	Containers []string `yaml:"containers"`
	Title      []string `yaml:"title"`
	Price      []string `yaml:"price"`
	Link       []string `yaml:"link"`
	Rating     []string `yaml:"rating"`
	Category   []string `yaml:"category"`
}

// DefaultDOMSelectors covers the listing markup of the supported retailers
var DefaultDOMSelectors = DOMSelectors{
	Containers: []string{
		"div.product",
		".product-box",
		"[data-impression-name]",
		"[data-productid]",
		".browsingitem",
		".product-item",
		"article.product",
	},
	Title: []string{
		"a.product__name",
		".product__name",
		"@data-impression-name",
		"@data-gtm-data-product|json:item_name",
		"[data-gtm-data-product]@data-gtm-data-product|json:item_name",
		"a[class*=name]",
		"h3",
		"h2",
		"a[class*=browsing]",
	},
	Price: []string{
		"@data-impression-price",
		"[data-product-price]@data-product-price",
		".product__main-price",
		".product__price",
		".product__base-price",
		".price",
		"[class*=price]",
	},
	Link: []string{
		"a.product__name@href",
		".product__name@href",
		"a[href]@href",
	},
	Rating: []string{
		".rating",
		"[class*=rating]",
	},
	Category: []string{
		"@data-impression-category",
		"@data-gtm-data-product|json:item_category",
	},
}

// DefaultPriceTextPattern finds a crown amount in free container text
const DefaultPriceTextPattern = `(\d[\d\s.,]*)\s*Kč`

var defaultPriceText = regexp.MustCompile(DefaultPriceTextPattern)

// DOMPattern reads candidates from repeating container elements
type DOMPattern struct {
	containers []string
	title      []Selector
	price      []Selector
	link       []Selector
	rating     []Selector
	category   []Selector
	priceText  *regexp.Regexp
}

// NewDOMPattern creates the strategy. Empty selector lists fall back to
// DefaultDOMSelectors field by field; a nil priceText uses
// DefaultPriceTextPattern.
func NewDOMPattern(sel DOMSelectors, priceText *regexp.Regexp) *DOMPattern {
	if priceText == nil {
		priceText = defaultPriceText
	}
	return &DOMPattern{
		containers: orDefault(sel.Containers, DefaultDOMSelectors.Containers),
		title:      ParseSelectors(orDefault(sel.Title, DefaultDOMSelectors.Title)),
		price:      ParseSelectors(orDefault(sel.Price, DefaultDOMSelectors.Price)),
		link:       ParseSelectors(orDefault(sel.Link, DefaultDOMSelectors.Link)),
		rating:     ParseSelectors(orDefault(sel.Rating, DefaultDOMSelectors.Rating)),
		category:   ParseSelectors(orDefault(sel.Category, DefaultDOMSelectors.Category)),
		priceText:  priceText,
	}
}

func orDefault(list, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}

// Name implements Strategy
func (d *DOMPattern) Name() string { return StrategyDOMPattern }

// Extract implements Strategy
func (d *DOMPattern) Extract(page *Page) ([]models.CandidateRecord, error) {
	var containers *goquery.Selection
	for _, sel := range d.containers {
		if found := page.Doc.Find(sel); found.Length() > 0 {
			containers = found
			break
		}
	}
	if containers == nil {
		return nil, nil
	}

	var (
		candidates []models.CandidateRecord
		errs       itemErrors
	)
	containers.Each(func(i int, s *goquery.Selection) {
		c := d.candidate(s)
		if c.TitleRaw == "" {
			errs.add(i, ErrMissingTitle)
			return
		}
		candidates = append(candidates, c)
	})

	return candidates, errs.err()
}

func (d *DOMPattern) candidate(s *goquery.Selection) models.CandidateRecord {
	c := models.CandidateRecord{
		TitleRaw:    FirstValue(s, d.title),
		PriceRaw:    FirstValue(s, d.price),
		LinkRaw:     FirstValue(s, d.link),
		RatingRaw:   FirstValue(s, d.rating),
		CategoryRaw: FirstValue(s, d.category),
	}
	if c.PriceRaw == "" {
		if m := d.priceText.FindStringSubmatch(normalize.Text(s.Text())); m != nil {
			c.PriceRaw = strings.TrimSpace(m[len(m)-1])
		}
	}
	return c
}
