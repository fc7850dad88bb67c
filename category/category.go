// Package category derives a single leaf category label for a product.
//
// Sources are tried in priority order: an explicit category path on the
// candidate, the page breadcrumb trail, the page heading, the last
// meaningful URL path segment, and finally the Unknown sentinel.
package category

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/docutag/shopscraper/normalize"
	"github.com/docutag/shopscraper/slug"
)

// Unknown is stored when no category can be resolved
const Unknown = "Unknown"

// DefaultGenericLabels are breadcrumb/URL labels that never name a category
var DefaultGenericLabels = []string{
	"home", "homepage", "domů", "úvod", "hlavní stránka", "titulní stránka",
	"e-shop", "eshop", "shop", "katalog", "kategorie", "produkty", "products",
	"vše", "all", "index",
}

// DefaultBreadcrumbSelectors locate breadcrumb labels on a listing page
var DefaultBreadcrumbSelectors = []string{
	".breadcrumbs a",
	".breadcrumb a",
	".breadcrumb li",
	"nav[aria-label=breadcrumb] a",
	"[itemtype$='BreadcrumbList'] [itemprop=name]",
}

// DefaultHeadingSelectors locate the listing heading
var DefaultHeadingSelectors = []string{"h1"}

var (
	pathSeparators   = regexp.MustCompile(`\s*(?:>|»|›|\||/|\\)\s*`)
	paginationSuffix = regexp.MustCompile(`^(?:strana|page|p|stranka)(?:[-_]?\d+)?$`)
	numericSegment   = regexp.MustCompile(`^[\d_-]+$`)
)

// PageContext carries the page-level signals used when a candidate has no
// category of its own
type PageContext struct {
	URL         *url.URL
	Breadcrumbs []string
	Heading     string
}

// ContextFromDocument collects breadcrumbs and heading from a parsed page.
// The first selector yielding any label wins.
func ContextFromDocument(doc *goquery.Document, pageURL *url.URL, breadcrumbSelectors, headingSelectors []string) PageContext {
	ctx := PageContext{URL: pageURL}
	if doc == nil {
		return ctx
	}

	for _, sel := range breadcrumbSelectors {
		var labels []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if label := normalize.Text(s.Text()); label != "" {
				labels = append(labels, label)
			}
		})
		if len(labels) > 0 {
			ctx.Breadcrumbs = labels
			break
		}
	}

	for _, sel := range headingSelectors {
		if heading := normalize.Text(doc.Find(sel).First().Text()); heading != "" {
			ctx.Heading = heading
			break
		}
	}

	return ctx
}

// Resolver resolves leaf categories with a configurable set of generic labels
type Resolver struct {
	generic map[string]struct{}
}

// NewResolver creates a Resolver. Labels are compared case- and
// diacritic-insensitively; DefaultGenericLabels are always included.
func NewResolver(genericLabels []string) *Resolver {
	r := &Resolver{generic: make(map[string]struct{})}
	for _, l := range DefaultGenericLabels {
		r.generic[slug.Fold(l)] = struct{}{}
	}
	for _, l := range genericLabels {
		r.generic[slug.Fold(l)] = struct{}{}
	}
	return r
}

// Resolve returns the leaf category for one candidate on a page
func (r *Resolver) Resolve(candidatePath string, page PageContext) string {
	return r.Leaf(candidatePath, r.PageCategory(page))
}

// Leaf returns the leaf of candidatePath, or fallback when the path is empty.
// Callers processing many candidates compute fallback once with PageCategory.
func (r *Resolver) Leaf(candidatePath, fallback string) string {
	if leaf := LeafFromPath(candidatePath); leaf != "" {
		return leaf
	}
	return fallback
}

// PageCategory resolves the page-level category: breadcrumbs, heading, URL, Unknown
func (r *Resolver) PageCategory(page PageContext) string {
	brand := brandLabel(page.URL)

	for i := len(page.Breadcrumbs) - 1; i >= 0; i-- {
		label := normalize.Text(page.Breadcrumbs[i])
		if label == "" || r.isGeneric(label, brand) {
			continue
		}
		return label
	}

	if heading := normalize.Text(page.Heading); heading != "" {
		return heading
	}

	if fromURL := r.FromURL(page.URL); fromURL != "" {
		return fromURL
	}

	return Unknown
}

// FromURL title-cases the last meaningful path segment of u, e.g.
// "/mobilni-telefony/strana-2.html" becomes "Mobilni Telefony"
func (r *Resolver) FromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	brand := brandLabel(u)

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg, err := url.PathUnescape(segments[i])
		if err != nil {
			seg = segments[i]
		}
		seg = strings.TrimSuffix(seg, path.Ext(seg))
		folded := slug.Fold(seg)
		if folded == "" || numericSegment.MatchString(folded) || paginationSuffix.MatchString(folded) {
			continue
		}

		label := strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(seg)
		label = normalize.Text(label)
		if utf8.RuneCountInString(label) <= 2 || r.isGeneric(label, brand) {
			continue
		}
		// Casers carry state, so one per call
		return cases.Title(language.Und).String(label)
	}
	return ""
}

// LeafFromPath returns the last non-empty segment of a category path such
// as "Elektronika > Telefony > Mobily"
func LeafFromPath(p string) string {
	segments := pathSeparators.Split(p, -1)
	for i := len(segments) - 1; i >= 0; i-- {
		if leaf := normalize.Text(segments[i]); leaf != "" {
			return leaf
		}
	}
	return ""
}

func (r *Resolver) isGeneric(label, brand string) bool {
	folded := slug.Fold(label)
	if _, ok := r.generic[folded]; ok {
		return true
	}
	if brand == "" {
		return false
	}
	if i := strings.IndexByte(folded, '.'); i > 0 {
		folded = folded[:i]
	}
	return folded == brand
}

// brandLabel is the site's own name, e.g. "expert" for www.expert.cz
func brandLabel(u *url.URL) string {
	if u == nil {
		return ""
	}
	labels := strings.Split(strings.TrimPrefix(u.Hostname(), "www."), ".")
	if len(labels) < 2 {
		return slug.Fold(labels[0])
	}
	return slug.Fold(labels[len(labels)-2])
}
