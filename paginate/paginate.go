// Package paginate decides whether a listing page continues and where.
//
// Link mode follows an explicit "next" affordance. Offset mode rewrites an
// offset query parameter and always proposes the next page; that mode ends
// when the engine sees a page without candidates. Both refuse to propose a
// page as its own successor.
package paginate

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docutag/shopscraper/extract"
	"github.com/docutag/shopscraper/models"
	"github.com/docutag/shopscraper/normalize"
)

// Pagination modes used in source configuration
const (
	ModeLink   = "link"
	ModeOffset = "offset"
	ModeNone   = "none"
)

// Offset defaults
const (
	DefaultOffsetParam = "offset"
	DefaultOffsetStep  = 24
)

// DefaultNextSelectors locate a "next page" link, most specific first
var DefaultNextSelectors = []string{
	"a.next@href",
	"a[rel=next]@href",
	"link[rel=next]@href",
	`.pagination a:contains("›")@href`,
	".paging .next a@href",
	`a:contains("Další")@href`,
}

// ErrUnknownMode is returned for an unrecognised pagination mode
var ErrUnknownMode = errors.New("unknown pagination mode")

// Discoverer proposes the follow-up page of a listing
type Discoverer interface {
	Next(page *extract.Page) models.PaginationDecision
}

// New returns the discoverer for a configured mode. An empty mode means
// link-based pagination.
func New(mode string, nextSelectors []string, offsetParam string, offsetStep int) (Discoverer, error) {
	switch mode {
	case "", ModeLink:
		return NewLinkDiscoverer(nextSelectors), nil
	case ModeOffset:
		return NewOffsetDiscoverer(offsetParam, offsetStep), nil
	case ModeNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// None never proposes a next page
type None struct{}

// Next implements Discoverer
func (None) Next(*extract.Page) models.PaginationDecision { return models.NoNext }

// LinkDiscoverer follows the first matching "next" link. When no selector
// matches, the page= link with the lowest page number above the current
// page is used.
type LinkDiscoverer struct {
	selectors []extract.Selector
}

// NewLinkDiscoverer creates a LinkDiscoverer. Empty selectors means
// DefaultNextSelectors.
func NewLinkDiscoverer(selectors []string) *LinkDiscoverer {
	if len(selectors) == 0 {
		selectors = DefaultNextSelectors
	}
	return &LinkDiscoverer{selectors: extract.ParseSelectors(selectors)}
}

// Next implements Discoverer
func (d *LinkDiscoverer) Next(page *extract.Page) models.PaginationDecision {
	scope := page.Doc.Selection
	candidates := make([]string, 0, len(d.selectors)+1)
	for _, sel := range d.selectors {
		if href := sel.Value(scope); href != "" {
			candidates = append(candidates, href)
		}
	}
	if href := nearestPageLink(page); href != "" {
		candidates = append(candidates, href)
	}

	for _, href := range candidates {
		if decision := propose(page.URL, href); decision.HasNext {
			return decision
		}
	}
	return models.NoNext
}

// pageParam is the query parameter numbered pager links carry
const pageParam = "page"

// nearestPageLink returns the href of the numbered pager link closest after
// the current page, or "" when there is none. A page without the parameter
// is page 1.
func nearestPageLink(page *extract.Page) string {
	current := 1
	if n, err := strconv.Atoi(page.URL.Query().Get(pageParam)); err == nil {
		current = n
	}

	best, bestHref := 0, ""
	page.Doc.Find(`a[href*="page="]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link := normalize.Link(page.URL, href)
		if link == nil {
			return
		}
		u, err := url.Parse(*link)
		if err != nil {
			return
		}
		n, err := strconv.Atoi(u.Query().Get(pageParam))
		if err != nil || n <= current {
			return
		}
		if bestHref == "" || n < best {
			best, bestHref = n, href
		}
	})
	return bestHref
}

// OffsetDiscoverer advances an offset query parameter by a fixed step
type OffsetDiscoverer struct {
	param string
	step  int
}

// NewOffsetDiscoverer creates an OffsetDiscoverer. Zero values select
// DefaultOffsetParam and DefaultOffsetStep.
func NewOffsetDiscoverer(param string, step int) *OffsetDiscoverer {
	if param == "" {
		param = DefaultOffsetParam
	}
	if step <= 0 {
		step = DefaultOffsetStep
	}
	return &OffsetDiscoverer{param: param, step: step}
}

// Next implements Discoverer. It always proposes a page; an absent or
// unparseable offset counts as zero.
func (d *OffsetDiscoverer) Next(page *extract.Page) models.PaginationDecision {
	next := *page.URL
	query := next.Query()

	offset, err := strconv.Atoi(query.Get(d.param))
	if err != nil || offset < 0 {
		offset = 0
	}
	query.Set(d.param, strconv.Itoa(offset+d.step))
	next.RawQuery = query.Encode()
	next.Fragment = ""

	return propose(page.URL, next.String())
}

// propose resolves href against the current page and applies the cycle guard
func propose(current *url.URL, href string) models.PaginationDecision {
	link := normalize.Link(current, href)
	if link == nil {
		return models.NoNext
	}
	if NormalizeURL(*link) == NormalizeURL(current.String()) {
		return models.NoNext
	}
	return models.PaginationDecision{HasNext: true, NextURL: *link}
}

// NormalizeURL canonicalises a URL for equality checks: lowercased scheme
// and host, default ports, fragment and trailing slash dropped, query keys
// sorted. Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	if u.RawQuery != "" {
		// Encode sorts by key
		u.RawQuery = u.Query().Encode()
	}

	return u.String()
}
