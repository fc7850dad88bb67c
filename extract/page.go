package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/docutag/shopscraper/models"
)

// Script is one inline <script> block
type Script struct {
	Type string // Lowercased type attribute, empty for classic scripts
	Text string
}

// IsJSONLD reports whether the block carries schema.org JSON-LD
func (s Script) IsJSONLD() bool {
	return s.Type == "application/ld+json"
}

// Page is a parsed listing page shared by all strategies. It is read-only
// once built, so one Page may be handed to several goroutines.
type Page struct {
	URL      *url.URL
	SourceID string
	Root     *html.Node
	Doc      *goquery.Document
	Scripts  []Script
}

// NewPage parses a fetched page
func NewPage(raw models.RawPage) (*Page, error) {
	pageURL, err := url.Parse(raw.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return nil, fmt.Errorf("page URL must be http or https: %s", raw.URL)
	}

	root, err := html.Parse(bytes.NewReader(raw.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return &Page{
		URL:      pageURL,
		SourceID: raw.SourceID,
		Root:     root,
		Doc:      goquery.NewDocumentFromNode(root),
		Scripts:  extractScripts(root),
	}, nil
}

// extractScripts collects inline script bodies in document order
func extractScripts(n *html.Node) []Script {
	var scripts []Script
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			var typ string
			for _, attr := range n.Attr {
				if attr.Key == "type" {
					typ = strings.ToLower(strings.TrimSpace(attr.Val))
					break
				}
			}

			var buf strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					buf.WriteString(c.Data)
				}
			}
			if text := strings.TrimSpace(buf.String()); text != "" {
				scripts = append(scripts, Script{Type: typ, Text: text})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return scripts
}
