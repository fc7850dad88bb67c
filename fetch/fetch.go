// Package fetch retrieves listing pages over HTTP for the engine.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/docutag/shopscraper/models"
)

// DefaultUserAgent is sent when Config.UserAgent is empty
const DefaultUserAgent = "Mozilla/5.0 (compatible; ShopScraper/1.0)"

var (
	// ErrInvalidURL is returned for URLs that are not absolute http(s)
	ErrInvalidURL = errors.New("URL must be absolute http or https")
	// ErrBodyTooLarge is returned when a page exceeds Config.MaxBodyBytes
	ErrBodyTooLarge = errors.New("response body too large")
)

// StatusError reports a non-200 response
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error fetching %s: %s", e.URL, e.Status)
}

// Config contains fetcher configuration
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	RequestDelay time.Duration // Minimum spacing between requests, 0 = unpaced
	MaxBodyBytes int64         // 0 = unlimited
}

// ThrottledTransport waits on a rate limiter before each request
type ThrottledTransport struct {
	Transport http.RoundTripper
	Limiter   *rate.Limiter
}

// RoundTrip implements http.RoundTripper
func (t *ThrottledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.Transport.RoundTrip(req)
}

// NewLimiter allows one request per delay. A non-positive delay never blocks.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Client fetches pages for a single source
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxBody    int64
	now        func() time.Time
}

// New creates a Client. Requests are traced with otelhttp and paced by
// cfg.RequestDelay.
func New(cfg Config) *Client {
	return NewWithTransport(cfg, http.DefaultTransport)
}

// NewWithTransport creates a Client over a custom base transport
func NewWithTransport(cfg Config, base http.RoundTripper) *Client {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	throttled := &ThrottledTransport{
		Transport: base,
		Limiter:   NewLimiter(cfg.RequestDelay),
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(throttled),
		},
		userAgent: userAgent,
		maxBody:   cfg.MaxBodyBytes,
		now:       time.Now,
	}
}

// Fetch retrieves one page and tags it with sourceID
func (c *Client) Fetch(ctx context.Context, sourceID, targetURL string) (models.RawPage, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return models.RawPage{}, fmt.Errorf("%w: %q", ErrInvalidURL, targetURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return models.RawPage{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "cs-CZ,cs;q=0.9,en;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.RawPage{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.RawPage{}, &StatusError{URL: targetURL, Code: resp.StatusCode, Status: resp.Status}
	}

	var body io.Reader = resp.Body
	if c.maxBody > 0 {
		body = io.LimitReader(resp.Body, c.maxBody+1)
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return models.RawPage{}, fmt.Errorf("failed to read body: %w", err)
	}
	if c.maxBody > 0 && int64(len(content)) > c.maxBody {
		return models.RawPage{}, fmt.Errorf("%w: %s", ErrBodyTooLarge, targetURL)
	}

	// Redirects change the base for relative links
	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return models.RawPage{
		URL:       finalURL,
		SourceID:  sourceID,
		Content:   content,
		FetchedAt: c.now().UTC(),
	}, nil
}
