package shopscraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/docutag/shopscraper/config"
	"github.com/docutag/shopscraper/fetch"
	"github.com/docutag/shopscraper/metrics"
	"github.com/docutag/shopscraper/models"
	"github.com/docutag/shopscraper/paginate"
	"github.com/docutag/shopscraper/storage"
)

const tracerName = "github.com/docutag/shopscraper"

// Fetcher retrieves one page
type Fetcher interface {
	Fetch(ctx context.Context, sourceID, url string) (models.RawPage, error)
}

// RunStore records crawl runs
type RunStore interface {
	StartRun(ctx context.Context, run *models.CrawlRun) error
	FinishRun(ctx context.Context, run *models.CrawlRun) error
}

// CrawlerConfig wires a Crawler. Only Engine and Config are required.
type CrawlerConfig struct {
	Engine  *Engine
	Config  *config.Config
	Runs    RunStore        // Optional crawl run bookkeeping
	Archive storage.Archive // Optional raw page archive
	Metrics *metrics.CrawlMetrics
	Logger  *slog.Logger

	// PruneReplayed deletes archived pages once Replay has ingested them
	PruneReplayed bool

	// NewFetcher builds the fetcher of one source. Defaults to a paced
	// fetch.Client.
	NewFetcher func(src config.SourceConfig) Fetcher
}

// Crawler drives the engine over every configured source, following
// pagination until a listing ends or max_pages is reached.
type Crawler struct {
	engine     *Engine
	cfg        *config.Config
	runs       RunStore
	archive    storage.Archive
	prune      bool
	metrics    *metrics.CrawlMetrics
	logger     *slog.Logger
	tracer     trace.Tracer
	newFetcher func(src config.SourceConfig) Fetcher
}

// NewCrawler creates a Crawler
func NewCrawler(cc CrawlerConfig) (*Crawler, error) {
	if cc.Engine == nil || cc.Config == nil {
		return nil, errors.New("crawler requires an engine and a config")
	}
	if cc.Logger == nil {
		cc.Logger = slog.Default()
	}

	c := &Crawler{
		engine:     cc.Engine,
		cfg:        cc.Config,
		runs:       cc.Runs,
		archive:    cc.Archive,
		prune:      cc.PruneReplayed,
		metrics:    cc.Metrics,
		logger:     cc.Logger,
		tracer:     otel.Tracer(tracerName),
		newFetcher: cc.NewFetcher,
	}
	if c.newFetcher == nil {
		c.newFetcher = func(src config.SourceConfig) Fetcher {
			return fetch.New(fetch.Config{
				Timeout:      c.cfg.Crawl.Timeout,
				UserAgent:    c.cfg.Crawl.UserAgent,
				RequestDelay: c.cfg.EffectiveRequestDelay(src),
				MaxBodyBytes: c.cfg.Crawl.MaxBodyBytes,
			})
		}
	}
	return c, nil
}

// runTally accumulates counters from concurrent sources
type runTally struct {
	mu  sync.Mutex
	run *models.CrawlRun
}

func (t *runTally) addPage(result *PageResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Pages++
	t.run.Stored += result.Stored
	t.run.Failed += result.Failed
	t.run.Dropped += result.Dropped
}

func (t *runTally) addFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Failed++
}

// Run crawls every configured source, at most Crawl.Concurrency at a time.
// Page and store failures are logged and counted; only cancellation of ctx
// ends a run early, in which case the run is marked failed and ctx's error
// returned.
func (c *Crawler) Run(ctx context.Context) (*models.CrawlRun, error) {
	if err := c.cfg.ValidateSources(); err != nil {
		return nil, err
	}

	return c.track(ctx, func(ctx context.Context, tally *runTally) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(c.cfg.Crawl.Concurrency, 1))

		for _, src := range c.cfg.Sources {
			g.Go(func() error {
				c.crawlSource(gctx, src, tally)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// Replay feeds every archived page through the engine without fetching.
// With PruneReplayed, pages whose records were all stored are deleted.
func (c *Crawler) Replay(ctx context.Context, archive storage.Archive) (*models.CrawlRun, error) {
	keys, err := archive.ListPages(ctx)
	if err != nil {
		return nil, err
	}

	return c.track(ctx, func(ctx context.Context, tally *runTally) error {
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}

			raw, err := archive.LoadPage(ctx, key)
			if err != nil {
				c.logger.Error("failed to load archived page", "key", key, "error", err)
				tally.addFailure()
				continue
			}

			result, err := c.engine.Ingest(ctx, raw)
			if err != nil {
				c.logger.Error("failed to ingest archived page", "key", key, "url", raw.URL, "error", err)
				tally.addFailure()
				continue
			}
			tally.addPage(result)

			if c.prune && result.Failed == 0 {
				if err := archive.DeletePage(ctx, key); err != nil {
					c.logger.Warn("failed to prune archived page", "key", key, "error", err)
				}
			}
		}
		return nil
	})
}

// track wraps body in a crawl run record
func (c *Crawler) track(ctx context.Context, body func(context.Context, *runTally) error) (*models.CrawlRun, error) {
	run := &models.CrawlRun{ID: uuid.NewString(), Status: models.RunStatusRunning}
	if c.runs != nil {
		if err := c.runs.StartRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record crawl start: %w", err)
		}
	}

	logger := c.logger.With("run_id", run.ID)
	logger.Info("crawl run started", "sources", len(c.cfg.Sources))

	tally := &runTally{run: run}
	runErr := body(ctx, tally)

	run.Status = models.RunStatusFinished
	if runErr != nil {
		run.Status = models.RunStatusFailed
	}

	if c.runs != nil {
		// Record the outcome even when ctx was cancelled
		if err := c.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			logger.Error("failed to record crawl finish", "error", err)
		}
	}

	logger.Info("crawl run finished",
		"status", run.Status,
		"pages", run.Pages,
		"stored", run.Stored,
		"failed", run.Failed,
		"dropped", run.Dropped,
	)

	return run, runErr
}

// crawlSource walks the listings of one source breadth-first
func (c *Crawler) crawlSource(ctx context.Context, src config.SourceConfig, tally *runTally) {
	logger := c.logger.With("source", src.SourceID)
	fetcher := c.newFetcher(src)
	maxPages := c.cfg.EffectiveMaxPages(src)
	allowed := allowedHosts(src)

	queue := append([]string(nil), src.StartURLs...)
	visited := make(map[string]bool)
	pages := 0

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return
		}
		if maxPages > 0 && pages >= maxPages {
			logger.Info("max pages reached", "max_pages", maxPages, "pending", len(queue))
			return
		}

		target := queue[0]
		queue = queue[1:]
		key := paginate.NormalizeURL(target)
		if visited[key] {
			continue
		}
		visited[key] = true
		pages++

		next := c.crawlPage(ctx, logger, src, fetcher, target, tally)
		if next == "" {
			continue
		}
		if !allowed(next) {
			logger.Debug("next page outside allowed domains", "url", next)
			continue
		}
		if !visited[paginate.NormalizeURL(next)] {
			queue = append(queue, next)
		}
	}
}

// crawlPage fetches, archives and ingests one page. It returns the next page
// of the listing, or "" when there is none.
func (c *Crawler) crawlPage(ctx context.Context, logger *slog.Logger, src config.SourceConfig, fetcher Fetcher, target string, tally *runTally) string {
	ctx, span := c.tracer.Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("source", src.SourceID),
		attribute.String("url", target),
	))
	defer span.End()

	raw, err := fetcher.Fetch(ctx, src.SourceID, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		logger.Error("failed to fetch page", "url", target, "error", err)
		if c.metrics != nil {
			c.metrics.FetchError.WithLabelValues(src.SourceID).Inc()
		}
		tally.addFailure()
		return ""
	}

	if c.archive != nil {
		if key, err := c.archive.SavePage(ctx, raw); err != nil {
			logger.Warn("failed to archive page", "url", raw.URL, "error", err)
		} else {
			logger.Debug("page archived", "url", raw.URL, "key", key)
		}
	}

	result, err := c.engine.Ingest(ctx, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		logger.Error("failed to process page", "url", raw.URL, "error", err)
		tally.addFailure()
		return ""
	}

	span.SetAttributes(
		attribute.String("strategy", result.Strategy),
		attribute.Int("records", len(result.Records)),
		attribute.Int("stored", result.Stored),
	)
	tally.addPage(result)

	if !result.Pagination.HasNext {
		return ""
	}
	return result.Pagination.NextURL
}

// allowedHosts returns a predicate over URLs. With no allowed_domains the
// hosts of the start URLs are allowed.
func allowedHosts(src config.SourceConfig) func(string) bool {
	domains := make([]string, 0, len(src.AllowedDomains))
	for _, d := range src.AllowedDomains {
		domains = append(domains, strings.ToLower(strings.TrimPrefix(d, ".")))
	}
	if len(domains) == 0 {
		for _, raw := range src.StartURLs {
			if u, err := url.Parse(raw); err == nil {
				domains = append(domains, strings.ToLower(u.Hostname()))
			}
		}
	}

	return func(raw string) bool {
		u, err := url.Parse(raw)
		if err != nil {
			return false
		}
		host := strings.ToLower(u.Hostname())
		for _, d := range domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
		return false
	}
}
