// Package shopscraper turns fetched retailer listing pages into normalized
// product records and stores them one row per product per source.
package shopscraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/docutag/shopscraper/category"
	"github.com/docutag/shopscraper/config"
	"github.com/docutag/shopscraper/extract"
	"github.com/docutag/shopscraper/metrics"
	"github.com/docutag/shopscraper/models"
	"github.com/docutag/shopscraper/normalize"
	"github.com/docutag/shopscraper/paginate"
)

// ErrUnknownSource is returned for a page whose source is not configured
var ErrUnknownSource = errors.New("unknown source")

// Store is the write side of the product store
type Store interface {
	Upsert(ctx context.Context, record *models.ProductRecord) error
}

// PageResult is the outcome of processing one page
type PageResult struct {
	Records    []models.ProductRecord
	Pagination models.PaginationDecision
	Strategy   string // Strategy that produced the candidates, empty if none did
	Candidates int
	Dropped    int // Candidates without a usable title
	Skipped    int // Items a strategy could not parse
	Stored     int
	Failed     int
}

// source is the compiled pipeline of one configured retailer
type source struct {
	id          string
	chain       *extract.Chain
	discoverer  paginate.Discoverer
	resolver    *category.Resolver
	breadcrumbs []string
	headings    []string
	offsetMode  bool
}

// Engine runs the extraction pipeline per source. ProcessPage is safe for
// concurrent use; Ingest is as safe as the Store it writes to.
type Engine struct {
	sources map[string]*source
	store   Store
	metrics *metrics.CrawlMetrics
	logger  *slog.Logger
}

// NewEngine compiles every source. store may be nil when only ProcessPage
// is used; m may be nil to disable metrics.
func NewEngine(sources []config.SourceConfig, store Store, m *metrics.CrawlMetrics, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		sources: make(map[string]*source, len(sources)),
		store:   store,
		metrics: m,
		logger:  logger,
	}

	for _, cfg := range sources {
		src, err := compileSource(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", cfg.SourceID, err)
		}
		e.sources[src.id] = src
	}

	return e, nil
}

func compileSource(cfg config.SourceConfig, logger *slog.Logger) (*source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chain, err := extract.NewChain(cfg.StrategyOrder, extract.Options{
		DOM:              cfg.DOMSelectors,
		ScriptArrayKeys:  cfg.ScriptArrayKeys,
		PriceTextPattern: cfg.PriceTextPattern,
	}, logger.With("source", cfg.SourceID))
	if err != nil {
		return nil, err
	}

	discoverer, err := paginate.New(cfg.PaginationMode, cfg.NextSelectors, cfg.OffsetParam, cfg.OffsetStep)
	if err != nil {
		return nil, err
	}

	logger.Debug("source compiled",
		"source", cfg.SourceID,
		"strategies", chain.Strategies(),
		"pagination", discovererMode(cfg.PaginationMode),
	)

	breadcrumbs := cfg.BreadcrumbSelectors
	if len(breadcrumbs) == 0 {
		breadcrumbs = category.DefaultBreadcrumbSelectors
	}
	headings := cfg.HeadingSelectors
	if len(headings) == 0 {
		headings = category.DefaultHeadingSelectors
	}

	return &source{
		id:          cfg.SourceID,
		chain:       chain,
		discoverer:  discoverer,
		resolver:    category.NewResolver(cfg.GenericCategoryLabels),
		breadcrumbs: breadcrumbs,
		headings:    headings,
		offsetMode:  cfg.PaginationMode == paginate.ModeOffset,
	}, nil
}

func discovererMode(mode string) string {
	if mode == "" {
		return paginate.ModeLink
	}
	return mode
}

// Sources returns the configured source ids in sorted order
func (e *Engine) Sources() []string {
	ids := make([]string, 0, len(e.sources))
	for id := range e.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProcessPage extracts and normalizes the products of one page and decides
// whether the listing continues. It does not touch the store.
func (e *Engine) ProcessPage(raw models.RawPage) (*PageResult, error) {
	src, ok := e.sources[raw.SourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, raw.SourceID)
	}

	page, err := extract.NewPage(raw)
	if err != nil {
		return nil, err
	}

	extracted := src.chain.Run(page)
	result := &PageResult{
		Records:    make([]models.ProductRecord, 0, len(extracted.Candidates)),
		Strategy:   extracted.Strategy,
		Candidates: len(extracted.Candidates),
		Skipped:    extracted.Skipped,
	}

	if len(extracted.Candidates) > 0 {
		pageCtx := category.ContextFromDocument(page.Doc, page.URL, src.breadcrumbs, src.headings)
		pageCategory := src.resolver.PageCategory(pageCtx)

		for _, c := range extracted.Candidates {
			title, ok := normalize.Title(c.TitleRaw)
			if !ok {
				result.Dropped++
				e.logger.Debug("candidate dropped",
					"source", src.id,
					"url", raw.URL,
					"title_raw", c.TitleRaw,
				)
				continue
			}

			leaf := src.resolver.Leaf(c.CategoryRaw, pageCategory)
			result.Records = append(result.Records, models.ProductRecord{
				Title:    title,
				SourceID: src.id,
				Price:    normalize.Price(c.PriceRaw),
				Rating:   normalize.Rating(c.RatingRaw),
				Link:     normalize.Link(page.URL, c.LinkRaw),
				Category: &leaf,
			})
		}
	}

	// Offset listings never signal their end, an empty page does
	if src.offsetMode && len(extracted.Candidates) == 0 {
		result.Pagination = models.NoNext
	} else {
		result.Pagination = src.discoverer.Next(page)
	}

	if e.metrics != nil {
		strategy := extracted.Strategy
		if strategy == "" {
			strategy = "none"
		}
		e.metrics.Pages.WithLabelValues(src.id, strategy).Inc()
		e.metrics.Candidates.WithLabelValues(src.id, strategy).Add(float64(result.Candidates))
		e.metrics.Dropped.WithLabelValues(src.id).Add(float64(result.Dropped))
		e.metrics.Skipped.WithLabelValues(src.id).Add(float64(result.Skipped))
	}

	if result.Candidates == 0 {
		e.logger.Info("no products found", "source", src.id, "url", raw.URL)
	}

	return result, nil
}

// Ingest processes a page and upserts its records. A failed upsert is
// logged and counted; the remaining records are still written.
func (e *Engine) Ingest(ctx context.Context, raw models.RawPage) (*PageResult, error) {
	if e.store == nil {
		return nil, errors.New("engine has no store")
	}

	start := time.Now()
	result, err := e.ProcessPage(raw)
	if err != nil {
		return nil, err
	}

	for i := range result.Records {
		record := &result.Records[i]
		if err := e.store.Upsert(ctx, record); err != nil {
			result.Failed++
			e.logger.Warn("failed to store product",
				"source", record.SourceID,
				"title", record.Title,
				"error", err,
			)
			continue
		}
		result.Stored++
	}

	if e.metrics != nil {
		e.metrics.Upserts.WithLabelValues(raw.SourceID, metrics.OutcomeStored).Add(float64(result.Stored))
		e.metrics.Upserts.WithLabelValues(raw.SourceID, metrics.OutcomeFailed).Add(float64(result.Failed))
		e.metrics.PageTime.WithLabelValues(raw.SourceID).Observe(time.Since(start).Seconds())
	}

	e.logger.Info("page ingested",
		"source", raw.SourceID,
		"url", raw.URL,
		"strategy", result.Strategy,
		"records", len(result.Records),
		"stored", result.Stored,
		"failed", result.Failed,
		"dropped", result.Dropped,
		"has_next", result.Pagination.HasNext,
	)

	return result, nil
}
