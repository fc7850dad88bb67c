// Package extract turns a parsed listing page into raw product candidates.
//
// A Chain runs its strategies in order and stops at the first one that
// yields at least one candidate. Strategies never fail a whole page: a
// malformed item is skipped and reported through the returned error, which
// the chain logs and otherwise ignores.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/docutag/shopscraper/models"
)

// Strategy names used in source configuration
const (
	StrategyStructuredData = "structured_data"
	StrategyEmbeddedScript = "embedded_script"
	StrategyDOMPattern     = "dom_pattern"
)

// DefaultStrategyOrder is used when a source does not configure one
var DefaultStrategyOrder = []string{StrategyStructuredData, StrategyEmbeddedScript, StrategyDOMPattern}

var (
	// ErrUnknownStrategy is returned for an unrecognised strategy name
	ErrUnknownStrategy = errors.New("unknown extraction strategy")
	// ErrMissingTitle marks an item without a usable title
	ErrMissingTitle = errors.New("item has no title")
)

// Strategy extracts candidates from one page. The returned error joins
// per-item failures; candidates that did parse are still returned with it.
type Strategy interface {
	Name() string
	Extract(page *Page) ([]models.CandidateRecord, error)
}

// Options configures the built-in strategies
type Options struct {
	DOM              DOMSelectors
	ScriptArrayKeys  []string
	PriceTextPattern string
}

// Result is the outcome of running a chain over one page
type Result struct {
	Candidates []models.CandidateRecord
	Strategy   string // Name of the strategy that produced Candidates, empty if none did
	Skipped    int    // Items skipped by strategies that ran
}

// Chain is an ordered set of strategies
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewChain builds a chain from strategy names. An empty order means
// DefaultStrategyOrder.
func NewChain(order []string, opts Options, logger *slog.Logger) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(order) == 0 {
		order = DefaultStrategyOrder
	}

	var priceText *regexp.Regexp
	if opts.PriceTextPattern != "" {
		re, err := regexp.Compile(opts.PriceTextPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid price text pattern: %w", err)
		}
		priceText = re
	}

	strategies := make([]Strategy, 0, len(order))
	for _, name := range order {
		switch name {
		case StrategyStructuredData:
			strategies = append(strategies, &StructuredData{})
		case StrategyEmbeddedScript:
			strategies = append(strategies, NewEmbeddedScript(opts.ScriptArrayKeys))
		case StrategyDOMPattern:
			strategies = append(strategies, NewDOMPattern(opts.DOM, priceText))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
		}
	}

	return NewChainOf(logger, strategies...), nil
}

// NewChainOf builds a chain from already constructed strategies
func NewChainOf(logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// Strategies returns the strategy names in run order
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run executes strategies until one yields a candidate. A page no strategy
// understands returns an empty Result, not an error.
func (c *Chain) Run(page *Page) Result {
	var res Result
	for _, s := range c.strategies {
		candidates, err := s.Extract(page)
		if err != nil {
			skipped := countJoined(err)
			res.Skipped += skipped
			c.logger.Debug("strategy skipped items",
				"strategy", s.Name(),
				"url", page.URL.String(),
				"skipped", skipped,
				"error", err)
		}
		if len(candidates) > 0 {
			res.Candidates = candidates
			res.Strategy = s.Name()
			return res
		}
	}
	return res
}

// countJoined counts the errors wrapped by errors.Join
func countJoined(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

// itemErrors accumulates per-item failures of one strategy run
type itemErrors []error

func (e *itemErrors) add(index int, err error) {
	*e = append(*e, fmt.Errorf("item %d: %w", index, err))
}

func (e itemErrors) err() error {
	return errors.Join(e...)
}
