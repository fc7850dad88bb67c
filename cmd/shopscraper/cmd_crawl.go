package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docutag/shopscraper"
	"github.com/docutag/shopscraper/config"
	"github.com/docutag/shopscraper/metrics"
	"github.com/docutag/shopscraper/models"
	"github.com/docutag/shopscraper/storage"
)

var (
	crawlReplay  string
	crawlSources []string
	crawlPrune   bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl every configured source and store its products",
	Long: `Fetches the start URLs of every configured source, follows pagination until
each listing ends or reaches max_pages, and upserts the extracted products.

With --replay the archived pages under the given directory are processed
instead, without touching the network.`,
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().StringVar(&crawlReplay, "replay", "", "Process pages archived under this directory instead of fetching")
	crawlCmd.Flags().StringSliceVar(&crawlSources, "source", nil, "Only crawl these source ids")
	crawlCmd.Flags().BoolVar(&crawlPrune, "prune", false, "With --replay, delete pages once their products are stored")
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if err := selectSources(cfg, crawlSources); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := openDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	crawlMetrics := metrics.NewCrawlMetrics(nil, "shopscraper")
	engine, err := shopscraper.NewEngine(cfg.Sources, database, crawlMetrics, logger)
	if err != nil {
		return err
	}

	var archive storage.Archive
	if cfg.Archive.Enabled && crawlReplay == "" {
		archive, err = storage.Open(ctx, cfg.Archive.ArchiveConfig)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
	}

	crawler, err := shopscraper.NewCrawler(shopscraper.CrawlerConfig{
		Engine:  engine,
		Config:  cfg,
		Runs:    database,
		Archive: archive,
		Metrics: crawlMetrics,
		Logger:  logger,

		PruneReplayed: crawlPrune,
	})
	if err != nil {
		return err
	}

	run, err := crawlOrReplay(ctx, crawler)
	if run != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: %d pages, %d stored, %d failed, %d dropped\n",
			run.ID, run.Status, run.Pages, run.Stored, run.Failed, run.Dropped)
	}
	return err
}

func crawlOrReplay(ctx context.Context, crawler *shopscraper.Crawler) (*models.CrawlRun, error) {
	if crawlReplay == "" {
		return crawler.Run(ctx)
	}

	archive, err := storage.New(storage.Config{BasePath: crawlReplay})
	if err != nil {
		return nil, fmt.Errorf("failed to open replay directory: %w", err)
	}
	return crawler.Replay(ctx, archive)
}

// selectSources narrows cfg.Sources to ids
func selectSources(cfg *config.Config, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	selected := make([]config.SourceConfig, 0, len(ids))
	for _, id := range ids {
		src, ok := cfg.Source(id)
		if !ok {
			return fmt.Errorf("%w: %q", shopscraper.ErrUnknownSource, id)
		}
		selected = append(selected, src)
	}
	cfg.Sources = selected
	return nil
}
