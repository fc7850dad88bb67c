package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/docutag/shopscraper/api"
	"github.com/docutag/shopscraper/db"
	"github.com/docutag/shopscraper/metrics"
)

const dbStatsInterval = 15 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stored catalog as a read-only JSON API",
	Long: `Starts the HTTP API over the product store. Endpoints:

  GET /health            store health and product count
  GET /api/products      list with category, source, search, sort, limit, offset
  GET /api/search?q=     title autocomplete
  GET /api/compare?title=  every seller of a title, cheapest first
  GET /api/categories    distinct categories
  GET /api/stats         totals per source
  GET /api/runs          recent crawl runs
  GET /metrics           Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.addr")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	database, err := openDB(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	// Initialize database metrics
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	dbMetrics := metrics.NewDatabaseMetrics(prometheus.DefaultRegisterer, "shopscraper")
	go updateDBMetrics(ctx, database, dbMetrics, logger)

	server := api.NewServer(api.Config{
		Addr:        cfg.Server.Addr,
		CORSEnabled: cfg.Server.CORSEnabled,
		Gatherer:    prometheus.DefaultGatherer,
		Logger:      logger,
	}, database)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		return nil
	case <-quit:
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// updateDBMetrics refreshes the pool and row count gauges until ctx ends
func updateDBMetrics(ctx context.Context, database *db.DB, m *metrics.DatabaseMetrics, logger *slog.Logger) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()

	for {
		m.UpdateDBStats(database.Driver(), database.DB())
		if n, err := database.Count(ctx); err == nil {
			m.SetProducts(n)
		} else if ctx.Err() == nil {
			logger.Warn("failed to count products", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
