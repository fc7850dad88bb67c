package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docutag/shopscraper/config"
	"github.com/docutag/shopscraper/db"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shopscraper",
	Short: "Crawl retailer listings into a product price catalog",
	Long: `shopscraper crawls product listing pages of configured retailers, extracts
title, price, rating, link and category of each product, and keeps one row
per product per retailer. The stored catalog can be listed or served as JSON.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SHOPSCRAPER_CONFIG"), "Path to the YAML configuration file")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the default logger
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger builds a slog logger writing to w in the configured format
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openDB opens the configured store, running pending migrations
func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*db.DB, error) {
	database, err := db.New(ctx, cfg.Database.DBConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", "driver", database.Driver())
	return database, nil
}
