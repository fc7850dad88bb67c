// Package config loads the crawler configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docutag/shopscraper/db"
	"github.com/docutag/shopscraper/extract"
	"github.com/docutag/shopscraper/paginate"
	"github.com/docutag/shopscraper/storage"
)

// Configuration validation errors.
var (
	ErrNoSources           = errors.New("at least one source is required")
	ErrMissingSourceID     = errors.New("source_id is required")
	ErrDuplicateSourceID   = errors.New("source_id must be unique")
	ErrNoStartURLs         = errors.New("start_urls must not be empty")
	ErrInvalidStartURL     = errors.New("start_urls entries must be absolute http(s) URLs")
	ErrInvalidStrategy     = errors.New("strategy_order contains an unknown strategy")
	ErrInvalidPagination   = errors.New("pagination_mode must be one of: link, offset, none")
	ErrInvalidOffsetStep   = errors.New("offset_step must be positive")
	ErrInvalidMaxPages     = errors.New("max_pages must be non-negative")
	ErrInvalidPricePattern = errors.New("price_text_pattern is invalid regex")
	ErrInvalidDriver       = errors.New("database.driver must be one of: postgres, pgx, sqlite")
	ErrMissingDSN          = errors.New("database.dsn or database.host is required")
	ErrInvalidConcurrency  = errors.New("crawl.concurrency must be at least 1")
	ErrInvalidLogLevel     = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidArchive      = errors.New("archive.backend must be 'fs' or 's3'")
)

// Config represents the complete crawler configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Crawl    CrawlConfig    `yaml:"crawl"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Sources  []SourceConfig `yaml:"sources"`
}

// DatabaseConfig selects the store. DSN wins over the host fields.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	Path         string `yaml:"path"` // sqlite database file when DSN is empty
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ArchiveConfig enables the raw page archive
type ArchiveConfig struct {
	Enabled               bool `yaml:"enabled"`
	storage.ArchiveConfig `yaml:",inline"`
}

// CrawlConfig holds fetch-layer settings shared by all sources.
type CrawlConfig struct {
	Concurrency  int           `yaml:"concurrency"` // Sources crawled in parallel
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	RequestDelay time.Duration `yaml:"request_delay"` // Default per-source delay between requests
	MaxPages     int           `yaml:"max_pages"`     // Default per-source page cap, 0 = unlimited
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// ServerConfig configures the read-only API.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	CORSEnabled bool   `yaml:"cors_enabled"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// SourceConfig describes one retailer.
type SourceConfig struct {
	SourceID              string               `yaml:"source_id"`
	StartURLs             []string             `yaml:"start_urls"`
	AllowedDomains        []string             `yaml:"allowed_domains"`
	StrategyOrder         []string             `yaml:"strategy_order"`
	PaginationMode        string               `yaml:"pagination_mode"`
	OffsetParam           string               `yaml:"offset_param"`
	OffsetStep            int                  `yaml:"offset_step"`
	MaxPages              int                  `yaml:"max_pages"`
	RequestDelay          time.Duration        `yaml:"request_delay"`
	DOMSelectors          extract.DOMSelectors `yaml:"dom_selectors"`
	NextSelectors         []string             `yaml:"next_selectors"`
	BreadcrumbSelectors   []string             `yaml:"breadcrumb_selectors"`
	HeadingSelectors      []string             `yaml:"heading_selectors"`
	GenericCategoryLabels []string             `yaml:"generic_category_labels"`
	ScriptArrayKeys       []string             `yaml:"script_array_keys"`
	PriceTextPattern      string               `yaml:"price_text_pattern"`
}

// Default returns a configuration with every optional field filled in.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: db.DriverSQLite,
			Path:   "shopscraper.db",
			Port:   "5432",
		},
		Archive: ArchiveConfig{
			ArchiveConfig: storage.ArchiveConfig{
				Backend: storage.BackendFS,
				Path:    storage.DefaultConfig().BasePath,
			},
		},
		Crawl: CrawlConfig{
			Concurrency:  2,
			UserAgent:    "Mozilla/5.0 (compatible; ShopScraper/1.0)",
			Timeout:      30 * time.Second,
			RequestDelay: time.Second,
			MaxPages:     50,
			MaxBodyBytes: 10 * 1024 * 1024,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			CORSEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over Default(), applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ApplyEnv overrides file settings from the environment
func (c *Config) ApplyEnv() {
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_DSN", c.Database.DSN)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Archive.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.Archive.S3.AccessKeyID)
	c.Archive.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.Archive.S3.SecretAccessKey)

	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	if n, err := strconv.Atoi(os.Getenv("CRAWL_CONCURRENCY")); err == nil {
		c.Crawl.Concurrency = n
	}
}

// Validate validates the configuration. Sources are optional here so read
// paths such as serve and migrate need no crawl setup; crawl callers use
// ValidateSources as well.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", db.DriverPostgres, db.DriverPgx:
		if c.Database.DSN == "" && c.Database.Host == "" {
			return ErrMissingDSN
		}
	case db.DriverSQLite:
		if c.Database.DSN == "" && c.Database.Path == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Database.Driver)
	}

	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "", storage.BackendFS, storage.BackendS3:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidArchive, c.Archive.Backend)
		}
	}

	if c.Crawl.Concurrency < 1 {
		return ErrInvalidConcurrency
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return ErrInvalidLogLevel
	}

	seen := make(map[string]bool)
	for i, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source[%d]: %w", i, err)
		}
		if seen[src.SourceID] {
			return fmt.Errorf("%w: %q", ErrDuplicateSourceID, src.SourceID)
		}
		seen[src.SourceID] = true
	}

	return nil
}

// ValidateSources requires at least one source
func (c *Config) ValidateSources() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}
	return nil
}

// Validate checks one source definition
func (s *SourceConfig) Validate() error {
	if strings.TrimSpace(s.SourceID) == "" {
		return ErrMissingSourceID
	}
	if len(s.StartURLs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoStartURLs, s.SourceID)
	}
	for _, raw := range s.StartURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidStartURL, raw)
		}
	}

	for _, name := range s.StrategyOrder {
		switch name {
		case extract.StrategyStructuredData, extract.StrategyEmbeddedScript, extract.StrategyDOMPattern:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidStrategy, name)
		}
	}

	switch s.PaginationMode {
	case "", paginate.ModeLink, paginate.ModeOffset, paginate.ModeNone:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPagination, s.PaginationMode)
	}
	if s.OffsetStep < 0 {
		return ErrInvalidOffsetStep
	}
	if s.MaxPages < 0 {
		return ErrInvalidMaxPages
	}

	if s.PriceTextPattern != "" {
		if _, err := regexp.Compile(s.PriceTextPattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPricePattern, err)
		}
	}

	return nil
}

// DBConfig returns the store configuration
func (d DatabaseConfig) DBConfig() db.Config {
	cfg := db.Config{Driver: d.Driver, DSN: d.DSN, MaxOpenConns: d.MaxOpenConns}
	if cfg.DSN != "" {
		return cfg
	}

	if d.Driver == db.DriverSQLite {
		cfg.DSN = db.SQLiteDSN(d.Path)
		return cfg
	}

	cfg.DSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
	return cfg
}

// Source returns the source with the given id
func (c *Config) Source(id string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.SourceID == id {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// EffectiveMaxPages returns the source cap, falling back to the crawl default
func (c *Config) EffectiveMaxPages(src SourceConfig) int {
	if src.MaxPages > 0 {
		return src.MaxPages
	}
	return c.Crawl.MaxPages
}

// EffectiveRequestDelay returns the source delay, falling back to the crawl default
func (c *Config) EffectiveRequestDelay(src SourceConfig) time.Duration {
	if src.RequestDelay > 0 {
		return src.RequestDelay
	}
	return c.Crawl.RequestDelay
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Sources: %d, Driver: %s, Concurrency: %d}",
		len(c.Sources),
		c.Database.Driver,
		c.Crawl.Concurrency,
	)
}
