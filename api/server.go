package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/shopscraper/models"
)

// minSearchLength is the shortest autocomplete query answered
const minSearchLength = 2

// Catalog is the read side of the product store
type Catalog interface {
	QueryAll(ctx context.Context, filter models.ProductFilter, sort models.SortOrder) ([]models.ProductRecord, error)
	SearchTitles(ctx context.Context, substr string, limit int) ([]string, error)
	Compare(ctx context.Context, title string) ([]models.ProductRecord, error)
	Categories(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Count(ctx context.Context) (int, error)
	ListRuns(ctx context.Context, limit int) ([]models.CrawlRun, error)
}

// Server represents the API server
type Server struct {
	catalog     Catalog
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
}

// Config contains server configuration
type Config struct {
	Addr        string
	CORSEnabled bool
	Gatherer    prometheus.Gatherer // Source of /metrics, nil means the default registry
	Logger      *slog.Logger
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		CORSEnabled: true,
	}
}

// NewServer creates a new API server over catalog
func NewServer(config Config, catalog Catalog) *Server {
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		catalog:     catalog,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
		gatherer:    config.Gatherer,
		logger:      config.Logger,
	}

	// Register routes
	s.registerRoutes()

	// Create HTTP server
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/products", s.handleProducts)
	s.mux.HandleFunc("/api/search", s.handleSearch)
	s.mux.HandleFunc("/api/compare", s.handleCompare)
	s.mux.HandleFunc("/api/categories", s.handleCategories)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the instrumented root handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.middleware(s.mux), "shopscraper-api")
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Logging (skip health checks and scrapes to reduce noise)
		start := time.Now()
		next.ServeHTTP(w, r)

		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			s.logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
			)
		}
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, err := s.catalog.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get count")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"count":  count,
		"time":   time.Now(),
	})
}

// handleProducts lists products with optional filters and ordering
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))

	filter := models.ProductFilter{
		Category: q.Get("category"),
		SourceID: q.Get("source"),
		Search:   q.Get("search"),
		Limit:    limit,
		Offset:   offset,
	}
	// The listing page sends "all" for no category filter
	if filter.Category == "all" {
		filter.Category = ""
	}
	sort := models.ParseSortOrder(q.Get("sort"))

	products, err := s.catalog.QueryAll(r.Context(), filter, sort)
	if err != nil {
		s.logger.Error("failed to query products", "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":   products,
		"sort":   sort,
		"limit":  limit,
		"offset": offset,
	})
}

// handleSearch answers title autocomplete. Short queries get an empty list.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query().Get("q")
	if len([]rune(query)) < minSearchLength {
		respondJSON(w, http.StatusOK, []string{})
		return
	}

	titles, err := s.catalog.SearchTitles(r.Context(), query, 0)
	if err != nil {
		s.logger.Error("failed to search titles", "query", query, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, titles)
}

// handleCompare returns every seller of a title, cheapest first
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	title := r.URL.Query().Get("title")
	if title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	sellers, err := s.catalog.Compare(r.Context(), title)
	if err != nil {
		s.logger.Error("failed to compare product", "title", title, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"title":   title,
		"sellers": sellers,
		"count":   len(sellers),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	categories, err := s.catalog.Categories(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.catalog.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleRuns lists recent crawl runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit, _ := pagination(r.URL.Query().Get("limit"), "")
	runs, err := s.catalog.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// pagination parses limit and offset, enforcing reasonable limits
func pagination(limitStr, offsetStr string) (int, int) {
	limit := 20
	offset := 0

	if n, err := strconv.Atoi(limitStr); err == nil {
		limit = n
	}
	if n, err := strconv.Atoi(offsetStr); err == nil {
		offset = n
	}

	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
