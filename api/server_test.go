package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docutag/shopscraper/db"
	"github.com/docutag/shopscraper/models"
)

func ptr[T any](v T) *T { return &v }

func setupTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()

	database, err := db.New(context.Background(), db.Config{
		Driver: db.DriverSQLite,
		DSN:    db.SQLiteDSN(filepath.Join(t.TempDir(), "test.db")),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	seed := []models.ProductRecord{
		{Title: "Phone X", SourceID: "alza", Price: ptr(499.90), Category: ptr("Telefony")},
		{Title: "Phone X", SourceID: "expert", Price: ptr(449.90), Category: ptr("Telefony")},
		{Title: "Phone Y", SourceID: "alza", Price: ptr(599.90), Category: ptr("Telefony")},
		{Title: "LG OLED55C3", SourceID: "expert", Price: ptr(29990.0), Category: ptr("OLED televize")},
		{Title: "Mystery Box", SourceID: "alza", Category: ptr("Unknown")},
	}
	for i := range seed {
		if err := database.Upsert(context.Background(), &seed[i]); err != nil {
			t.Fatalf("Failed to seed product: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	server := NewServer(Config{Addr: ":0", Gatherer: reg}, database)
	return server, database
}

func get(t *testing.T, server *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	w := get(t, server, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", resp["status"])
	}
	if resp["count"] != float64(5) {
		t.Errorf("Expected count 5, got %v", resp["count"])
	}
}

func TestHandleProducts(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		name       string
		query      string
		wantTitles []string
		wantLimit  int
	}{
		{
			name:       "default sort is cheapest first",
			query:      "",
			wantTitles: []string{"Phone X", "Phone X", "Phone Y", "LG OLED55C3", "Mystery Box"},
			wantLimit:  20,
		},
		{
			name:       "category filter",
			query:      "?category=OLED%20televize",
			wantTitles: []string{"LG OLED55C3"},
			wantLimit:  20,
		},
		{
			name:       "all categories",
			query:      "?category=all&source=expert",
			wantTitles: []string{"Phone X", "LG OLED55C3"},
			wantLimit:  20,
		},
		{
			name:       "search with name sort",
			query:      "?search=phone&sort=name_desc",
			wantTitles: []string{"Phone Y", "Phone X", "Phone X"},
			wantLimit:  20,
		},
		{
			name:       "limit capped",
			query:      "?limit=500&offset=4",
			wantTitles: []string{"Mystery Box"},
			wantLimit:  100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, server, "/api/products"+tt.query)
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
			}

			var resp struct {
				Data  []models.ProductRecord `json:"data"`
				Limit int                    `json:"limit"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if resp.Limit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, resp.Limit)
			}
			if len(resp.Data) != len(tt.wantTitles) {
				t.Fatalf("Expected %d products, got %d", len(tt.wantTitles), len(resp.Data))
			}
			for i, want := range tt.wantTitles {
				if resp.Data[i].Title != want {
					t.Errorf("Product %d: expected %q, got %q", i, want, resp.Data[i].Title)
				}
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "empty query", query: "", want: []string{}},
		{name: "single character", query: "p", want: []string{}},
		{name: "distinct titles", query: "phone", want: []string{"Phone X", "Phone Y"}},
		{name: "no match", query: "zzz", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, server, "/api/search?q="+tt.query)
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}

			var got []string
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if got == nil {
				t.Fatal("Expected a JSON list, got null")
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHandleCompare(t *testing.T) {
	server, _ := setupTestServer(t)

	w := get(t, server, "/api/compare?title=Phone%20X")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		Sellers []models.ProductRecord `json:"sellers"`
		Count   int                    `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("Expected 2 sellers, got %d", resp.Count)
	}
	if resp.Sellers[0].SourceID != "expert" {
		t.Errorf("Expected cheapest seller expert first, got %s", resp.Sellers[0].SourceID)
	}

	w = get(t, server, "/api/compare")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without title, got %d", w.Code)
	}
}

func TestHandleCategoriesAndStats(t *testing.T) {
	server, _ := setupTestServer(t)

	w := get(t, server, "/api/categories")
	var categories []string
	if err := json.NewDecoder(w.Body).Decode(&categories); err != nil {
		t.Fatalf("Failed to decode categories: %v", err)
	}
	if strings.Join(categories, "|") != "OLED televize|Telefony" {
		t.Errorf("Unexpected categories %v", categories)
	}

	w = get(t, server, "/api/stats")
	var stats models.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.TotalProducts != 5 {
		t.Errorf("Expected 5 products, got %d", stats.TotalProducts)
	}
	if stats.BySource["alza"] != 3 || stats.BySource["expert"] != 2 {
		t.Errorf("Unexpected source counts %v", stats.BySource)
	}
	if stats.Categories != 2 {
		t.Errorf("Expected 2 categories, got %d", stats.Categories)
	}
}

func TestHandleRuns(t *testing.T) {
	server, database := setupTestServer(t)

	run := &models.CrawlRun{ID: "run-1", Status: models.RunStatusRunning}
	if err := database.StartRun(context.Background(), run); err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	w := get(t, server, "/api/runs?limit=5")
	var runs []models.CrawlRun
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("Failed to decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("Unexpected runs %v", runs)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, path := range []string{"/health", "/api/products", "/api/search", "/api/compare", "/api/categories", "/api/stats", "/api/runs"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status 405, got %d", path, w.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	catalog := &failingCatalog{}

	enabled := NewServer(Config{CORSEnabled: true, Gatherer: prometheus.NewRegistry()}, catalog)
	req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	w := httptest.NewRecorder()
	enabled.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected preflight status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header when enabled")
	}

	disabled := NewServer(Config{Gatherer: prometheus.NewRegistry()}, catalog)
	w = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil))
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Expected no CORS header when disabled")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "shopscraper_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	server := NewServer(Config{Gatherer: reg}, &failingCatalog{})
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "shopscraper_test_total 1") {
		t.Errorf("Expected counter in metrics output, got %s", w.Body.String())
	}
}

// failingCatalog fails every read
type failingCatalog struct{}

var errCatalog = errors.New("catalog unavailable")

func (failingCatalog) QueryAll(context.Context, models.ProductFilter, models.SortOrder) ([]models.ProductRecord, error) {
	return nil, errCatalog
}
func (failingCatalog) SearchTitles(context.Context, string, int) ([]string, error) {
	return nil, errCatalog
}
func (failingCatalog) Compare(context.Context, string) ([]models.ProductRecord, error) {
	return nil, errCatalog
}
func (failingCatalog) Categories(context.Context) ([]string, error) { return nil, errCatalog }
func (failingCatalog) Stats(context.Context) (*models.Stats, error) { return nil, errCatalog }
func (failingCatalog) Count(context.Context) (int, error)           { return 0, errCatalog }
func (failingCatalog) ListRuns(context.Context, int) ([]models.CrawlRun, error) {
	return nil, errCatalog
}

func TestCatalogFailures(t *testing.T) {
	server := NewServer(Config{Gatherer: prometheus.NewRegistry()}, failingCatalog{})

	for _, target := range []string{"/health", "/api/products", "/api/search?q=phone", "/api/compare?title=x", "/api/categories", "/api/stats", "/api/runs"} {
		w := get(t, server, target)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s: expected status 500, got %d", target, w.Code)
		}
	}
}
