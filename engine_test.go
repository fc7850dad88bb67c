package shopscraper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/shopscraper/config"
	"github.com/docutag/shopscraper/db"
	"github.com/docutag/shopscraper/metrics"
	"github.com/docutag/shopscraper/models"
)

// memStore is an in-memory Store keyed like the database
type memStore struct {
	mu      sync.Mutex
	records map[[2]string]models.ProductRecord
	failOn  string // Title whose upsert fails
}

func newMemStore() *memStore {
	return &memStore{records: make(map[[2]string]models.ProductRecord)}
}

func (m *memStore) Upsert(_ context.Context, record *models.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.Title == m.failOn {
		return errors.New("storage unavailable")
	}
	record.CrawledAt = time.Now().UTC()
	m.records[[2]string{record.Title, record.SourceID}] = *record
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func siteSource(id string) config.SourceConfig {
	return config.SourceConfig{
		SourceID:  id,
		StartURLs: []string{"https://site.test/cat"},
	}
}

func newTestEngine(t *testing.T, store Store, sources ...config.SourceConfig) *Engine {
	t.Helper()
	if len(sources) == 0 {
		sources = []config.SourceConfig{siteSource("siteA")}
	}
	e, err := NewEngine(sources, store, nil, nil)
	require.NoError(t, err)
	return e
}

func jsonLDPage(body string) []byte {
	return []byte(`<html><head><script type="application/ld+json">` + body + `</script></head><body></body></html>`)
}

func TestProcessPageStructuredData(t *testing.T) {
	e := newTestEngine(t, nil)

	result, err := e.ProcessPage(models.RawPage{
		URL:      "https://site.test/cat",
		SourceID: "siteA",
		Content:  jsonLDPage(`{"@type":"Product","name":"Phone X","offers":{"price":"499.90"},"url":"/p/1"}`),
	})
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "Phone X", rec.Title)
	assert.Equal(t, "siteA", rec.SourceID)
	require.NotNil(t, rec.Price)
	assert.InDelta(t, 499.90, *rec.Price, 1e-9)
	require.NotNil(t, rec.Link)
	assert.Equal(t, "https://site.test/p/1", *rec.Link)
	require.NotNil(t, rec.Category)
	assert.Equal(t, "Cat", *rec.Category)
	assert.Nil(t, rec.Rating)

	assert.Equal(t, "structured_data", result.Strategy)
	assert.False(t, result.Pagination.HasNext)
}

func TestProcessPageNoProductsStillPaginates(t *testing.T) {
	e := newTestEngine(t, nil)

	result, err := e.ProcessPage(models.RawPage{
		URL:      "https://site.test/cat",
		SourceID: "siteA",
		Content:  []byte(`<html><body><p>Nothing here</p><a class="next" href="/cat?page=2">Next</a></body></html>`),
	})
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	assert.Equal(t, 0, result.Candidates)
	assert.Empty(t, result.Strategy)
	assert.Equal(t, models.PaginationDecision{HasNext: true, NextURL: "https://site.test/cat?page=2"}, result.Pagination)
}

func TestProcessPageOffsetTermination(t *testing.T) {
	src := siteSource("siteA")
	src.PaginationMode = "offset"
	src.OffsetStep = 24
	e := newTestEngine(t, nil, src)

	withProducts, err := e.ProcessPage(models.RawPage{
		URL:      "https://site.test/cat?offset=24",
		SourceID: "siteA",
		Content:  jsonLDPage(`{"@type":"Product","name":"Phone X","offers":{"price":"1"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaginationDecision{HasNext: true, NextURL: "https://site.test/cat?offset=48"}, withProducts.Pagination)

	empty, err := e.ProcessPage(models.RawPage{
		URL:      "https://site.test/cat?offset=48",
		SourceID: "siteA",
		Content:  []byte(`<html><body><div class="empty">Žádné produkty</div></body></html>`),
	})
	require.NoError(t, err)
	assert.Empty(t, empty.Records)
	assert.Equal(t, models.NoNext, empty.Pagination)
}

func TestProcessPageShortTitlesNeverStored(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store)

	content := []byte(`<html><body>
		<div class="product"><h3>   </h3><span class="price">10 Kč</span></div>
		<div class="product"><h3> ab </h3><span class="price">20 Kč</span></div>
		<div class="product"><h3>  Good   Product </h3><span class="price">1 234,50 Kč</span></div>
	</body></html>`)

	result, err := e.Ingest(context.Background(), models.RawPage{URL: "https://site.test/cat", SourceID: "siteA", Content: content})
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "Good Product", result.Records[0].Title)
	require.NotNil(t, result.Records[0].Price)
	assert.InDelta(t, 1234.50, *result.Records[0].Price, 1e-9)
	assert.Equal(t, 2, result.Dropped+result.Skipped)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, store.len())
}

func TestProcessPageCategoryFromBreadcrumbs(t *testing.T) {
	src := siteSource("expert")
	src.StartURLs = []string{"https://www.expert.cz/televize"}
	e := newTestEngine(t, nil, src)

	content := []byte(`<html><body>
		<div class="breadcrumbs"><a href="/">Domů</a><a href="/tv">Televize</a><a href="/tv/oled">OLED televize</a></div>
		<h1>Televize LG</h1>
		<div class="product"><h3>LG OLED55C3</h3><span class="price">29 990 Kč</span></div>
		<div class="product" data-impression-category="Elektronika > TV > Xiaomi TV"><h3>Xiaomi TV A2</h3></div>
	</body></html>`)

	result, err := e.ProcessPage(models.RawPage{URL: "https://www.expert.cz/televize", SourceID: "expert", Content: content})
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "OLED televize", *result.Records[0].Category)
	assert.Equal(t, "Xiaomi TV", *result.Records[1].Category)
}

func TestProcessPageUnknownSource(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.ProcessPage(models.RawPage{URL: "https://site.test/cat", SourceID: "siteB"})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestProcessPageInvalidURL(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.ProcessPage(models.RawPage{URL: "ftp://site.test/cat", SourceID: "siteA"})
	assert.Error(t, err)
}

func TestNewEngineInvalidSource(t *testing.T) {
	src := siteSource("siteA")
	src.StrategyOrder = []string{"api"}
	_, err := NewEngine([]config.SourceConfig{src}, nil, nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalidStrategy)

	src = siteSource("siteA")
	src.PaginationMode = "scroll"
	_, err = NewEngine([]config.SourceConfig{src}, nil, nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalidPagination)
}

func TestEngineSources(t *testing.T) {
	e := newTestEngine(t, nil, siteSource("zeta"), siteSource("alpha"))
	assert.Equal(t, []string{"alpha", "zeta"}, e.Sources())
}

func TestIngestContinuesAfterStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failOn = "Phone X"
	e := newTestEngine(t, store)

	content := jsonLDPage(`[
		{"@type":"Product","name":"Phone X","offers":{"price":"499.90"}},
		{"@type":"Product","name":"Phone Y","offers":{"price":"599.90"}}
	]`)
	result, err := e.Ingest(context.Background(), models.RawPage{URL: "https://site.test/cat", SourceID: "siteA", Content: content})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, store.len())
}

func TestIngestWithoutStore(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Ingest(context.Background(), models.RawPage{URL: "https://site.test/cat", SourceID: "siteA"})
	assert.Error(t, err)
}

func TestIngestReplacesAcrossPages(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Driver: db.DriverSQLite,
		DSN:    db.SQLiteDSN(filepath.Join(t.TempDir(), "engine.db")),
	})
	require.NoError(t, err)
	defer database.Close()

	e := newTestEngine(t, database)

	for _, price := range []string{"499.90", "449.90"} {
		_, err := e.Ingest(ctx, models.RawPage{
			URL:      "https://site.test/cat",
			SourceID: "siteA",
			Content:  jsonLDPage(`{"@type":"Product","name":"Phone X","offers":{"price":"` + price + `"}}`),
		})
		require.NoError(t, err)
	}

	count, err := database.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := database.Get(ctx, "Phone X", "siteA")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.Price)
	assert.InDelta(t, 449.90, *stored.Price, 1e-9)
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCrawlMetrics(reg, "test")
	e, err := NewEngine([]config.SourceConfig{siteSource("siteA")}, newMemStore(), m, nil)
	require.NoError(t, err)

	_, err = e.Ingest(context.Background(), models.RawPage{
		URL:      "https://site.test/cat",
		SourceID: "siteA",
		Content:  jsonLDPage(`{"@type":"Product","name":"Phone X"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pages.WithLabelValues("siteA", "structured_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Upserts.WithLabelValues("siteA", metrics.OutcomeStored)))
}

func TestIngestEmbeddedScriptKeepsProductsOfOneBrandApart(t *testing.T) {
	store := newMemStore()
	src := siteSource("siteA")
	src.StrategyOrder = []string{"embedded_script"}
	e := newTestEngine(t, store, src)

	content := []byte(`<html><body><script>var state = {"products":[` +
		`{"id":1,"brand":{"name":"Samsung"},"name":"Galaxy S24","price":19990},` +
		`{"id":2,"brand":{"name":"Samsung"},"name":"Galaxy A55","price":8990}]};</script></body></html>`)

	result, err := e.Ingest(context.Background(), models.RawPage{URL: "https://site.test/cat", SourceID: "siteA", Content: content})
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, "Galaxy S24", result.Records[0].Title)
	assert.InDelta(t, 19990.0, *result.Records[0].Price, 1e-9)
	assert.Equal(t, "Galaxy A55", result.Records[1].Title)
	assert.InDelta(t, 8990.0, *result.Records[1].Price, 1e-9)
	assert.Equal(t, 2, store.len())
}
