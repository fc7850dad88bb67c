// Package metrics exposes Prometheus collectors for crawls and the store.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upsert outcomes
const (
	OutcomeStored = "stored"
	OutcomeFailed = "failed"
)

// CrawlMetrics counts pages and records flowing through the engine
type CrawlMetrics struct {
	Pages      *prometheus.CounterVec
	FetchError *prometheus.CounterVec
	Candidates *prometheus.CounterVec
	Dropped    *prometheus.CounterVec
	Skipped    *prometheus.CounterVec
	Upserts    *prometheus.CounterVec
	PageTime   *prometheus.HistogramVec
}

// NewCrawlMetrics registers crawl collectors with reg under namespace.
// A nil reg uses the default registerer.
func NewCrawlMetrics(reg prometheus.Registerer, namespace string) *CrawlMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &CrawlMetrics{
		Pages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_processed_total",
			Help:      "Pages run through the extraction chain",
		}, []string{"source", "strategy"}),
		FetchError: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_fetch_errors_total",
			Help:      "Pages that could not be fetched or parsed",
		}, []string{"source"}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidate records produced by a strategy",
		}, []string{"source", "strategy"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_dropped_total",
			Help:      "Candidates discarded for lacking a usable title",
		}, []string{"source"}),
		Skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Items a strategy failed to parse",
		}, []string{"source"}),
		Upserts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upserts_total",
			Help:      "Store writes by outcome",
		}, []string{"source", "outcome"}),
		PageTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_processing_seconds",
			Help:      "Time spent extracting and storing one page",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
	}
}

// DatabaseMetrics mirrors sql.DBStats as gauges
type DatabaseMetrics struct {
	openConnections *prometheus.GaugeVec
	inUse           *prometheus.GaugeVec
	idle            *prometheus.GaugeVec
	waitCount       *prometheus.GaugeVec
	products        prometheus.Gauge
}

// NewDatabaseMetrics registers connection pool gauges with reg
func NewDatabaseMetrics(reg prometheus.Registerer, namespace string) *DatabaseMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, []string{"driver"})
	}

	return &DatabaseMetrics{
		openConnections: gauge("open_connections", "Established connections, in use and idle"),
		inUse:           gauge("in_use_connections", "Connections currently in use"),
		idle:            gauge("idle_connections", "Idle connections"),
		waitCount:       gauge("wait_count", "Connections waited for"),
		products: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "products_stored",
			Help:      "Rows in the products table",
		}),
	}
}

// UpdateDBStats copies the pool statistics of conn into the gauges
func (m *DatabaseMetrics) UpdateDBStats(driver string, conn *sql.DB) {
	stats := conn.Stats()
	m.openConnections.WithLabelValues(driver).Set(float64(stats.OpenConnections))
	m.inUse.WithLabelValues(driver).Set(float64(stats.InUse))
	m.idle.WithLabelValues(driver).Set(float64(stats.Idle))
	m.waitCount.WithLabelValues(driver).Set(float64(stats.WaitCount))
}

// SetProducts records the current product row count
func (m *DatabaseMetrics) SetProducts(n int) {
	m.products.Set(float64(n))
}
