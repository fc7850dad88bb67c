package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (pgx)
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/docutag/shopscraper/models"
)

// Supported database/sql driver names
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

var (
	// ErrUnsupportedDriver is returned for a driver other than the supported ones
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	// ErrInvalidRecord is returned when a record lacks its identity fields
	ErrInvalidRecord = errors.New("record requires title and source id")
	// ErrRunNotFound is returned when finishing an unknown crawl run
	ErrRunNotFound = errors.New("crawl run not found")
)

// DB wraps the database connection and provides data access methods.
// All methods are safe for concurrent use.
type DB struct {
	conn   *sql.DB
	driver string
	now    func() time.Time
}

// Config contains database configuration
type Config struct {
	Driver       string // postgres, pgx or sqlite
	DSN          string
	MaxOpenConns int
}

// New opens the database and runs pending migrations
func New(ctx context.Context, config Config) (*DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	switch driver {
	case DriverPostgres, DriverPgx, DriverSQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	conn, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	if driver == DriverSQLite {
		// One writer at a time; busy_timeout in the DSN covers other processes
		conn.SetMaxOpenConns(1)
	} else {
		maxOpen := config.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 25
		}
		conn.SetMaxOpenConns(maxOpen)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{conn: conn, driver: driver, now: time.Now}

	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// SQLiteDSN builds a modernc.org/sqlite DSN for a database file
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// Driver returns the driver name in use
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites ? placeholders into $N for the PostgreSQL drivers.
// Queries never carry literal question marks.
func (db *DB) rebind(query string) string {
	if db.driver == DriverSQLite {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Upsert stores record as the single row for its (title, source id) key.
// An existing row is replaced in full: fields absent in record become NULL.
// CrawledAt is set to the write time on success.
func (db *DB) Upsert(ctx context.Context, record *models.ProductRecord) error {
	if record == nil || record.Title == "" || record.SourceID == "" {
		return ErrInvalidRecord
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	crawledAt := db.now().UTC()
	query := db.rebind(`
		INSERT INTO products (title, source_id, price, rating, link, category, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (title, source_id) DO UPDATE SET
			price = excluded.price,
			rating = excluded.rating,
			link = excluded.link,
			category = excluded.category,
			crawled_at = excluded.crawled_at
	`)

	_, err = tx.ExecContext(ctx, query,
		record.Title,
		record.SourceID,
		nullFloat(record.Price),
		nullFloat(record.Rating),
		nullString(record.Link),
		nullString(record.Category),
		crawledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	record.CrawledAt = crawledAt
	return nil
}

// Get returns the stored record for a key, or nil if none exists
func (db *DB) Get(ctx context.Context, title, sourceID string) (*models.ProductRecord, error) {
	query := db.rebind(`SELECT ` + productColumns + ` FROM products WHERE title = ? AND source_id = ?`)

	record, err := scanProduct(db.conn.QueryRowContext(ctx, query, title, sourceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return record, nil
}

// Delete removes a stored record, reporting whether one existed
func (db *DB) Delete(ctx context.Context, title, sourceID string) (bool, error) {
	result, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM products WHERE title = ? AND source_id = ?`), title, sourceID)
	if err != nil {
		return false, fmt.Errorf("failed to delete product: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of stored products
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
