package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/docutag/shopscraper/models"
)

// DefaultSearchLimit caps Search and SearchTitles when no limit is given
const DefaultSearchLimit = 10

const productColumns = "title, source_id, price, rating, link, category, crawled_at"

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.ProductRecord, error) {
	var (
		record         models.ProductRecord
		price, rating  sql.NullFloat64
		link, category sql.NullString
	)
	if err := row.Scan(&record.Title, &record.SourceID, &price, &rating, &link, &category, &record.CrawledAt); err != nil {
		return nil, err
	}
	if price.Valid {
		record.Price = &price.Float64
	}
	if rating.Valid {
		record.Rating = &rating.Float64
	}
	if link.Valid {
		record.Link = &link.String
	}
	if category.Valid {
		record.Category = &category.String
	}
	record.CrawledAt = record.CrawledAt.UTC()
	return &record, nil
}

// orderBy maps a sort order to SQL. Unpriced rows sort last either way.
func orderBy(sort models.SortOrder) string {
	switch sort {
	case models.SortPriceDesc:
		return "CASE WHEN price IS NULL THEN 1 ELSE 0 END, price DESC, title ASC"
	case models.SortNameAsc:
		return "title ASC, source_id ASC"
	case models.SortNameDesc:
		return "title DESC, source_id ASC"
	default:
		return "CASE WHEN price IS NULL THEN 1 ELSE 0 END, price ASC, title ASC"
	}
}

// likePattern builds a case-insensitive substring pattern, escaping LIKE
// metacharacters in s
func likePattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(s))
	return "%" + s + "%"
}

// QueryAll returns stored products matching filter in the given order.
// Offset only applies together with a positive Limit.
func (db *DB) QueryAll(ctx context.Context, filter models.ProductFilter, sort models.SortOrder) ([]models.ProductRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.Search != "" {
		where = append(where, `LOWER(title) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(filter.Search))
	}

	query := "SELECT " + productColumns + " FROM products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderBy(sort)
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	return db.queryProducts(ctx, db.rebind(query), args...)
}

// Search returns products whose title contains substr, ordered by title
func (db *DB) Search(ctx context.Context, substr string, limit int) ([]models.ProductRecord, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return db.QueryAll(ctx, models.ProductFilter{Search: substr, Limit: limit}, models.SortNameAsc)
}

// SearchTitles returns distinct titles containing substr, for autocomplete
func (db *DB) SearchTitles(ctx context.Context, substr string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := db.rebind(`SELECT DISTINCT title FROM products WHERE LOWER(title) LIKE ? ESCAPE '\' ORDER BY title LIMIT ?`)
	rows, err := db.conn.QueryContext(ctx, query, likePattern(substr), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search titles: %w", err)
	}
	defer rows.Close()

	titles := []string{}
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// Compare returns every seller's record for titles containing title,
// cheapest first
func (db *DB) Compare(ctx context.Context, title string) ([]models.ProductRecord, error) {
	return db.QueryAll(ctx, models.ProductFilter{Search: title}, models.SortPriceAsc)
}

// Categories returns the distinct resolved categories, excluding the
// unresolved sentinel
func (db *DB) Categories(ctx context.Context) ([]string, error) {
	query := db.rebind(`SELECT DISTINCT category FROM products WHERE category IS NOT NULL AND category <> ? ORDER BY category`)
	rows, err := db.conn.QueryContext(ctx, query, unknownCategory)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// unknownCategory mirrors category.Unknown without importing the resolver
const unknownCategory = "Unknown"

// Stats returns catalog totals
func (db *DB) Stats(ctx context.Context) (*models.Stats, error) {
	total, err := db.Count(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, "SELECT source_id, COUNT(*) FROM products GROUP BY source_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query source counts: %w", err)
	}
	bySource := make(map[string]int)
	for rows.Next() {
		var (
			source string
			count  int
		)
		if err := rows.Scan(&source, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		bySource[source] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate source counts: %w", err)
	}
	rows.Close()

	categories, err := db.Categories(ctx)
	if err != nil {
		return nil, err
	}

	return &models.Stats{
		TotalProducts: total,
		BySource:      bySource,
		Categories:    len(categories),
	}, nil
}

func (db *DB) queryProducts(ctx context.Context, query string, args ...any) ([]models.ProductRecord, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.ProductRecord{}
	for rows.Next() {
		record, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// StartRun records the start of a crawl run
func (db *DB) StartRun(ctx context.Context, run *models.CrawlRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = db.now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	query := db.rebind(`
		INSERT INTO crawl_runs (id, started_at, pages, stored, failed, dropped, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := db.conn.ExecContext(ctx, query, run.ID, run.StartedAt, run.Pages, run.Stored, run.Failed, run.Dropped, run.Status)
	if err != nil {
		return fmt.Errorf("failed to start crawl run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and status of a crawl run
func (db *DB) FinishRun(ctx context.Context, run *models.CrawlRun) error {
	finished := db.now().UTC()
	query := db.rebind(`
		UPDATE crawl_runs
		SET finished_at = ?, pages = ?, stored = ?, failed = ?, dropped = ?, status = ?
		WHERE id = ?
	`)
	result, err := db.conn.ExecContext(ctx, query, finished, run.Pages, run.Stored, run.Failed, run.Dropped, run.Status, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish crawl run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	run.FinishedAt = &finished
	return nil
}

// ListRuns returns the most recent crawl runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.CrawlRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := db.rebind(`
		SELECT id, started_at, finished_at, pages, stored, failed, dropped, status
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT ?
	`)
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl runs: %w", err)
	}
	defer rows.Close()

	runs := []models.CrawlRun{}
	for rows.Next() {
		var (
			run      models.CrawlRun
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &run.Pages, &run.Stored, &run.Failed, &run.Dropped, &run.Status); err != nil {
			return nil, fmt.Errorf("failed to scan crawl run: %w", err)
		}
		run.StartedAt = run.StartedAt.UTC()
		if finished.Valid {
			t := finished.Time.UTC()
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
