package db

// Schema migrations. DDL sticks to types both PostgreSQL and SQLite accept.
var schemaMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_products_table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS products (
				title TEXT NOT NULL,
				source_id TEXT NOT NULL,
				price DOUBLE PRECISION,
				rating DOUBLE PRECISION,
				link TEXT,
				category TEXT,
				crawled_at TIMESTAMP NOT NULL,
				PRIMARY KEY (title, source_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_products_source_id ON products(source_id)`,
			`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_products_category`,
			`DROP INDEX IF EXISTS idx_products_source_id`,
			`DROP TABLE IF EXISTS products`,
		},
	},
	{
		Version: 2,
		Name:    "create_crawl_runs_table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS crawl_runs (
				id TEXT PRIMARY KEY,
				started_at TIMESTAMP NOT NULL,
				finished_at TIMESTAMP,
				pages INTEGER NOT NULL DEFAULT 0,
				stored INTEGER NOT NULL DEFAULT 0,
				failed INTEGER NOT NULL DEFAULT 0,
				dropped INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_crawl_runs_started_at ON crawl_runs(started_at)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_crawl_runs_started_at`,
			`DROP TABLE IF EXISTS crawl_runs`,
		},
	},
	{
		Version: 3,
		Name:    "add_products_price_index",
		Up: []string{
			`CREATE INDEX IF NOT EXISTS idx_products_price ON products(price)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_products_price`,
		},
	},
}
