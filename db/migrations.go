package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// ErrNoMigrations is returned by Rollback when nothing has been applied
var ErrNoMigrations = errors.New("no migrations to rollback")

// Migration represents a database migration. Statements run one at a time
// so every driver accepts them.
type Migration struct {
	Version int
	Name    string
	Up      []string
	Down    []string
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version int
	Name    string
	Applied bool
}

// sortedMigrations returns the schema migrations by ascending version
func sortedMigrations() []Migration {
	sorted := make([]Migration, len(schemaMigrations))
	copy(sorted, schemaMigrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted
}

// Migrate runs all pending migrations
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := db.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range sortedMigrations() {
		if m.Version <= currentVersion {
			continue
		}
		if err := db.runMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist
func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// currentVersion returns the current migration version
func (db *DB) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigration executes a single migration
func (db *DB) runMigration(ctx context.Context, m Migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := execAll(ctx, tx, m.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		db.rebind("INSERT INTO schema_migrations (version, name) VALUES (?, ?)"),
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Rollback rolls back the last applied migration
func (db *DB) Rollback(ctx context.Context) error {
	currentVersion, err := db.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if currentVersion == 0 {
		return ErrNoMigrations
	}

	var target *Migration
	for _, m := range schemaMigrations {
		if m.Version == currentVersion {
			target = &m
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := execAll(ctx, tx, target.Down); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	if _, err := tx.ExecContext(ctx, db.rebind("DELETE FROM schema_migrations WHERE version = ?"), currentVersion); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}

// GetMigrationStatus returns the applied state of every known migration
func (db *DB) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	currentVersion, err := db.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	var status []MigrationStatus
	for _, m := range sortedMigrations() {
		status = append(status, MigrationStatus{
			Version: m.Version,
			Name:    m.Name,
			Applied: m.Version <= currentVersion,
		})
	}
	return status, nil
}

func execAll(ctx context.Context, tx *sql.Tx, statements []string) error {
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
