package sql

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations is a single ordered list of DDL statements applied to a fresh
// database. Types are restricted to TEXT/BOOLEAN/BIGINT (plus the INTEGER
// key of the migrations table) so the same schema is valid on both Postgres and SQLite without needing per-flavor DDL.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scopes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		sensitive BOOLEAN NOT NULL DEFAULT false,
		fixed BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		fixed BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		password TEXT,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT,
		roles TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		secret TEXT,
		audience TEXT,
		grant_types TEXT NOT NULL DEFAULT '[]',
		response_types TEXT NOT NULL DEFAULT '[]',
		scopes TEXT NOT NULL DEFAULT '[]',
		extras TEXT NOT NULL DEFAULT '{}',
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		resource TEXT NOT NULL,
		subjects TEXT NOT NULL DEFAULT '[]',
		scopes TEXT NOT NULL DEFAULT '[]',
		fixed BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS kv_entries (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL,
		expiry_ts BIGINT
	)`,
}

// Migrate applies every migration not yet recorded in the migrations table,
// in order, inside one transaction per statement.
func Migrate(ctx context.Context, db *sql.DB, flavor Flavor) error {
	wrapped := Open(db, flavor)
	if _, err := wrapped.ExecContext(ctx, migrations[0]); err != nil {
		return fmt.Errorf("sql: creating migrations table: %w", err)
	}

	var applied int
	if err := wrapped.QueryRowContext(ctx, `SELECT COUNT(1) FROM migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("sql: counting applied migrations: %w", err)
	}

	for i := 1; i < len(migrations); i++ {
		if i <= applied {
			continue
		}
		if err := wrapped.WithTx(ctx, db, func(tx *DB) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("sql: applying migration %d: %w", i, err)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO migrations (id, applied_at) VALUES (?, ?)`, i, 0)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}
