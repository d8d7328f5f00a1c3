package sql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenPostgres opens and migrates a Postgres database, the production
// backend.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, *DB, error) {
	raw, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sql: opening postgres: %w", err)
	}
	if err := Migrate(ctx, raw, Postgres); err != nil {
		return nil, nil, err
	}
	return raw, Open(raw, Postgres), nil
}

// OpenSQLite opens and migrates a SQLite database, used for local
// development and the test conformance suite.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, *DB, error) {
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("sql: opening sqlite: %w", err)
	}
	raw.SetMaxOpenConns(1) // avoid SQLITE_BUSY under the package's shared *sql.DB
	if err := Migrate(ctx, raw, SQLite); err != nil {
		return nil, nil, err
	}
	return raw, Open(raw, SQLite), nil
}
