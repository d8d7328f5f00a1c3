// Package sql implements KeyValueStore and EntityStore over a SQL
// database, translating a single flavor-agnostic query form into either
// Postgres or SQLite syntax.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Flavor captures the handful of syntax differences between the backends
// this package supports.
type Flavor struct {
	Name string
	// Rebind rewrites a query written with "?" placeholders into this
	// flavor's native placeholder syntax.
	Rebind func(query string) string
}

// Postgres uses $1, $2, ... positional placeholders.
var Postgres = Flavor{
	Name: "postgres",
	Rebind: func(query string) string {
		var b strings.Builder
		n := 0
		for _, r := range query {
			if r == '?' {
				n++
				fmt.Fprintf(&b, "$%d", n)
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	},
}

// SQLite uses "?" placeholders natively, so Rebind is the identity.
var SQLite = Flavor{
	Name:   "sqlite3",
	Rebind: func(query string) string { return query },
}

// DB wraps a *sql.DB (or, mid-transaction, a *sql.Tx) with the flavor needed
// to rebind queries, so every other package in this module writes
// flavor-agnostic SQL with "?" placeholders.
type DB struct {
	flavor Flavor
	exec   execer
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open wraps an already-opened *sql.DB with the given flavor.
func Open(db *sql.DB, flavor Flavor) *DB {
	return &DB{flavor: flavor, exec: db}
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.exec.ExecContext(ctx, d.flavor.Rebind(query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.exec.QueryContext(ctx, d.flavor.Rebind(query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.exec.QueryRowContext(ctx, d.flavor.Rebind(query), args...)
}

// WithTx runs fn against a transactional *DB sharing this DB's flavor,
// committing on success and rolling back on any error or panic. Used by
// bootstrap and snapshot restore to apply several writes atomically.
func (d *DB) WithTx(ctx context.Context, db *sql.DB, fn func(tx *DB) error) (err error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql: beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	tx := &DB{flavor: d.flavor, exec: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sql: committing transaction: %w", err)
	}
	return nil
}
