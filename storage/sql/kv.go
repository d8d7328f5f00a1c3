package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/clock"
	store "github.com/mini-idp/mini-idp/storage"
)

// KVStore is the SQL-backed implementation of storage.KeyValueStore.
type KVStore struct {
	db    *DB
	raw   *sql.DB
	clock clock.Clock
}

// NewKVStore builds a KVStore. raw is needed separately from db so BatchSet
// can open its own transaction.
func NewKVStore(db *DB, raw *sql.DB, clk clock.Clock) *KVStore {
	return &KVStore{db: db, raw: raw, clock: clk}
}

func (s *KVStore) now() int64 {
	return s.clock.Now().Unix()
}

// gcExpired deletes every row whose expiry has passed. It is called
// opportunistically from Set and Delete, never from a background goroutine.
func (s *KVStore) gcExpired(ctx context.Context, tx *DB) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE expiry_ts IS NOT NULL AND expiry_ts <= ?`, s.now())
	if err != nil {
		return fmt.Errorf("sql: gc expired kv rows: %w", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, k string, out interface{}) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT v FROM kv_entries WHERE k = ? AND (expiry_ts IS NULL OR expiry_ts > ?)`, k, s.now())
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("sql: reading kv entry %q: %w", k, err)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			return false, fmt.Errorf("sql: decoding kv entry %q: %w", k, err)
		}
	}
	return true, nil
}

func (s *KVStore) Set(ctx context.Context, k string, v interface{}, expiryTS *int64) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sql: encoding kv entry %q: %w", k, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (k, v, expiry_ts) VALUES (?, ?, ?) ON CONFLICT (k) DO NOTHING`,
		k, string(raw), expiryTS)
	if err != nil {
		return fmt.Errorf("sql: inserting kv entry %q: %w", k, err)
	}
	inserted, _ := res.RowsAffected()

	if inserted == 0 {
		res, err = s.db.ExecContext(ctx,
			`UPDATE kv_entries SET v = ?, expiry_ts = ? WHERE k = ?`, string(raw), expiryTS, k)
		if err != nil {
			return fmt.Errorf("sql: updating kv entry %q: %w", k, err)
		}
		updated, _ := res.RowsAffected()
		if updated == 0 {
			return apierror.New(apierror.StorageError, "failed to write key "+k)
		}
	}

	return s.gcExpired(ctx, s.db)
}

func (s *KVStore) Delete(ctx context.Context, k string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE k = ?`, k); err != nil {
		return fmt.Errorf("sql: deleting kv entry %q: %w", k, err)
	}
	return s.gcExpired(ctx, s.db)
}

// BatchSet writes every entry atomically, in the caller's order, in a single
// transaction — used by the device flow to set its conventional keys
// together.
func (s *KVStore) BatchSet(ctx context.Context, entries []store.BatchEntry) error {
	return s.db.WithTx(ctx, s.raw, func(tx *DB) error {
		for _, e := range entries {
			raw, err := json.Marshal(e.Value)
			if err != nil {
				return fmt.Errorf("sql: encoding kv entry %q: %w", e.Key, err)
			}

			res, err := tx.ExecContext(ctx,
				`INSERT INTO kv_entries (k, v, expiry_ts) VALUES (?, ?, ?) ON CONFLICT (k) DO NOTHING`,
				e.Key, string(raw), e.ExpiryTS)
			if err != nil {
				return fmt.Errorf("sql: inserting kv entry %q: %w", e.Key, err)
			}
			inserted, _ := res.RowsAffected()

			if inserted == 0 {
				res, err = tx.ExecContext(ctx,
					`UPDATE kv_entries SET v = ?, expiry_ts = ? WHERE k = ?`, string(raw), e.ExpiryTS, e.Key)
				if err != nil {
					return fmt.Errorf("sql: updating kv entry %q: %w", e.Key, err)
				}
				updated, _ := res.RowsAffected()
				if updated == 0 {
					return apierror.New(apierror.StorageError, "failed to write key "+e.Key)
				}
			}
		}
		return s.gcExpired(ctx, tx)
	})
}

var _ store.KeyValueStore = (*KVStore)(nil)
