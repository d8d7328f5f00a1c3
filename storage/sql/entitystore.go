package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/cryptor"
	store "github.com/mini-idp/mini-idp/storage"
)

// Transform names how a column's Go value round-trips through a TEXT/BOOLEAN
// SQL column, kept as a declarative table rather than reflection over
// struct tags.
type Transform int

const (
	Plain Transform = iota
	JSON
	Encrypted
)

// Column declares one table column's name, transform and the accessor
// functions used to move a value between a *T and the database.
type Column[T any] struct {
	Name      string
	Transform Transform
	Get       func(*T) interface{}
	Set       func(*T, interface{}) error
}

// Schema declares the table and column set for one entity type.
type Schema[T any] struct {
	Table      string
	IDColumn   string
	NameColumn string
	// ExtraGetColumns, when set, adds columns (beyond IDColumn/NameColumn)
	// that the canonical Get lookup also matches against (e.g. "email" for
	// users).
	ExtraGetColumns []string
	Columns         []Column[T]
	New             func() T
}

// Store is the generic SQL-backed implementation of storage.EntityStore[T].
type Store[T any] struct {
	db      *DB
	raw     *sql.DB
	schema  Schema[T]
	cryptor *cryptor.Cryptor
}

// NewStore builds a Store for the given schema. cryptor may be nil only if
// the schema has no Encrypted columns.
func NewStore[T any](db *DB, raw *sql.DB, schema Schema[T], crypt *cryptor.Cryptor) *Store[T] {
	return &Store[T]{db: db, raw: raw, schema: schema, cryptor: crypt}
}

func (s *Store[T]) columnNames() []string {
	names := make([]string, len(s.schema.Columns))
	for i, c := range s.schema.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *Store[T]) encodeColumn(c Column[T], entity *T) (interface{}, error) {
	v := c.Get(entity)
	switch c.Transform {
	case JSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("sql: encoding column %s: %w", c.Name, err)
		}
		return string(raw), nil
	case Encrypted:
		str, _ := v.(string)
		if str == "" {
			return "", nil
		}
		if s.cryptor == nil {
			return nil, apierror.New(apierror.CryptoUnavailable, "no cryptor configured for encrypted column "+c.Name)
		}
		ciphertext, err := s.cryptor.Encrypt([]byte(str))
		if err != nil {
			return nil, err
		}
		return encodeBase64(ciphertext), nil
	default:
		return v, nil
	}
}

func (s *Store[T]) decodeColumn(c Column[T], entity *T, raw interface{}) error {
	switch c.Transform {
	case JSON:
		str, _ := raw.(string)
		if str == "" {
			return nil
		}
		return c.Set(entity, str)
	case Encrypted:
		str, _ := raw.(string)
		if str == "" {
			return c.Set(entity, "")
		}
		if s.cryptor == nil {
			return apierror.New(apierror.CryptoUnavailable, "no cryptor configured for encrypted column "+c.Name)
		}
		ciphertext, err := decodeBase64(str)
		if err != nil {
			return fmt.Errorf("sql: decoding column %s: %w", c.Name, err)
		}
		plaintext, err := s.cryptor.Decrypt(ciphertext)
		if err != nil {
			return err
		}
		return c.Set(entity, string(plaintext))
	default:
		return c.Set(entity, raw)
	}
}

// namedParam matches ":identifier" tokens in a Query.Where clause.
var namedParam = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// bindNamed rewrites a ":name"-parameterized where clause into "?"
// placeholders, expanding slice-valued params into IN-clause placeholder
// lists.
func bindNamed(where string, params map[string]interface{}) (string, []interface{}) {
	var args []interface{}
	bound := namedParam.ReplaceAllStringFunc(where, func(token string) string {
		name := token[1:]
		val, ok := params[name]
		if !ok {
			return token
		}
		switch vv := val.(type) {
		case []string:
			placeholders := make([]string, len(vv))
			for i, item := range vv {
				placeholders[i] = "?"
				args = append(args, item)
			}
			return "(" + strings.Join(placeholders, ", ") + ")"
		default:
			args = append(args, val)
			return "?"
		}
	})
	return bound, args
}

func (s *Store[T]) selectQuery(q store.Query) (string, []interface{}) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(s.columnNames(), ", "), s.schema.Table)
	var args []interface{}
	if q.Where != "" {
		where, whereArgs := bindNamed(q.Where, q.Params)
		query += " WHERE " + where
		args = whereArgs
	}
	if q.OrderBy != "" {
		query += " ORDER BY " + q.OrderBy
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return query, args
}

func (s *Store[T]) scanRow(rows *sql.Rows) (T, error) {
	entity := s.schema.New()
	raws := make([]interface{}, len(s.schema.Columns))
	for i := range raws {
		raws[i] = new(interface{})
	}
	if err := rows.Scan(raws...); err != nil {
		var zero T
		return zero, fmt.Errorf("sql: scanning %s row: %w", s.schema.Table, err)
	}
	for i, c := range s.schema.Columns {
		val := *(raws[i].(*interface{}))
		if val == nil {
			continue
		}
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		if err := s.decodeColumn(c, &entity, val); err != nil {
			var zero T
			return zero, err
		}
	}
	return entity, nil
}

type rowsCursor[T any] struct {
	rows  *sql.Rows
	store *Store[T]
	cur   T
	err   error
}

func (c *rowsCursor[T]) Next() bool {
	if !c.rows.Next() {
		return false
	}
	c.cur, c.err = c.store.scanRow(c.rows)
	return c.err == nil
}

func (c *rowsCursor[T]) Value() (T, error) { return c.cur, c.err }
func (c *rowsCursor[T]) Close() error      { return c.rows.Close() }

func (s *Store[T]) Select(ctx context.Context, q store.Query) (store.Cursor[T], error) {
	query, args := s.selectQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sql: querying %s: %w", s.schema.Table, err)
	}
	return &rowsCursor[T]{rows: rows, store: s}, nil
}

func (s *Store[T]) SelectOne(ctx context.Context, q store.Query) (T, bool, error) {
	q.Limit = 1
	cur, err := s.Select(ctx, q)
	var zero T
	if err != nil {
		return zero, false, err
	}
	defer cur.Close()
	if !cur.Next() {
		return zero, false, nil
	}
	v, err := cur.Value()
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (s *Store[T]) Insert(ctx context.Context, entity T) error {
	values := make([]interface{}, len(s.schema.Columns))
	placeholders := make([]string, len(s.schema.Columns))
	for i, c := range s.schema.Columns {
		v, err := s.encodeColumn(c, &entity)
		if err != nil {
			return err
		}
		values[i] = v
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		s.schema.Table, strings.Join(s.columnNames(), ", "), strings.Join(placeholders, ", "))
	res, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("sql: inserting into %s: %w", s.schema.Table, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apierror.New(apierror.Duplicate, "a "+s.schema.Table+" row with this id or name already exists")
	}
	return nil
}

func (s *Store[T]) Update(ctx context.Context, idOrName string, entity T) error {
	assignments := make([]string, len(s.schema.Columns))
	values := make([]interface{}, len(s.schema.Columns))
	for i, c := range s.schema.Columns {
		v, err := s.encodeColumn(c, &entity)
		if err != nil {
			return err
		}
		assignments[i] = c.Name + " = ?"
		values[i] = v
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ? OR %s = ?",
		s.schema.Table, strings.Join(assignments, ", "), s.schema.IDColumn, s.schema.NameColumn)
	values = append(values, idOrName, idOrName)
	res, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("sql: updating %s: %w", s.schema.Table, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		// No row matched idOrName; callers treat this as a no-op, not an error.
		return nil
	}
	return nil
}

func (s *Store[T]) Delete(ctx context.Context, idOrName string) (int, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? OR %s = ?", s.schema.Table, s.schema.IDColumn, s.schema.NameColumn)
	res, err := s.db.ExecContext(ctx, query, idOrName, idOrName)
	if err != nil {
		return 0, fmt.Errorf("sql: deleting from %s: %w", s.schema.Table, err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *Store[T]) Get(ctx context.Context, idOrName string) (T, bool, error) {
	cols := []string{s.schema.IDColumn, s.schema.NameColumn}
	cols = append(cols, s.schema.ExtraGetColumns...)
	clauses := make([]string, len(cols))
	params := map[string]interface{}{"id": idOrName}
	for i, col := range cols {
		clauses[i] = col + " = :id"
	}
	return s.SelectOne(ctx, store.Query{Where: strings.Join(clauses, " OR "), Params: params})
}

var _ store.EntityStore[store.Scope] = (*Store[store.Scope])(nil)
