package storage

import "context"

// Cursor is a lazy, finite sequence of entities returned by Select, mirroring
// database/sql.Rows: callers must call Next before Value and Close when done.
type Cursor[T any] interface {
	Next() bool
	Value() (T, error)
	Close() error
}

// Query narrows a Select call. Where is a backend-specific predicate
// (e.g. "email = :email"), Params supplies its named parameters, and list-
// valued params are expanded into IN-clause placeholders by the backend.
// OrderBy and Limit are optional (empty/zero means unset).
type Query struct {
	Where   string
	Params  map[string]interface{}
	OrderBy string
	Limit   int
}

// EntityStore is typed CRUD for entity type T. The SQL backend applies
// per-column transformers (plain/JSON/encrypted, declared in its Schema[T]
// column tables) on every read and write; the memory backend stores values
// as given.
type EntityStore[T any] interface {
	// Select returns a lazy cursor over rows matching q.
	Select(ctx context.Context, q Query) (Cursor[T], error)

	// SelectOne returns the first row matching q, or false if none matched.
	SelectOne(ctx context.Context, q Query) (T, bool, error)

	// Insert creates a new row. On a unique-constraint conflict it fails
	// with apierror.Duplicate rather than silently ignoring the row.
	Insert(ctx context.Context, entity T) error

	// Update overwrites the row identified by idOrName with entity's fields.
	// Zero rows affected is not an error.
	Update(ctx context.Context, idOrName string, entity T) error

	// Delete removes the row identified by idOrName and returns the number
	// of rows removed (0 or 1).
	Delete(ctx context.Context, idOrName string) (int, error)

	// Get performs the canonical id-or-name lookup: `id = :id OR name = :id`
	// (UserStore additionally matches email). It returns false if no row
	// matched.
	Get(ctx context.Context, idOrName string) (T, bool, error)
}

// UserStore extends EntityStore[User] with the email-inclusive Get lookup
// specific to users.
type UserStore interface {
	EntityStore[User]
}
