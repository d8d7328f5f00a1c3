package sql

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mini-idp/mini-idp/cryptor"
	store "github.com/mini-idp/mini-idp/storage"
)

func asString(v interface{}) (string, error) {
	switch vv := v.(type) {
	case string:
		return vv, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("sql: expected string, got %T", v)
	}
}

func asBool(v interface{}) (bool, error) {
	switch vv := v.(type) {
	case bool:
		return vv, nil
	case int64:
		return vv != 0, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("sql: expected bool, got %T", v)
	}
}

func scopeSchema() Schema[store.Scope] {
	return Schema[store.Scope]{
		Table: "scopes", IDColumn: "id", NameColumn: "name",
		New: func() store.Scope { return store.Scope{} },
		Columns: []Column[store.Scope]{
			{Name: "id", Get: func(e *store.Scope) interface{} { return e.ID }, Set: func(e *store.Scope, v interface{}) error { s, err := asString(v); e.ID = s; return err }},
			{Name: "name", Get: func(e *store.Scope) interface{} { return e.Name }, Set: func(e *store.Scope, v interface{}) error { s, err := asString(v); e.Name = s; return err }},
			{Name: "description", Get: func(e *store.Scope) interface{} { return e.Description }, Set: func(e *store.Scope, v interface{}) error { s, err := asString(v); e.Description = s; return err }},
			{Name: "sensitive", Get: func(e *store.Scope) interface{} { return e.Sensitive }, Set: func(e *store.Scope, v interface{}) error { b, err := asBool(v); e.Sensitive = b; return err }},
			{Name: "fixed", Get: func(e *store.Scope) interface{} { return e.Fixed }, Set: func(e *store.Scope, v interface{}) error { b, err := asBool(v); e.Fixed = b; return err }},
		},
	}
}

func roleSchema() Schema[store.Role] {
	return Schema[store.Role]{
		Table: "roles", IDColumn: "id", NameColumn: "name",
		New: func() store.Role { return store.Role{} },
		Columns: []Column[store.Role]{
			{Name: "id", Get: func(e *store.Role) interface{} { return e.ID }, Set: func(e *store.Role, v interface{}) error { s, err := asString(v); e.ID = s; return err }},
			{Name: "name", Get: func(e *store.Role) interface{} { return e.Name }, Set: func(e *store.Role, v interface{}) error { s, err := asString(v); e.Name = s; return err }},
			{Name: "description", Get: func(e *store.Role) interface{} { return e.Description }, Set: func(e *store.Role, v interface{}) error { s, err := asString(v); e.Description = s; return err }},
			{Name: "fixed", Get: func(e *store.Role) interface{} { return e.Fixed }, Set: func(e *store.Role, v interface{}) error { b, err := asBool(v); e.Fixed = b; return err }},
		},
	}
}

func userSchema() Schema[store.User] {
	return Schema[store.User]{
		Table: "users", IDColumn: "id", NameColumn: "name",
		// Users extend the canonical id-or-name lookup to include email.
		ExtraGetColumns: []string{"email"},
		New:             func() store.User { return store.User{} },
		Columns: []Column[store.User]{
			{Name: "id", Get: func(e *store.User) interface{} { return e.ID }, Set: func(e *store.User, v interface{}) error { s, err := asString(v); e.ID = s; return err }},
			{Name: "name", Get: func(e *store.User) interface{} { return e.Name }, Set: func(e *store.User, v interface{}) error { s, err := asString(v); e.Name = s; return err }},
			{Name: "password", Transform: Encrypted, Get: func(e *store.User) interface{} { return e.Password }, Set: func(e *store.User, v interface{}) error { s, err := asString(v); e.Password = s; return err }},
			{Name: "email", Get: func(e *store.User) interface{} { return e.Email }, Set: func(e *store.User, v interface{}) error { s, err := asString(v); e.Email = s; return err }},
			{Name: "full_name", Get: func(e *store.User) interface{} { return e.FullName }, Set: func(e *store.User, v interface{}) error { s, err := asString(v); e.FullName = s; return err }},
			{Name: "roles", Transform: JSON, Get: func(e *store.User) interface{} { return e.Roles }, Set: func(e *store.User, v interface{}) error {
				return decodeStrList(v, &e.Roles)
			}},
		},
	}
}

func decodeStrList(v interface{}, target *[]string) error {
	s, err := asString(v)
	if err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return fmt.Errorf("sql: decoding string list: %w", err)
	}
	*target = list
	return nil
}

func clientSchema() Schema[store.OAuthClient] {
	return Schema[store.OAuthClient]{
		Table: "clients", IDColumn: "id", NameColumn: "name",
		New: func() store.OAuthClient { return store.OAuthClient{} },
		Columns: []Column[store.OAuthClient]{
			{Name: "id", Get: func(e *store.OAuthClient) interface{} { return e.ID }, Set: func(e *store.OAuthClient, v interface{}) error { s, err := asString(v); e.ID = s; return err }},
			{Name: "name", Get: func(e *store.OAuthClient) interface{} { return e.Name }, Set: func(e *store.OAuthClient, v interface{}) error { s, err := asString(v); e.Name = s; return err }},
			{Name: "secret", Transform: Encrypted, Get: func(e *store.OAuthClient) interface{} { return e.Secret }, Set: func(e *store.OAuthClient, v interface{}) error { s, err := asString(v); e.Secret = s; return err }},
			{Name: "audience", Get: func(e *store.OAuthClient) interface{} { return e.Audience }, Set: func(e *store.OAuthClient, v interface{}) error { s, err := asString(v); e.Audience = s; return err }},
			{Name: "grant_types", Transform: JSON, Get: func(e *store.OAuthClient) interface{} { return e.GrantTypes }, Set: func(e *store.OAuthClient, v interface{}) error {
				return decodeStrList(v, &e.GrantTypes)
			}},
			{Name: "response_types", Transform: JSON, Get: func(e *store.OAuthClient) interface{} { return e.ResponseTypes }, Set: func(e *store.OAuthClient, v interface{}) error {
				return decodeStrList(v, &e.ResponseTypes)
			}},
			{Name: "scopes", Transform: JSON, Get: func(e *store.OAuthClient) interface{} { return e.Scopes }, Set: func(e *store.OAuthClient, v interface{}) error {
				return decodeStrList(v, &e.Scopes)
			}},
			{Name: "extras", Transform: JSON, Get: func(e *store.OAuthClient) interface{} { return e.Extras }, Set: func(e *store.OAuthClient, v interface{}) error {
				s, err := asString(v)
				if err != nil {
					return err
				}
				if s == "" {
					return nil
				}
				return json.Unmarshal([]byte(s), &e.Extras)
			}},
			{Name: "description", Get: func(e *store.OAuthClient) interface{} { return e.Description }, Set: func(e *store.OAuthClient, v interface{}) error { s, err := asString(v); e.Description = s; return err }},
		},
	}
}

func policySchema() Schema[store.Policy] {
	return Schema[store.Policy]{
		Table: "policies", IDColumn: "id", NameColumn: "name",
		New: func() store.Policy { return store.Policy{} },
		Columns: []Column[store.Policy]{
			{Name: "id", Get: func(e *store.Policy) interface{} { return e.ID }, Set: func(e *store.Policy, v interface{}) error { s, err := asString(v); e.ID = s; return err }},
			{Name: "name", Get: func(e *store.Policy) interface{} { return e.Name }, Set: func(e *store.Policy, v interface{}) error { s, err := asString(v); e.Name = s; return err }},
			{Name: "resource", Get: func(e *store.Policy) interface{} { return e.Resource }, Set: func(e *store.Policy, v interface{}) error { s, err := asString(v); e.Resource = s; return err }},
			{Name: "subjects", Transform: JSON, Get: func(e *store.Policy) interface{} { return e.Subjects }, Set: func(e *store.Policy, v interface{}) error {
				s, err := asString(v)
				if err != nil {
					return err
				}
				var subjects []store.PolicySubject
				if err := json.Unmarshal([]byte(s), &subjects); err != nil {
					return fmt.Errorf("sql: decoding policy subjects: %w", err)
				}
				e.Subjects = subjects
				return nil
			}},
			{Name: "scopes", Transform: JSON, Get: func(e *store.Policy) interface{} { return e.Scopes }, Set: func(e *store.Policy, v interface{}) error {
				s, err := asString(v)
				if err != nil {
					return err
				}
				var scopes []string
				if err := json.Unmarshal([]byte(s), &scopes); err != nil {
					return fmt.Errorf("sql: decoding policy scopes: %w", err)
				}
				e.Scopes = scopes
				return nil
			}},
			{Name: "fixed", Get: func(e *store.Policy) interface{} { return e.Fixed }, Set: func(e *store.Policy, v interface{}) error { b, err := asBool(v); e.Fixed = b; return err }},
		},
	}
}

// NewScopeStore, NewRoleStore, NewUserStore, NewClientStore and
// NewPolicyStore build the concrete EntityStore[T] for each entity, wiring
// the declarative schemas above to a DB connection and (where needed) a
// Cryptor for encrypted columns.
func NewScopeStore(db *DB, raw *sql.DB) *Store[store.Scope] {
	return NewStore(db, raw, scopeSchema(), nil)
}

func NewRoleStore(db *DB, raw *sql.DB) *Store[store.Role] {
	return NewStore(db, raw, roleSchema(), nil)
}

func NewUserStore(db *DB, raw *sql.DB, crypt *cryptor.Cryptor) *Store[store.User] {
	return NewStore(db, raw, userSchema(), crypt)
}

func NewClientStore(db *DB, raw *sql.DB, crypt *cryptor.Cryptor) *Store[store.OAuthClient] {
	return NewStore(db, raw, clientSchema(), crypt)
}

func NewPolicyStore(db *DB, raw *sql.DB) *Store[store.Policy] {
	return NewStore(db, raw, policySchema(), nil)
}
