package memory

import store "github.com/mini-idp/mini-idp/storage"

func scopeSchema() Schema[store.Scope] {
	return Schema[store.Scope]{
		IDOf:    func(s store.Scope) string { return s.ID },
		NameOf:  func(s store.Scope) string { return s.Name },
		SortKey: func(s store.Scope, field string) string { return sortKeyFor(field, s.Name, s.ID) },
	}
}

func roleSchema() Schema[store.Role] {
	return Schema[store.Role]{
		IDOf:    func(r store.Role) string { return r.ID },
		NameOf:  func(r store.Role) string { return r.Name },
		SortKey: func(r store.Role, field string) string { return sortKeyFor(field, r.Name, r.ID) },
	}
}

func userSchema() Schema[store.User] {
	return Schema[store.User]{
		IDOf:       func(u store.User) string { return u.ID },
		NameOf:     func(u store.User) string { return u.Name },
		ExtraMatch: func(u store.User) []string { return []string{u.Email} },
		SortKey:    func(u store.User, field string) string { return sortKeyFor(field, u.Name, u.ID, u.Email) },
	}
}

func clientSchema() Schema[store.OAuthClient] {
	return Schema[store.OAuthClient]{
		IDOf:    func(c store.OAuthClient) string { return c.ID },
		NameOf:  func(c store.OAuthClient) string { return c.Name },
		SortKey: func(c store.OAuthClient, field string) string { return sortKeyFor(field, c.Name, c.ID) },
	}
}

func policySchema() Schema[store.Policy] {
	return Schema[store.Policy]{
		IDOf:    func(p store.Policy) string { return p.ID },
		NameOf:  func(p store.Policy) string { return p.Name },
		SortKey: func(p store.Policy, field string) string { return sortKeyFor(field, p.Name, p.ID) },
	}
}

// sortKeyFor maps the "name"/"id"/"email" field names (the only OrderBy
// values this codebase ever asks for) to one of the pre-extracted values;
// any other field leaves rows in insertion order.
func sortKeyFor(field, name, id string, rest ...string) string {
	switch field {
	case "name":
		return name
	case "id":
		return id
	case "email":
		if len(rest) > 0 {
			return rest[0]
		}
	}
	return ""
}

// NewScopeStore, NewRoleStore, NewUserStore, NewClientStore and
// NewPolicyStore build the in-memory EntityStore[T] for each entity. Unlike
// the SQL backend there is no encrypted-column transform: values live only
// in process memory, never serialized to a disk or network boundary.
func NewScopeStore() *Store[store.Scope] { return NewStore(scopeSchema()) }

func NewRoleStore() *Store[store.Role] { return NewStore(roleSchema()) }

func NewUserStore() *Store[store.User] { return NewStore(userSchema()) }

func NewClientStore() *Store[store.OAuthClient] { return NewStore(clientSchema()) }

func NewPolicyStore() *Store[store.Policy] { return NewStore(policySchema()) }
