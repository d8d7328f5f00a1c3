package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/gate"
	store "github.com/mini-idp/mini-idp/storage"
)

// sensitiveFieldsByKind lists the JSON field names stripped from admin REST
// responses unless the caller presents X-Access-Level: full with an
// idp.root/idp.admin scope.
var sensitiveFieldsByKind = map[string][]string{
	"user":   {"password"},
	"client": {"secret"},
}

func listEntities[T any](ctx context.Context, es store.EntityStore[T]) ([]T, error) {
	cursor, err := es.Select(ctx, store.Query{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	var out []T
	for cursor.Next() {
		v, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func toRedactedJSON(v interface{}, sensitive []string, full bool) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if full || len(sensitive) == 0 {
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		return generic, nil
	}

	switch m := raw[0]; m {
	case '[':
		var list []map[string]interface{}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for _, item := range list {
			for _, f := range sensitive {
				delete(item, f)
			}
		}
		return list, nil
	default:
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		for _, f := range sensitive {
			delete(obj, f)
		}
		return obj, nil
	}
}

func (s *Server) hasFullAccess(r *http.Request, claims *store.AccessClaims) bool {
	return r.Header.Get("X-Access-Level") == "full" && gate.HasFullAccess(claims)
}

// pluralToSingularKind maps the plural REST collection path segments
// (spec.md §4.9's seed scenario 5 registers "/rest/users/" etc., mirroring
// the original's route/scope-namespace split) to the singular kind every
// handler switch and gate.Namespace computation below is written against.
var pluralToSingularKind = map[string]string{
	"users":    "user",
	"clients":  "client",
	"roles":    "role",
	"scopes":   "scope",
	"policies": "policy",
}

// normalizeKind accepts either the plural route segment or the singular
// kind unchanged, so the route itself never dictates the scope namespace.
func normalizeKind(kind string) string {
	if singular, ok := pluralToSingularKind[kind]; ok {
		return singular
	}
	return kind
}

func (s *Server) handleRestCollection(w http.ResponseWriter, r *http.Request) {
	kind := normalizeKind(mux.Vars(r)["kind"])
	action := gate.ActionList
	if r.Method == http.MethodPost {
		action = gate.ActionWrite
	}

	claims, err := s.gate.Authorize(r.Header.Get("Authorization"), kind, action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	full := s.hasFullAccess(r, claims)

	switch kind {
	case "user":
		s.restUserCollection(w, r, full)
	case "client":
		s.restClientCollection(w, r, full)
	case "role":
		s.restRoleCollection(w, r, full)
	case "scope":
		s.restScopeCollection(w, r, full)
	case "policy":
		s.restPolicyCollection(w, r, full)
	default:
		s.writeError(w, r, apierror.New(apierror.InvalidRequest, "unknown resource kind "+kind))
	}
}

func (s *Server) handleRestItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, id := normalizeKind(vars["kind"]), vars["id"]

	action := gate.ActionRead
	switch r.Method {
	case http.MethodPatch, http.MethodPut:
		action = gate.ActionWrite
	case http.MethodDelete:
		action = gate.ActionDelete
	}

	claims, err := s.gate.Authorize(r.Header.Get("Authorization"), kind, action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	full := s.hasFullAccess(r, claims)

	switch kind {
	case "user":
		s.restUserItem(w, r, id, full)
	case "client":
		s.restClientItem(w, r, id, full)
	case "role":
		s.restRoleItem(w, r, id, full)
	case "scope":
		s.restScopeItem(w, r, id, full)
	case "policy":
		s.restPolicyItem(w, r, id, full)
	default:
		s.writeError(w, r, apierror.New(apierror.InvalidRequest, "unknown resource kind "+kind))
	}
}

func (s *Server) respondRedacted(w http.ResponseWriter, r *http.Request, v interface{}, kind string, full bool) {
	redacted, err := toRedactedJSON(v, sensitiveFieldsByKind[kind], full)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, redacted)
}

// --- user ---

func (s *Server) restUserCollection(w http.ResponseWriter, r *http.Request, full bool) {
	if r.Method == http.MethodPost {
		var u store.User
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if u.ID == "" {
			u.ID = store.NewID()
		}
		if err := s.users.Insert(r.Context(), u); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, u, "user", full)
		return
	}
	list, err := listEntities(r.Context(), s.users)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondRedacted(w, r, list, "user", full)
}

func (s *Server) restUserItem(w http.ResponseWriter, r *http.Request, id string, full bool) {
	switch r.Method {
	case http.MethodGet:
		u, ok, err := s.users.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !ok {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "no such user"))
			return
		}
		s.respondRedacted(w, r, u, "user", full)
	case http.MethodPatch, http.MethodPut:
		var u store.User
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if err := s.users.Update(r.Context(), id, u); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, u, "user", full)
	case http.MethodDelete:
		count, err := s.users.Delete(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
	}
}

// --- client ---

func (s *Server) restClientCollection(w http.ResponseWriter, r *http.Request, full bool) {
	if r.Method == http.MethodPost {
		var c store.OAuthClient
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if c.ID == "" {
			c.ID = store.NewID()
		}
		if err := s.clients.Insert(r.Context(), c); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, c, "client", full)
		return
	}
	list, err := listEntities(r.Context(), s.clients)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondRedacted(w, r, list, "client", full)
}

func (s *Server) restClientItem(w http.ResponseWriter, r *http.Request, id string, full bool) {
	switch r.Method {
	case http.MethodGet:
		c, ok, err := s.clients.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !ok {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "no such client"))
			return
		}
		s.respondRedacted(w, r, c, "client", full)
	case http.MethodPatch, http.MethodPut:
		var c store.OAuthClient
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if err := s.clients.Update(r.Context(), id, c); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, c, "client", full)
	case http.MethodDelete:
		count, err := s.clients.Delete(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
	}
}

// --- role ---

func (s *Server) restRoleCollection(w http.ResponseWriter, r *http.Request, full bool) {
	if r.Method == http.MethodPost {
		var role store.Role
		if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if role.ID == "" {
			role.ID = store.NewID()
		}
		if err := s.roles.Insert(r.Context(), role); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, role, "role", full)
		return
	}
	list, err := listEntities(r.Context(), s.roles)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondRedacted(w, r, list, "role", full)
}

func (s *Server) restRoleItem(w http.ResponseWriter, r *http.Request, id string, full bool) {
	switch r.Method {
	case http.MethodGet:
		role, ok, err := s.roles.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !ok {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "no such role"))
			return
		}
		s.respondRedacted(w, r, role, "role", full)
	case http.MethodPatch, http.MethodPut:
		var role store.Role
		if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if role.Fixed {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "fixed roles cannot be modified"))
			return
		}
		if err := s.roles.Update(r.Context(), id, role); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, role, "role", full)
	case http.MethodDelete:
		existing, ok, err := s.roles.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if ok && existing.Fixed {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "fixed roles cannot be deleted"))
			return
		}
		count, err := s.roles.Delete(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
	}
}

// --- scope ---

func (s *Server) restScopeCollection(w http.ResponseWriter, r *http.Request, full bool) {
	if r.Method == http.MethodPost {
		var sc store.Scope
		if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if sc.ID == "" {
			sc.ID = store.NewID()
		}
		if err := s.scopes.Insert(r.Context(), sc); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, sc, "scope", full)
		return
	}
	list, err := listEntities(r.Context(), s.scopes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondRedacted(w, r, list, "scope", full)
}

func (s *Server) restScopeItem(w http.ResponseWriter, r *http.Request, id string, full bool) {
	switch r.Method {
	case http.MethodGet:
		sc, ok, err := s.scopes.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !ok {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "no such scope"))
			return
		}
		s.respondRedacted(w, r, sc, "scope", full)
	case http.MethodPatch, http.MethodPut:
		var sc store.Scope
		if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if sc.Fixed {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "fixed scopes cannot be modified"))
			return
		}
		if err := s.scopes.Update(r.Context(), id, sc); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, sc, "scope", full)
	case http.MethodDelete:
		existing, ok, err := s.scopes.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if ok && existing.Fixed {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "fixed scopes cannot be deleted"))
			return
		}
		count, err := s.scopes.Delete(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
	}
}

// --- policy ---

func (s *Server) restPolicyCollection(w http.ResponseWriter, r *http.Request, full bool) {
	if r.Method == http.MethodPost {
		var p store.Policy
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if p.ID == "" {
			p.ID = store.NewID()
		}
		if err := s.policies.Insert(r.Context(), p); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, p, "policy", full)
		return
	}
	list, err := listEntities(r.Context(), s.policies)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondRedacted(w, r, list, "policy", full)
}

func (s *Server) restPolicyItem(w http.ResponseWriter, r *http.Request, id string, full bool) {
	switch r.Method {
	case http.MethodGet:
		p, ok, err := s.policies.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !ok {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "no such policy"))
			return
		}
		s.respondRedacted(w, r, p, "policy", full)
	case http.MethodPatch, http.MethodPut:
		var p store.Policy
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if p.Fixed {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "fixed policies cannot be modified"))
			return
		}
		if err := s.policies.Update(r.Context(), id, p); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondRedacted(w, r, p, "policy", full)
	case http.MethodDelete:
		existing, ok, err := s.policies.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if ok && existing.Fixed {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "fixed policies cannot be deleted"))
			return
		}
		count, err := s.policies.Delete(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
	}
}
