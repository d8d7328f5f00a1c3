// Package policy implements policy resolution: expanding a subject into the actors it acts
// as, selecting the policies that apply to a resource URL, and filtering
// those policies by subject match and requested scope.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apierror "github.com/mini-idp/mini-idp/apierror"
	store "github.com/mini-idp/mini-idp/storage"
)

// actor is one identity a subject resolves to for policy-subject matching.
type actor struct {
	kind store.PolicySubjectKind
	name string
}

// Resolver resolves a subject and resource into the policies that apply to it.
type Resolver struct {
	users    store.EntityStore[store.User]
	clients  store.EntityStore[store.OAuthClient]
	roles    store.EntityStore[store.Role]
	policies store.EntityStore[store.Policy]
}

func NewResolver(
	users store.EntityStore[store.User],
	clients store.EntityStore[store.OAuthClient],
	roles store.EntityStore[store.Role],
	policies store.EntityStore[store.Policy],
) *Resolver {
	return &Resolver{users: users, clients: clients, roles: roles, policies: policies}
}

// expand looks up the subject and returns every actor it acts as. A client
// acts only as itself; a role acts only as itself; a user acts as itself,
// matched by email, plus every role named in its Roles list. Note that a
// policy subject naming a user by their login name rather than email will
// never match here, even though Get itself admits name/email/id lookups.
func (r *Resolver) expand(ctx context.Context, kind store.PolicySubjectKind, subjectIDOrName string) ([]actor, error) {
	switch kind {
	case store.SubjectClient:
		client, ok, err := r.clients.Get(ctx, subjectIDOrName)
		if err != nil {
			return nil, fmt.Errorf("policy: looking up client %q: %w", subjectIDOrName, err)
		}
		if !ok {
			return nil, apierror.New(apierror.InvalidSubject, "no such client: "+subjectIDOrName)
		}
		return []actor{{kind: store.SubjectClient, name: client.Name}}, nil

	case store.SubjectRole:
		role, ok, err := r.roles.Get(ctx, subjectIDOrName)
		if err != nil {
			return nil, fmt.Errorf("policy: looking up role %q: %w", subjectIDOrName, err)
		}
		if !ok {
			return nil, apierror.New(apierror.InvalidSubject, "no such role: "+subjectIDOrName)
		}
		return []actor{{kind: store.SubjectRole, name: role.Name}}, nil

	case store.SubjectUser:
		user, ok, err := r.users.Get(ctx, subjectIDOrName)
		if err != nil {
			return nil, fmt.Errorf("policy: looking up user %q: %w", subjectIDOrName, err)
		}
		if !ok {
			return nil, apierror.New(apierror.InvalidSubject, "no such user: "+subjectIDOrName)
		}
		actors := []actor{{kind: store.SubjectUser, name: user.Email}}
		for _, roleName := range user.Roles {
			actors = append(actors, actor{kind: store.SubjectRole, name: roleName})
		}
		return actors, nil

	default:
		return nil, apierror.New(apierror.InvalidSubject, "unknown subject kind: "+string(kind))
	}
}

func resourceMatches(resource, policyResource string) bool {
	if strings.HasSuffix(policyResource, "/") {
		return strings.HasPrefix(resource, policyResource)
	}
	return resource == policyResource
}

func subjectsMatch(actors []actor, subjects []store.PolicySubject) bool {
	for _, s := range subjects {
		for _, a := range actors {
			if s.Kind == a.kind && s.Subject == a.name {
				return true
			}
		}
	}
	return false
}

// scopesSuperset reports whether granted contains every scope in requested.
func scopesSuperset(granted, requested []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		set[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// Resolve expands subject into its actors, selects every policy whose
// resource matches resourceURL, filters to those naming one of the actors as
// a subject and — if requestedScopes is non-empty — to those whose granted
// scopes are a superset of requestedScopes. It returns the surviving
// policies and a psl ("Kind/name") list describing every actor the subject
// expanded to.
func (r *Resolver) Resolve(ctx context.Context, kind store.PolicySubjectKind, subjectIDOrName, resourceURL string, requestedScopes []string) (surviving []store.Policy, psl []string, err error) {
	actors, err := r.expand(ctx, kind, subjectIDOrName)
	if err != nil {
		return nil, nil, err
	}

	psl = make([]string, len(actors))
	for i, a := range actors {
		psl[i] = title(string(a.kind)) + "/" + a.name
	}

	cursor, err := r.policies.Select(ctx, store.Query{})
	if err != nil {
		return nil, nil, fmt.Errorf("policy: listing policies: %w", err)
	}
	defer cursor.Close()

	for cursor.Next() {
		p, err := cursor.Value()
		if err != nil {
			return nil, nil, err
		}
		if !resourceMatches(resourceURL, p.Resource) {
			continue
		}
		if !subjectsMatch(actors, p.Subjects) {
			continue
		}
		if len(requestedScopes) > 0 && !scopesSuperset(p.Scopes, requestedScopes) {
			continue
		}
		surviving = append(surviving, p)
	}

	return surviving, psl, nil
}

// UnionScopes returns the ascending-sorted union of scopes across policies.
func UnionScopes(policies []store.Policy) []string {
	set := make(map[string]struct{})
	for _, p := range policies {
		for _, s := range p.Scopes {
			set[s] = struct{}{}
		}
	}
	scopes := make([]string, 0, len(set))
	for s := range set {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
