package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	store "github.com/mini-idp/mini-idp/storage"
	sqlstore "github.com/mini-idp/mini-idp/storage/sql"
)

func newTestResolver(t *testing.T) (*Resolver, *sqlstore.Store[store.User], *sqlstore.Store[store.OAuthClient], *sqlstore.Store[store.Role], *sqlstore.Store[store.Policy]) {
	t.Helper()
	raw, db, err := sqlstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	users := sqlstore.NewUserStore(db, raw, nil)
	clients := sqlstore.NewClientStore(db, raw, nil)
	roles := sqlstore.NewRoleStore(db, raw)
	policies := sqlstore.NewPolicyStore(db, raw)

	return NewResolver(users, clients, roles, policies), users, clients, roles, policies
}

func TestResolveMatchesUserByEmailViaRole(t *testing.T) {
	resolver, users, _, roles, policies := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, roles.Insert(ctx, store.Role{ID: store.NewID(), Name: "admin"}))
	require.NoError(t, users.Insert(ctx, store.User{
		ID: store.NewID(), Name: "alice", Email: "alice@example.com", Roles: []string{"admin"},
	}))
	require.NoError(t, policies.Insert(ctx, store.Policy{
		ID:       store.NewID(),
		Name:     "admin-read",
		Resource: "https://idp.example.com/",
		Subjects: []store.PolicySubject{{Kind: store.SubjectRole, Subject: "admin"}},
		Scopes:   []string{"idp.user.read"},
	}))

	surviving, psl, err := resolver.Resolve(ctx, store.SubjectUser, "alice", "https://idp.example.com/users", []string{"idp.user.read"})
	require.NoError(t, err)
	require.Len(t, surviving, 1)
	require.Contains(t, psl, "User/alice@example.com")
	require.Contains(t, psl, "Role/admin")
}

func TestResolveUserNameDoesNotMatchPolicySubject(t *testing.T) {
	resolver, users, _, _, policies := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, users.Insert(ctx, store.User{ID: store.NewID(), Name: "bob", Email: "bob@example.com"}))
	require.NoError(t, policies.Insert(ctx, store.Policy{
		ID:       store.NewID(),
		Name:     "by-login-name",
		Resource: "https://idp.example.com/",
		Subjects: []store.PolicySubject{{Kind: store.SubjectUser, Subject: "bob"}},
		Scopes:   []string{"idp.user.read"},
	}))

	surviving, _, err := resolver.Resolve(ctx, store.SubjectUser, "bob", "https://idp.example.com/users", nil)
	require.NoError(t, err)
	require.Empty(t, surviving, "a policy subject naming bob's login name, not his email, must not match")
}

func TestResolveResourcePrefixVsExactMatch(t *testing.T) {
	resolver, _, clients, _, policies := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, clients.Insert(ctx, store.OAuthClient{ID: store.NewID(), Name: "service-a"}))
	require.NoError(t, policies.Insert(ctx, store.Policy{
		ID:       store.NewID(),
		Name:     "prefix",
		Resource: "https://api.example.com/",
		Subjects: []store.PolicySubject{{Kind: store.SubjectClient, Subject: "service-a"}},
		Scopes:   []string{"idp.read"},
	}))
	require.NoError(t, policies.Insert(ctx, store.Policy{
		ID:       store.NewID(),
		Name:     "exact",
		Resource: "https://api.example.com/v1/exact",
		Subjects: []store.PolicySubject{{Kind: store.SubjectClient, Subject: "service-a"}},
		Scopes:   []string{"idp.write"},
	}))

	surviving, _, err := resolver.Resolve(ctx, store.SubjectClient, "service-a", "https://api.example.com/v1/anything", nil)
	require.NoError(t, err)
	require.Len(t, surviving, 1)
	require.Equal(t, "prefix", surviving[0].Name)

	surviving, _, err = resolver.Resolve(ctx, store.SubjectClient, "service-a", "https://api.example.com/v1/exact", nil)
	require.NoError(t, err)
	require.Len(t, surviving, 2, "the trailing-slash prefix policy and the exact-match policy both apply")
}

func TestResolveScopeSupersetFiltering(t *testing.T) {
	resolver, _, clients, _, policies := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, clients.Insert(ctx, store.OAuthClient{ID: store.NewID(), Name: "service-a"}))
	require.NoError(t, policies.Insert(ctx, store.Policy{
		ID:       store.NewID(),
		Name:     "narrow",
		Resource: "https://api.example.com/",
		Subjects: []store.PolicySubject{{Kind: store.SubjectClient, Subject: "service-a"}},
		Scopes:   []string{"idp.read"},
	}))

	_, _, err := resolver.Resolve(ctx, store.SubjectClient, "service-a", "https://api.example.com/x", []string{"idp.read", "idp.write"})
	require.NoError(t, err)

	surviving, _, err := resolver.Resolve(ctx, store.SubjectClient, "service-a", "https://api.example.com/x", []string{"idp.read", "idp.write"})
	require.NoError(t, err)
	require.Empty(t, surviving, "a policy granting only idp.read cannot satisfy a request for idp.read+idp.write")

	surviving, _, err = resolver.Resolve(ctx, store.SubjectClient, "service-a", "https://api.example.com/x", []string{"idp.read"})
	require.NoError(t, err)
	require.Len(t, surviving, 1)
}

func TestResolveUnknownSubjectFails(t *testing.T) {
	resolver, _, _, _, _ := newTestResolver(t)
	_, _, err := resolver.Resolve(context.Background(), store.SubjectUser, "ghost", "https://api.example.com/", nil)
	require.Error(t, err)
}

func TestUnionScopesDedupesAndSorts(t *testing.T) {
	got := UnionScopes([]store.Policy{
		{Scopes: []string{"idp.write", "idp.read"}},
		{Scopes: []string{"idp.read", "idp.admin"}},
	})
	require.Equal(t, []string{"idp.admin", "idp.read", "idp.write"}, got)
}

func TestUnionScopesEmpty(t *testing.T) {
	require.Empty(t, UnionScopes(nil))
}
