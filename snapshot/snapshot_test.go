package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	store "github.com/mini-idp/mini-idp/storage"
	sqlstore "github.com/mini-idp/mini-idp/storage/sql"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	raw, db, err := sqlstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	return NewAdapter(
		sqlstore.NewScopeStore(db, raw),
		sqlstore.NewRoleStore(db, raw),
		sqlstore.NewUserStore(db, raw, nil),
		sqlstore.NewClientStore(db, raw, nil),
		sqlstore.NewPolicyStore(db, raw),
	)
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, source.scopes.Insert(ctx, store.Scope{ID: store.NewID(), Name: "idp.user.read"}))
	require.NoError(t, source.roles.Insert(ctx, store.Role{ID: store.NewID(), Name: "viewer"}))

	snap, err := source.Export(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Scopes, 1)
	require.Len(t, snap.Roles, 1)

	dest := newTestAdapter(t)
	require.NoError(t, dest.Import(ctx, snap))

	imported, err := dest.Export(ctx)
	require.NoError(t, err)
	require.Len(t, imported.Scopes, 1)
	require.Equal(t, "idp.user.read", imported.Scopes[0].Name)
}

func TestImportIgnoresDuplicates(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	scope := store.Scope{ID: store.NewID(), Name: "idp.user.read"}
	require.NoError(t, adapter.scopes.Insert(ctx, scope))

	snap := &AppSnapshot{Scopes: []store.Scope{scope}}
	require.NoError(t, adapter.Import(ctx, snap), "re-importing a row that already exists must be a no-op, not an error")
}

func TestLoadFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.yaml")
	contents := `
scopes:
  - id: scope-1
    name: idp.user.read
roles:
  - id: role-1
    name: viewer
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	snap, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, snap.Scopes, 1)
	require.Equal(t, "idp.user.read", snap.Scopes[0].Name)
	require.Len(t, snap.Roles, 1)
}

func TestLoadFileMissingPathFails(t *testing.T) {
	_, err := LoadFile("/no/such/snapshot.yaml")
	require.Error(t, err)
}
