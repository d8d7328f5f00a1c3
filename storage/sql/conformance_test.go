package sql

import (
	"database/sql"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/mini-idp/mini-idp/storage/conformance"
	store "github.com/mini-idp/mini-idp/storage"
)

// TestConformance runs the shared EntityStore/KeyValueStore behavioral suite
// against the SQLite flavor. The Postgres flavor is exercised by the same
// suite in conformance_postgres_test.go, gated on MINI_IDP_TEST_POSTGRES_DSN.
func TestConformance(t *testing.T) {
	runConformance(t, func() (*sql.DB, *DB) { return openTestDB(t) })
}

// runConformance re-opens a fresh, empty database for every newStore call so
// each conformance sub-test starts from a clean table, matching the contract
// RunEntityStoreTests/RunKeyValueStoreTests assume.
func runConformance(t *testing.T, open func() (*sql.DB, *DB)) {
	t.Run("Scopes", func(t *testing.T) {
		sampleID := store.NewID()
		conformance.RunEntityStoreTests(t, func() store.EntityStore[store.Scope] {
			_, db := open()
			return NewScopeStore(db, nil)
		}, conformance.EntityStoreCase[store.Scope]{
			Sample:  store.Scope{ID: sampleID, Name: "idp.user.read"},
			Renamed: store.Scope{ID: sampleID, Name: "idp.user.list", Description: "reads users"},
			Other:   store.Scope{ID: store.NewID(), Name: "idp.user.write"},
			IDOf:    func(s store.Scope) string { return s.ID },
			NameOf:  func(s store.Scope) string { return s.Name },
		})
	})

	t.Run("Roles", func(t *testing.T) {
		sampleID := store.NewID()
		conformance.RunEntityStoreTests(t, func() store.EntityStore[store.Role] {
			_, db := open()
			return NewRoleStore(db, nil)
		}, conformance.EntityStoreCase[store.Role]{
			Sample:  store.Role{ID: sampleID, Name: "viewer"},
			Renamed: store.Role{ID: sampleID, Name: "viewer-renamed", Description: "renamed"},
			Other:   store.Role{ID: store.NewID(), Name: "editor"},
			IDOf:    func(r store.Role) string { return r.ID },
			NameOf:  func(r store.Role) string { return r.Name },
		})
	})

	t.Run("KV", func(t *testing.T) {
		conformance.RunKeyValueStoreTests(t, func() store.KeyValueStore {
			raw, db := open()
			return NewKVStore(db, raw, clockwork.NewFakeClock())
		})
	})
}
