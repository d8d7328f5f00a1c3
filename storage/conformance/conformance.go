// Package conformance provides a single test suite that any
// storage.EntityStore[T]/storage.KeyValueStore implementation can be run
// against, so storage/sql and storage/memory are held to the same
// behavioral contract instead of each growing its own ad hoc assertions.
package conformance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	apierror "github.com/mini-idp/mini-idp/apierror"
	store "github.com/mini-idp/mini-idp/storage"
)

// EntityStoreCase describes one entity type's conformance fixtures. Sample
// and Other must have distinct IDs and names; IDOf/NameOf mirror the
// schema the backend under test was built with, so the suite never needs to
// know the entity's field layout beyond this.
type EntityStoreCase[T any] struct {
	Sample  T
	Renamed T // same ID as Sample, different Name, used to exercise Update
	Other   T // distinct ID and name, used to exercise duplicate rejection
	IDOf    func(T) string
	NameOf  func(T) string
}

// RunEntityStoreTests exercises Insert/Get/Update/Delete and duplicate
// rejection against a freshly constructed, empty store for each sub-test.
func RunEntityStoreTests[T any](t *testing.T, newStore func() store.EntityStore[T], c EntityStoreCase[T]) {
	t.Run("InsertThenGetByIDAndName", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, c.Sample))

		byID, ok, err := s.Get(ctx, c.IDOf(c.Sample))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, c.NameOf(c.Sample), c.NameOf(byID))

		byName, ok, err := s.Get(ctx, c.NameOf(c.Sample))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, c.IDOf(c.Sample), c.IDOf(byName))
	})

	t.Run("GetUnknownReturnsFalseNotError", func(t *testing.T) {
		s := newStore()
		_, ok, err := s.Get(context.Background(), "no-such-id")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("InsertDuplicateIDFails", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, c.Sample))

		err := s.Insert(ctx, c.Sample)
		require.Error(t, err)
		ae, ok := apierror.As(err)
		require.True(t, ok)
		require.Equal(t, apierror.Duplicate, ae.Code)
	})

	t.Run("UpdateOverwritesFields", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, c.Sample))
		require.NoError(t, s.Update(ctx, c.IDOf(c.Sample), c.Renamed))

		got, ok, err := s.Get(ctx, c.IDOf(c.Sample))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, c.NameOf(c.Renamed), c.NameOf(got))
	})

	t.Run("UpdateUnknownIsNotAnError", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.Update(context.Background(), "no-such-id", c.Sample))
	})

	t.Run("DeleteReturnsAffectedCount", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, c.Sample))

		n, err := s.Delete(ctx, c.IDOf(c.Sample))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		n, err = s.Delete(ctx, c.IDOf(c.Sample))
		require.NoError(t, err)
		require.Equal(t, 0, n)
	})

	t.Run("SelectReturnsEveryInsertedRow", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, c.Sample))
		require.NoError(t, s.Insert(ctx, c.Other))

		cur, err := s.Select(ctx, store.Query{})
		require.NoError(t, err)
		defer cur.Close()

		var count int
		for cur.Next() {
			_, err := cur.Value()
			require.NoError(t, err)
			count++
		}
		require.Equal(t, 2, count)
	})
}

// RunKeyValueStoreTests exercises Get/Set/Delete/BatchSet against a freshly
// constructed, empty store for each sub-test.
func RunKeyValueStoreTests(t *testing.T, newStore func() store.KeyValueStore) {
	t.Run("SetThenGetRoundTrips", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", map[string]string{"a": "b"}, nil))

		var out map[string]string
		ok, err := s.Get(ctx, "k", &out)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "b", out["a"])
	})

	t.Run("GetMissingKeyReturnsFalse", func(t *testing.T) {
		s := newStore()
		var out string
		ok, err := s.Get(context.Background(), "missing", &out)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("SetOverwritesExistingValue", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", "first", nil))
		require.NoError(t, s.Set(ctx, "k", "second", nil))

		var out string
		ok, err := s.Get(ctx, "k", &out)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "second", out)
	})

	t.Run("DeleteRemovesKey", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", "v", nil))
		require.NoError(t, s.Delete(ctx, "k"))

		var out string
		ok, err := s.Get(ctx, "k", &out)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("BatchSetWritesEveryEntry", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.BatchSet(ctx, []store.BatchEntry{
			{Key: "a", Value: 1},
			{Key: "b", Value: 2},
		}))

		var a, b int
		ok, err := s.Get(ctx, "a", &a)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 1, a)

		ok, err = s.Get(ctx, "b", &b)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 2, b)
	})
}
