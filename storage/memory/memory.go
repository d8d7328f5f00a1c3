// Package memory provides an in-process, map-backed implementation of
// storage.KeyValueStore and storage.EntityStore[T] for use where a real
// SQL backend is unnecessary — unit tests of callers that only need the
// storage contracts, and small/ephemeral deployments.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/clock"
	store "github.com/mini-idp/mini-idp/storage"
)

// Schema declares how a generic Store indexes and orders rows of type T,
// mirroring the declarative intent of storage/sql's Schema[T] without a
// column/table model, since there is no SQL to generate.
type Schema[T any] struct {
	// IDOf and NameOf extract the canonical id/name used for the id-or-name
	// Get lookup and for uniqueness checks on Insert.
	IDOf   func(T) string
	NameOf func(T) string
	// ExtraMatch returns additional values (e.g. a user's email) that also
	// satisfy Get and also must be unique across rows.
	ExtraMatch func(T) []string
	// SortKey returns the string used to order rows when Query.OrderBy
	// names field. An empty return means "field not recognized", in which
	// case rows are left in insertion order.
	SortKey func(row T, field string) string
}

// Store is the generic in-memory implementation of storage.EntityStore[T].
type Store[T any] struct {
	mu     sync.Mutex
	rows   map[string]T // keyed by IDOf(row)
	order  []string     // insertion order of keys, for a stable default Select order
	schema Schema[T]
}

// NewStore builds a Store for the given schema.
func NewStore[T any](schema Schema[T]) *Store[T] {
	return &Store[T]{rows: make(map[string]T), schema: schema}
}

func (s *Store[T]) matchValues(row T) []string {
	values := []string{s.schema.IDOf(row), s.schema.NameOf(row)}
	if s.schema.ExtraMatch != nil {
		values = append(values, s.schema.ExtraMatch(row)...)
	}
	return values
}

func (s *Store[T]) conflicts(candidate T, skipID string) bool {
	for id, existing := range s.rows {
		if id == skipID {
			continue
		}
		for _, v := range s.matchValues(candidate) {
			if v == "" {
				continue
			}
			for _, ev := range s.matchValues(existing) {
				if ev == v {
					return true
				}
			}
		}
	}
	return false
}

func (s *Store[T]) Insert(ctx context.Context, entity T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.schema.IDOf(entity)
	if _, exists := s.rows[id]; exists || s.conflicts(entity, "") {
		return apierror.New(apierror.Duplicate, "a row with this id or name already exists")
	}
	s.rows[id] = entity
	s.order = append(s.order, id)
	return nil
}

func (s *Store[T]) findKeyLocked(idOrName string) (string, bool) {
	for id, row := range s.rows {
		for _, v := range s.matchValues(row) {
			if v == idOrName {
				return id, true
			}
		}
	}
	return "", false
}

func (s *Store[T]) Update(ctx context.Context, idOrName string, entity T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.findKeyLocked(idOrName)
	if !ok {
		// No row matched idOrName; callers treat this as a no-op, not an
		// error, matching the SQL backend's Update semantics.
		return nil
	}
	newID := s.schema.IDOf(entity)
	if newID != key {
		delete(s.rows, key)
		for i, id := range s.order {
			if id == key {
				s.order[i] = newID
				break
			}
		}
		key = newID
	}
	s.rows[key] = entity
	return nil
}

func (s *Store[T]) Delete(ctx context.Context, idOrName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.findKeyLocked(idOrName)
	if !ok {
		return 0, nil
	}
	delete(s.rows, key)
	for i, id := range s.order {
		if id == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return 1, nil
}

func (s *Store[T]) Get(ctx context.Context, idOrName string) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	key, ok := s.findKeyLocked(idOrName)
	if !ok {
		return zero, false, nil
	}
	return s.rows[key], true, nil
}

// sliceCursor is a finite in-memory storage.Cursor[T] over a pre-materialized slice.
type sliceCursor[T any] struct {
	items []T
	idx   int
}

func (c *sliceCursor[T]) Next() bool {
	if c.idx >= len(c.items) {
		return false
	}
	c.idx++
	return true
}

func (c *sliceCursor[T]) Value() (T, error) {
	return c.items[c.idx-1], nil
}

func (c *sliceCursor[T]) Close() error { return nil }

// Select ignores q.Where — this backend has no query language, and every
// caller in this codebase only ever selects the full table and filters or
// sorts in Go. OrderBy and Limit are honored.
func (s *Store[T]) Select(ctx context.Context, q store.Query) (store.Cursor[T], error) {
	s.mu.Lock()
	items := make([]T, len(s.order))
	for i, id := range s.order {
		items[i] = s.rows[id]
	}
	s.mu.Unlock()

	if q.OrderBy != "" && s.schema.SortKey != nil {
		sort.SliceStable(items, func(i, j int) bool {
			return s.schema.SortKey(items[i], q.OrderBy) < s.schema.SortKey(items[j], q.OrderBy)
		})
	}
	if q.Limit > 0 && q.Limit < len(items) {
		items = items[:q.Limit]
	}
	return &sliceCursor[T]{items: items}, nil
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
	return v, true, err
}

var _ store.EntityStore[store.Scope] = (*Store[store.Scope])(nil)

// KV is the in-memory implementation of storage.KeyValueStore.
type KV struct {
	mu    sync.Mutex
	rows  map[string]kvRow
	clock clock.Clock
}

type kvRow struct {
	value    []byte
	expiryTS *int64
}

// NewKV builds a KV store driven by clk for TTL expiry checks.
func NewKV(clk clock.Clock) *KV {
	return &KV{rows: make(map[string]kvRow), clock: clk}
}

func (kv *KV) now() int64 {
	return kv.clock.Now().Unix()
}

func (kv *KV) expired(row kvRow) bool {
	return row.expiryTS != nil && *row.expiryTS <= kv.now()
}

// gcExpired deletes every row whose expiry has passed. Called opportunistically
// from Set and Delete, never from a background goroutine.
func (kv *KV) gcExpired() {
	for k, row := range kv.rows {
		if kv.expired(row) {
			delete(kv.rows, k)
		}
	}
}

func (kv *KV) Get(ctx context.Context, k string, out interface{}) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	row, ok := kv.rows[k]
	if !ok || kv.expired(row) {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(row.value, out); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (kv *KV) Set(ctx context.Context, k string, v interface{}, expiryTS *int64) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.rows[k] = kvRow{value: raw, expiryTS: expiryTS}
	kv.gcExpired()
	return nil
}

func (kv *KV) Delete(ctx context.Context, k string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.rows, k)
	kv.gcExpired()
	return nil
}

// BatchSet writes every entry atomically from the caller's perspective — the
// lock is held for the whole batch, so no other goroutine observes a partial
// write.
func (kv *KV) BatchSet(ctx context.Context, entries []store.BatchEntry) error {
	encoded := make([]kvRow, len(entries))
	for i, e := range entries {
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return err
		}
		encoded[i] = kvRow{value: raw, expiryTS: e.ExpiryTS}
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()
	for i, e := range entries {
		kv.rows[e.Key] = encoded[i]
	}
	kv.gcExpired()
	return nil
}

var _ store.KeyValueStore = (*KV)(nil)
