// Package snapshot implements a thin bulk import/
// export wrapper over the EntityStore[T] CRUD layer, used by the /rpc/
// recovery endpoint and by bootstrap's optional seed-file replay.
package snapshot

import (
	"context"
	"fmt"
	"os"

	"github.com/ghodss/yaml"

	apierror "github.com/mini-idp/mini-idp/apierror"
	store "github.com/mini-idp/mini-idp/storage"
)

// AppSnapshot is the full exportable/importable state of the identity
// provider's durable entities (excluding the ephemeral KV store).
type AppSnapshot struct {
	Scopes   []store.Scope       `json:"scopes"`
	Roles    []store.Role        `json:"roles"`
	Users    []store.User        `json:"users"`
	Clients  []store.OAuthClient `json:"clients"`
	Policies []store.Policy      `json:"policies"`
}

// Adapter performs bulk import/export across every entity store.
type Adapter struct {
	scopes   store.EntityStore[store.Scope]
	roles    store.EntityStore[store.Role]
	users    store.EntityStore[store.User]
	clients  store.EntityStore[store.OAuthClient]
	policies store.EntityStore[store.Policy]
}

func NewAdapter(
	scopes store.EntityStore[store.Scope],
	roles store.EntityStore[store.Role],
	users store.EntityStore[store.User],
	clients store.EntityStore[store.OAuthClient],
	policies store.EntityStore[store.Policy],
) *Adapter {
	return &Adapter{scopes: scopes, roles: roles, users: users, clients: clients, policies: policies}
}

// Export performs a bulk select across every entity store.
func (a *Adapter) Export(ctx context.Context) (*AppSnapshot, error) {
	snap := &AppSnapshot{}

	if err := drain(ctx, a.scopes, &snap.Scopes); err != nil {
		return nil, err
	}
	if err := drain(ctx, a.roles, &snap.Roles); err != nil {
		return nil, err
	}
	if err := drain(ctx, a.users, &snap.Users); err != nil {
		return nil, err
	}
	if err := drain(ctx, a.clients, &snap.Clients); err != nil {
		return nil, err
	}
	if err := drain(ctx, a.policies, &snap.Policies); err != nil {
		return nil, err
	}

	return snap, nil
}

func drain[T any](ctx context.Context, es store.EntityStore[T], out *[]T) error {
	cursor, err := es.Select(ctx, store.Query{})
	if err != nil {
		return err
	}
	defer cursor.Close()
	for cursor.Next() {
		v, err := cursor.Value()
		if err != nil {
			return err
		}
		*out = append(*out, v)
	}
	return nil
}

// Import bulk-adds every entity in snap, ignoring rows that already exist
// (INSERT-ON-CONFLICT-DO-NOTHING).
func (a *Adapter) Import(ctx context.Context, snap *AppSnapshot) error {
	for _, s := range snap.Scopes {
		if err := insertIgnoringDuplicate(a.scopes.Insert(ctx, s)); err != nil {
			return err
		}
	}
	for _, r := range snap.Roles {
		if err := insertIgnoringDuplicate(a.roles.Insert(ctx, r)); err != nil {
			return err
		}
	}
	for _, u := range snap.Users {
		if err := insertIgnoringDuplicate(a.users.Insert(ctx, u)); err != nil {
			return err
		}
	}
	for _, c := range snap.Clients {
		if err := insertIgnoringDuplicate(a.clients.Insert(ctx, c)); err != nil {
			return err
		}
	}
	for _, p := range snap.Policies {
		if err := insertIgnoringDuplicate(a.policies.Insert(ctx, p)); err != nil {
			return err
		}
	}
	return nil
}

func insertIgnoringDuplicate(err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := apierror.As(err); ok && ae.Code == apierror.Duplicate {
		return nil
	}
	return err
}

// LoadFile reads a JSON or YAML snapshot file. ghodss/yaml round-trips YAML
// through JSON, so a single json-tagged AppSnapshot parses either format.
func LoadFile(path string) (*AppSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading %s: %w", path, err)
	}
	var snap AppSnapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: parsing %s: %w", path, err)
	}
	return &snap, nil
}
