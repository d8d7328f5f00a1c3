// Package bootstrap implements seeding the fixed scopes/roles/policies
// and the root user on startup, optionally resetting durable or session
// state first, and replaying any user-supplied snapshot files — all in one
// transaction.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/cryptor"
	"github.com/mini-idp/mini-idp/snapshot"
	store "github.com/mini-idp/mini-idp/storage"
	sqlstore "github.com/mini-idp/mini-idp/storage/sql"
)

// Option names as they appear, comma-separated, in MINI_IDP_BOOTING_OPTIONS.
const (
	OptBootstrap    = "bootstrap"
	OptDataReset    = "bootstrap:data-reset"
	OptSessionReset = "bootstrap:session-reset"
)

// Options configures one bootstrap run.
type Options struct {
	Bootstrap    bool
	DataReset    bool
	SessionReset bool

	SelfRefURI string

	OwnerID       string
	OwnerUserName string
	OwnerEmail    string
	OwnerPassword string

	// SnapshotFiles are optional JSON/YAML files replayed after the fixed
	// seed data, in the order given.
	SnapshotFiles []string
}

// Bootstrapper runs data-reset, session-reset and seeding in one transaction.
type Bootstrapper struct {
	raw     *sql.DB
	flavor  sqlstore.Flavor
	cryptor *cryptor.Cryptor
}

func New(raw *sql.DB, flavor sqlstore.Flavor, crypt *cryptor.Cryptor) *Bootstrapper {
	return &Bootstrapper{raw: raw, flavor: flavor, cryptor: crypt}
}

// Run executes opts against the database. Table resets happen first, fixed
// scopes/roles/policies and the root user are seeded next, and any
// snapshot files are replayed last — all inside one transaction, so a
// failure anywhere rolls the whole run back.
func (b *Bootstrapper) Run(ctx context.Context, opts Options) error {
	db := sqlstore.Open(b.raw, b.flavor)

	return db.WithTx(ctx, b.raw, func(tx *sqlstore.DB) error {
		if opts.DataReset {
			for _, table := range []string{"scopes", "roles", "users", "clients", "policies"} {
				if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
					return fmt.Errorf("bootstrap: resetting table %s: %w", table, err)
				}
			}
		}

		if opts.SessionReset {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv_entries"); err != nil {
				return fmt.Errorf("bootstrap: resetting session table: %w", err)
			}
		}

		if !opts.Bootstrap {
			return nil
		}

		scopes := sqlstore.NewScopeStore(tx, b.raw)
		roles := sqlstore.NewRoleStore(tx, b.raw)
		policies := sqlstore.NewPolicyStore(tx, b.raw)
		users := sqlstore.NewUserStore(tx, b.raw, b.cryptor)
		clients := sqlstore.NewClientStore(tx, b.raw, b.cryptor)

		for _, s := range FixedScopes() {
			if err := ignoreDuplicate(scopes.Insert(ctx, s)); err != nil {
				return err
			}
		}
		for _, r := range FixedRoles() {
			if err := ignoreDuplicate(roles.Insert(ctx, r)); err != nil {
				return err
			}
		}
		for _, p := range FixedPolicies(opts.SelfRefURI) {
			if err := ignoreDuplicate(policies.Insert(ctx, p)); err != nil {
				return err
			}
		}

		if opts.OwnerUserName != "" {
			owner := ownerUser(opts)
			if err := ignoreDuplicate(users.Insert(ctx, owner)); err != nil {
				return err
			}
		}

		adapter := snapshot.NewAdapter(scopes, roles, users, clients, policies)
		for _, path := range opts.SnapshotFiles {
			snap, err := snapshot.LoadFile(path)
			if err != nil {
				return err
			}
			if err := adapter.Import(ctx, snap); err != nil {
				return err
			}
		}

		return nil
	})
}

func ownerUser(opts Options) store.User {
	id := opts.OwnerID
	if id == "" {
		id = "user-bootstrap-owner"
	}
	return store.User{
		ID:       id,
		Name:     opts.OwnerUserName,
		Email:    opts.OwnerEmail,
		Password: opts.OwnerPassword,
		Roles:    []string{"root"},
	}
}

func ignoreDuplicate(err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := apierror.As(err); ok && ae.Code == apierror.Duplicate {
		return nil
	}
	return err
}
