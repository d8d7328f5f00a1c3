// Package userauth implements validating a user's password and minting
// a token set for the browser/password login flow.
package userauth

import (
	"context"
	"crypto/subtle"
	"fmt"

	apierror "github.com/mini-idp/mini-idp/apierror"
	store "github.com/mini-idp/mini-idp/storage"
	"github.com/mini-idp/mini-idp/token"
)

// Authenticator validates user credentials and mints tokens on success.
type Authenticator struct {
	users  store.EntityStore[store.User]
	tokens *token.Service
}

func NewAuthenticator(users store.EntityStore[store.User], tokens *token.Service) *Authenticator {
	return &Authenticator{users: users, tokens: tokens}
}

// Result is the outcome of a successful password login.
type Result struct {
	Principal store.User
	Tokens    *store.TokenSet
}

// Authenticate looks usernameOrEmail up, compares password byte-for-byte
// (constant time) against the decrypted stored plaintext, and on success
// issues a token set with subject={name=user.Name, kind=user}.
func (a *Authenticator) Authenticate(ctx context.Context, usernameOrEmail, password, resourceURL string) (*Result, error) {
	user, ok, err := a.users.Get(ctx, usernameOrEmail)
	if err != nil {
		return nil, fmt.Errorf("userauth: looking up user %q: %w", usernameOrEmail, err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
		return nil, apierror.New(apierror.InvalidCredential, "username/email or password is incorrect")
	}

	tokens, err := a.tokens.IssueFor(ctx, token.Subject{Name: user.Name, Kind: store.SubjectUser}, resourceURL, nil)
	if err != nil {
		return nil, err
	}

	return &Result{Principal: user, Tokens: tokens}, nil
}
