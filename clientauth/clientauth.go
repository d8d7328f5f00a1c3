// Package clientauth implements authenticating an OAuth client against
// the grant it is attempting to use.
package clientauth

import (
	"context"
	"crypto/subtle"
	"fmt"

	apierror "github.com/mini-idp/mini-idp/apierror"
	store "github.com/mini-idp/mini-idp/storage"
)

// Authenticator authenticates an OAuth client for a given grant type.
type Authenticator struct {
	clients store.EntityStore[store.OAuthClient]
}

func NewAuthenticator(clients store.EntityStore[store.OAuthClient]) *Authenticator {
	return &Authenticator{clients: clients}
}

// Authenticate looks clientID up by id-or-name, then validates it against
// grantType. clientSecret is required (and compared) only for
// grant_type=client_credentials; other grants (e.g. device_code) need only
// confirm the client is permitted to use them.
func (a *Authenticator) Authenticate(ctx context.Context, clientID, grantType, clientSecret string) (*store.OAuthClient, error) {
	client, ok, err := a.clients.Get(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("clientauth: looking up client %q: %w", clientID, err)
	}
	if !ok {
		return nil, apierror.New(apierror.InvalidClient, "unknown client")
	}

	if grantType == "client_credentials" {
		nameMatches := client.Name == clientID
		secretMatches := subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) == 1
		if !nameMatches || !secretMatches {
			return nil, apierror.New(apierror.InvalidClient, "client id or secret is incorrect")
		}
	}

	allowed := false
	for _, g := range client.GrantTypes {
		if g == grantType {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apierror.New(apierror.UnauthorizedClient, "client is not permitted to use grant type "+grantType)
	}

	return &client, nil
}
