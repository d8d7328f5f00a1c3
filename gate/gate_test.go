package gate

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/clock"
	"github.com/mini-idp/mini-idp/cryptor"
	"github.com/mini-idp/mini-idp/policy"
	store "github.com/mini-idp/mini-idp/storage"
	sqlstore "github.com/mini-idp/mini-idp/storage/sql"
	"github.com/mini-idp/mini-idp/token"
)

func testCryptor(t *testing.T) *cryptor.Cryptor {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))

	pubPath := filepath.Join(dir, "public.pem")
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o600))

	c, err := cryptor.Load(privPath, pubPath)
	require.NoError(t, err)
	return c
}

func tokenFor(t *testing.T, scopes []string) (*Gate, string) {
	t.Helper()
	raw, db, err := sqlstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	crypt := testCryptor(t)
	clients := sqlstore.NewClientStore(db, raw, nil)
	users := sqlstore.NewUserStore(db, raw, nil)
	roles := sqlstore.NewRoleStore(db, raw)
	policies := sqlstore.NewPolicyStore(db, raw)
	ctx := context.Background()

	require.NoError(t, clients.Insert(ctx, store.OAuthClient{ID: store.NewID(), Name: "caller"}))
	require.NoError(t, policies.Insert(ctx, store.Policy{
		ID:       store.NewID(),
		Name:     "caller-grant",
		Resource: "https://idp.example.com/",
		Subjects: []store.PolicySubject{{Kind: store.SubjectClient, Subject: "caller"}},
		Scopes:   scopes,
	}))

	resolver := policy.NewResolver(users, clients, roles, policies)
	tokens := token.NewService(crypt, resolver, clock.NewFake(), "https://idp.example.com/", time.Minute, time.Hour)

	tokenSet, err := tokens.IssueFor(ctx, token.Subject{Name: "caller", Kind: store.SubjectClient}, "", nil)
	require.NoError(t, err)

	return NewGate(tokens), tokenSet.AccessToken
}

func TestAuthorizeGrantsWithMatchingScope(t *testing.T) {
	g, tok := tokenFor(t, []string{"idp.user.read"})
	claims, err := g.Authorize("Bearer "+tok, "user", ActionRead)
	require.NoError(t, err)
	require.NotNil(t, claims)
}

func TestAuthorizeDeniesWithoutMatchingScope(t *testing.T) {
	g, tok := tokenFor(t, []string{"idp.user.read"})
	_, err := g.Authorize("Bearer "+tok, "user", ActionWrite)
	require.Error(t, err)
	ae, ok := apierror.As(err)
	require.True(t, ok)
	require.Equal(t, apierror.AccessDotDenied, ae.Code)
}

func TestAuthorizeRootScopeBypassesCheck(t *testing.T) {
	g, tok := tokenFor(t, []string{"idp.root"})
	_, err := g.Authorize("Bearer "+tok, "client", ActionDelete)
	require.NoError(t, err)
}

func TestAuthorizeAdminScopeBypassesCheck(t *testing.T) {
	g, tok := tokenFor(t, []string{"idp.admin"})
	_, err := g.Authorize("Bearer "+tok, "policy", ActionWrite)
	require.NoError(t, err)
}

func TestExtractBearerTokenMissingHeader(t *testing.T) {
	_, err := ExtractBearerToken("")
	require.Error(t, err)
	ae, ok := apierror.As(err)
	require.True(t, ok)
	require.Equal(t, apierror.MissingToken, ae.Code)
}

func TestExtractBearerTokenTooShort(t *testing.T) {
	_, err := ExtractBearerToken("Bearer short")
	require.Error(t, err)
	ae, ok := apierror.As(err)
	require.True(t, ok)
	require.Equal(t, apierror.MissingToken, ae.Code)
}

func TestHasFullAccess(t *testing.T) {
	require.True(t, HasFullAccess(&store.AccessClaims{Scope: "idp.root"}))
	require.True(t, HasFullAccess(&store.AccessClaims{Scope: "idp.user.read idp.admin"}))
	require.False(t, HasFullAccess(&store.AccessClaims{Scope: "idp.user.read"}))
}
