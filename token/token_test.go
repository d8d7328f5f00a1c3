package token

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

	"github.com/mini-idp/mini-idp/clock"
	"github.com/mini-idp/mini-idp/cryptor"
	"github.com/mini-idp/mini-idp/policy"
	store "github.com/mini-idp/mini-idp/storage"
	sqlstore "github.com/mini-idp/mini-idp/storage/sql"
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

func testResolver(t *testing.T) *policy.Resolver {
	t.Helper()
	raw, db, err := sqlstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	clients := sqlstore.NewClientStore(db, raw, nil)
	users := sqlstore.NewUserStore(db, raw, nil)
	roles := sqlstore.NewRoleStore(db, raw)
	policies := sqlstore.NewPolicyStore(db, raw)
	ctx := context.Background()

	require.NoError(t, clients.Insert(ctx, store.OAuthClient{ID: store.NewID(), Name: "service-a"}))
	require.NoError(t, policies.Insert(ctx, store.Policy{
		ID:       store.NewID(),
		Name:     "service-a-access",
		Resource: "https://idp.example.com/",
		Subjects: []store.PolicySubject{{Kind: store.SubjectClient, Subject: "service-a"}},
		Scopes:   []string{"idp.read", "idp.write"},
	}))

	return policy.NewResolver(users, clients, roles, policies)
}

func TestIssueForAndParseRoundTrip(t *testing.T) {
	crypt := testCryptor(t)
	resolver := testResolver(t)
	clk := clock.NewFake()
	svc := NewService(crypt, resolver, clk, "https://idp.example.com/", time.Minute, time.Hour)

	tokens, err := svc.IssueFor(context.Background(), Subject{Name: "service-a", Kind: store.SubjectClient}, "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.Equal(t, "idp.read idp.write", tokens.AccessClaims.Scope)

	claims, err := svc.Parse(tokens.AccessToken, "")
	require.NoError(t, err)
	require.Equal(t, "service-a", claims.Subject)
}

func TestParseRejectsWrongAudience(t *testing.T) {
	crypt := testCryptor(t)
	resolver := testResolver(t)
	clk := clock.NewFake()
	svc := NewService(crypt, resolver, clk, "https://idp.example.com/", time.Minute, time.Hour)

	tokens, err := svc.IssueFor(context.Background(), Subject{Name: "service-a", Kind: store.SubjectClient}, "", nil)
	require.NoError(t, err)

	_, err = svc.Parse(tokens.AccessToken, "https://other.example.com/")
	require.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	crypt := testCryptor(t)
	resolver := testResolver(t)
	clk := clock.NewFake()
	svc := NewService(crypt, resolver, clk, "https://idp.example.com/", time.Minute, time.Hour)

	tokens, err := svc.IssueFor(context.Background(), Subject{Name: "service-a", Kind: store.SubjectClient}, "", nil)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = svc.Parse(tokens.AccessToken, "")
	require.Error(t, err)
}

func TestIssueForRequestedScopeIntersection(t *testing.T) {
	crypt := testCryptor(t)
	resolver := testResolver(t)
	svc := NewService(crypt, resolver, clock.NewFake(), "https://idp.example.com/", time.Minute, time.Hour)

	tokens, err := svc.IssueFor(context.Background(), Subject{Name: "service-a", Kind: store.SubjectClient}, "", []string{"idp.read"})
	require.NoError(t, err)
	require.Equal(t, "idp.read idp.write", tokens.AccessClaims.Scope, "the matching policy still grants its full scope set")
}

func TestIssueForUnknownSubjectFails(t *testing.T) {
	crypt := testCryptor(t)
	resolver := testResolver(t)
	svc := NewService(crypt, resolver, clock.NewFake(), "https://idp.example.com/", time.Minute, time.Hour)

	_, err := svc.IssueFor(context.Background(), Subject{Name: "ghost", Kind: store.SubjectClient}, "", nil)
	require.Error(t, err)
}
