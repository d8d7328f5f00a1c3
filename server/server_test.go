package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mini-idp/mini-idp/bootstrap"
	"github.com/mini-idp/mini-idp/config"
	"github.com/mini-idp/mini-idp/cryptor"
	"github.com/mini-idp/mini-idp/pkg/log"
	store "github.com/mini-idp/mini-idp/storage"
	sqlstore "github.com/mini-idp/mini-idp/storage/sql"
)

type testEnv struct {
	srv   *Server
	mux   http.Handler
	clock clockwork.FakeClock
}

func newTestEnv(t *testing.T, configure func(cfg *config.Config)) *testEnv {
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
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o644))

	crypt, err := cryptor.Load(privPath, pubPath)
	require.NoError(t, err)

	raw, db, err := sqlstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	cfg := &config.Config{
		SelfRefURI:      "https://idp.example.com/",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		VerificationTTL: 30 * time.Minute,
	}
	if configure != nil {
		configure(cfg)
	}

	clk := clockwork.NewFakeClock()

	b := bootstrap.New(raw, sqlstore.SQLite, crypt)
	require.NoError(t, b.Run(context.Background(), bootstrap.Options{
		Bootstrap:              true,
		SelfRefURI:             cfg.SelfRefURI,
		OwnerUserName:          "root",
		OwnerEmail:             "root@example.com",
		OwnerPassword:          "change-me",
	}))

	scopes := sqlstore.NewScopeStore(db, raw)
	roles := sqlstore.NewRoleStore(db, raw)
	users := sqlstore.NewUserStore(db, raw, crypt)
	clients := sqlstore.NewClientStore(db, raw, crypt)
	policies := sqlstore.NewPolicyStore(db, raw)
	kv := sqlstore.NewKVStore(db, raw, clk)

	logger := log.NewLogrusLogger(logrus.New())

	srv := New(Deps{
		Config: cfg, Log: logger, Clock: clk, Cryptor: crypt,
		KV: kv, Scopes: scopes, Roles: roles, Users: users, Clients: clients, Policies: policies,
	})

	return &testEnv{srv: srv, mux: srv.Handler(), clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body strings.Reader
	if form != nil {
		body = *strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, &body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func rootAccessToken(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/oauth/login", url.Values{
		"username": {"root"}, "password": {"change-me"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

// Scenario 1: device flow happy path — initiate, activate, exchange.
func TestDeviceFlowHappyPathEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.srv.clients.Insert(ctx, store.OAuthClient{
		ID: store.NewID(), Name: "cli-app", GrantTypes: []string{"device_code"},
	}))
	require.NoError(t, env.srv.policies.Insert(ctx, store.Policy{
		ID:       store.NewID(),
		Name:     "root-user-self",
		Resource: "https://idp.example.com/",
		Subjects: []store.PolicySubject{{Kind: store.SubjectUser, Subject: "root@example.com"}},
		Scopes:   []string{"idp.user.self"},
	}))

	rec := env.do(t, http.MethodPost, "/oauth/device", url.Values{
		"client_id": {"cli-app"}, "scope": {"openid"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var initiated struct {
		DeviceCode string `json:"device_code"`
		UserCode   string `json:"user_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initiated))

	rootToken := rootAccessToken(t, env)
	loginRec := env.do(t, http.MethodPost, "/oauth/login", url.Values{
		"username": {"root"}, "password": {"change-me"},
	}, nil)
	sessionCookie := loginRec.Result().Cookies()

	activationReq := httptest.NewRequest(http.MethodPost, "/oauth/device-activation",
		strings.NewReader(`{"user_code":"`+initiated.UserCode+`","authorized":true}`))
	for _, c := range sessionCookie {
		activationReq.AddCookie(c)
	}
	activationReq.Header.Set("Content-Type", "application/json")
	activationRec := httptest.NewRecorder()
	env.mux.ServeHTTP(activationRec, activationReq)
	require.Equal(t, http.StatusOK, activationRec.Code)

	exchangeRec := env.do(t, http.MethodPost, "/oauth/token", url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":  {"cli-app"}, "device_code": {initiated.DeviceCode},
	}, nil)
	require.Equal(t, http.StatusOK, exchangeRec.Code)
	var tokens tokenResponse
	require.NoError(t, json.Unmarshal(exchangeRec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	_ = rootToken
}

// Scenario 2: polling before activation returns authorization_pending, not
// an error that would make a client stop polling.
func TestDeviceFlowPendingBeforeActivation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.srv.clients.Insert(ctx, store.OAuthClient{
		ID: store.NewID(), Name: "cli-app", GrantTypes: []string{"device_code"},
	}))

	rec := env.do(t, http.MethodPost, "/oauth/device", url.Values{
		"client_id": {"cli-app"}, "scope": {"openid"},
	}, nil)
	var initiated struct {
		DeviceCode string `json:"device_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initiated))

	exchangeRec := env.do(t, http.MethodPost, "/oauth/token", url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":  {"cli-app"}, "device_code": {initiated.DeviceCode},
	}, nil)
	require.Equal(t, http.StatusBadRequest, exchangeRec.Code)

	var wireErr wireError
	require.NoError(t, json.Unmarshal(exchangeRec.Body.Bytes(), &wireErr))
	require.Equal(t, "authorization_pending", wireErr.Error)
}

// Scenario 5: admin gate denies a missing or unverifiable bearer token (401),
// then honors X-Access-Level: full once the caller has idp.root.
func TestAdminGateDeniesThenAllowsWithFullAccess(t *testing.T) {
	env := newTestEnv(t, nil)

	// The plural route segment ("users") is the literal form the seed
	// scenario uses; gate.Namespace must still resolve the singular
	// idp.user scope namespace regardless of which form the path takes.
	noAuthRec := env.do(t, http.MethodGet, "/rest/users/", nil, nil)
	require.Equal(t, http.StatusUnauthorized, noAuthRec.Code)

	rootToken := rootAccessToken(t, env)

	deniedRec := env.do(t, http.MethodGet, "/rest/users/", nil, map[string]string{
		"Authorization": "Bearer " + "short-and-invalid-token-value",
	})
	require.Equal(t, http.StatusUnauthorized, deniedRec.Code)

	fullRec := env.do(t, http.MethodGet, "/rest/users/", nil, map[string]string{
		"Authorization":  "Bearer " + rootToken,
		"X-Access-Level": "full",
	})
	require.Equal(t, http.StatusOK, fullRec.Code)

	var users []map[string]interface{}
	require.NoError(t, json.Unmarshal(fullRec.Body.Bytes(), &users))
	require.NotEmpty(t, users)
	var root map[string]interface{}
	for _, u := range users {
		if u["name"] == "root" {
			root = u
		}
	}
	require.NotNil(t, root)
	require.Contains(t, root, "password", "X-Access-Level: full with idp.root must include sensitive fields")
}

// Scenario 5b: without X-Access-Level: full, sensitive fields are stripped.
func TestAdminRestRedactsSensitiveFieldsByDefault(t *testing.T) {
	env := newTestEnv(t, nil)
	rootToken := rootAccessToken(t, env)

	rec := env.do(t, http.MethodGet, "/rest/user/", nil, map[string]string{
		"Authorization": "Bearer " + rootToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var users []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	for _, u := range users {
		require.NotContains(t, u, "password")
	}
}

// Scenario 4: client_credentials with the wrong secret fails with 401.
func TestClientCredentialsWrongSecretFails(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.srv.clients.Insert(ctx, store.OAuthClient{
		ID: store.NewID(), Name: "service-a", Secret: "s3cret",
		GrantTypes: []string{"client_credentials"},
	}))

	rec := env.do(t, http.MethodPost, "/oauth/token", url.Values{
		"grant_type": {"client_credentials"}, "client_id": {"service-a"}, "client_secret": {"wrong"},
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// Scenario 6: the device verification window expires on TTL.
func TestDeviceCodeExpiresAfterVerificationTTLEndToEnd(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.VerificationTTL = time.Second })
	ctx := context.Background()
	require.NoError(t, env.srv.clients.Insert(ctx, store.OAuthClient{
		ID: store.NewID(), Name: "cli-app", GrantTypes: []string{"device_code"},
	}))

	rec := env.do(t, http.MethodPost, "/oauth/device", url.Values{
		"client_id": {"cli-app"}, "scope": {"openid"},
	}, nil)
	var initiated struct {
		DeviceCode string `json:"device_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initiated))

	env.clock.Advance(2 * time.Second)

	exchangeRec := env.do(t, http.MethodPost, "/oauth/token", url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":  {"cli-app"}, "device_code": {initiated.DeviceCode},
	}, nil)
	require.Equal(t, http.StatusBadRequest, exchangeRec.Code)

	var wireErr wireError
	require.NoError(t, json.Unmarshal(exchangeRec.Body.Bytes(), &wireErr))
	require.Equal(t, "expired_token", wireErr.Error)
}

func TestDiscoveryDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/.well-known/openid-configuration", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc discoveryDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "https://idp.example.com/", doc.Issuer)
}

func TestRecoveryEndpointRequiresRootOrAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/rpc/recovery", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rootToken := rootAccessToken(t, env)
	rec = env.do(t, http.MethodGet, "/rpc/recovery", nil, map[string]string{
		"Authorization": "Bearer " + rootToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}
