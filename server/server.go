// Package server is the HTTP surface: OAuth runtime endpoints (device flow,
// token, login), the admin REST CRUD surface, and the /rpc/recovery snapshot
// endpoint, routed with gorilla/mux.
package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mini-idp/mini-idp/clientauth"
	"github.com/mini-idp/mini-idp/clock"
	"github.com/mini-idp/mini-idp/config"
	"github.com/mini-idp/mini-idp/cryptor"
	"github.com/mini-idp/mini-idp/device"
	"github.com/mini-idp/mini-idp/gate"
	"github.com/mini-idp/mini-idp/pkg/log"
	"github.com/mini-idp/mini-idp/policy"
	"github.com/mini-idp/mini-idp/snapshot"
	store "github.com/mini-idp/mini-idp/storage"
	"github.com/mini-idp/mini-idp/token"
	"github.com/mini-idp/mini-idp/userauth"
)

type requestContextKey string

const (
	RequestKeyRequestID requestContextKey = "request_id"
	RequestKeyRemoteIP  requestContextKey = "remote_ip"
)

// Server is the composition root: every handler closes over these
// dependencies rather than reaching for globals.
type Server struct {
	cfg   *config.Config
	log   log.Logger
	clock clock.Clock

	cryptor *cryptor.Cryptor

	kv       store.KeyValueStore
	scopes   store.EntityStore[store.Scope]
	roles    store.EntityStore[store.Role]
	users    store.EntityStore[store.User]
	clients  store.EntityStore[store.OAuthClient]
	policies store.EntityStore[store.Policy]

	resolver   *policy.Resolver
	tokens     *token.Service
	clientAuth *clientauth.Authenticator
	userAuth   *userauth.Authenticator
	device     *device.Coordinator
	gate       *gate.Gate
	snapshots  *snapshot.Adapter

	metrics *Metrics
	router  *mux.Router
}

// Deps bundles every component the composition root wires into a Server.
type Deps struct {
	Config   *config.Config
	Log      log.Logger
	Clock    clock.Clock
	Cryptor  *cryptor.Cryptor
	KV       store.KeyValueStore
	Scopes   store.EntityStore[store.Scope]
	Roles    store.EntityStore[store.Role]
	Users    store.EntityStore[store.User]
	Clients  store.EntityStore[store.OAuthClient]
	Policies store.EntityStore[store.Policy]

	// Metrics is optional; a nil value disables request/device-flow metric
	// recording without affecting request handling.
	Metrics *Metrics
}

// New wires the policy resolver, token service, authenticators, device
// coordinator, authorization gate and snapshot adapter over the given
// stores, then registers every route.
func New(d Deps) *Server {
	resolver := policy.NewResolver(d.Users, d.Clients, d.Roles, d.Policies)
	tokens := token.NewService(d.Cryptor, resolver, d.Clock, d.Config.SelfRefURI, d.Config.AccessTokenTTL, d.Config.RefreshTokenTTL)
	clientAuth := clientauth.NewAuthenticator(d.Clients)
	userAuth := userauth.NewAuthenticator(d.Users, tokens)
	verificationURI := d.Config.SelfRefURI + "oauth/device-activation"
	deviceCoordinator := device.NewCoordinator(d.KV, clientAuth, tokens, d.Clock, d.Config.VerificationTTL, verificationURI)
	authGate := gate.NewGate(tokens)
	snapshots := snapshot.NewAdapter(d.Scopes, d.Roles, d.Users, d.Clients, d.Policies)

	s := &Server{
		cfg: d.Config, log: d.Log, clock: d.Clock, cryptor: d.Cryptor,
		kv: d.KV, scopes: d.Scopes, roles: d.Roles, users: d.Users, clients: d.Clients, policies: d.Policies,
		resolver: resolver, tokens: tokens, clientAuth: clientAuth, userAuth: userAuth,
		device: deviceCoordinator, gate: authGate, snapshots: snapshots,
		metrics: d.Metrics,
	}
	s.buildRouter()
	return s
}

func (s *Server) buildRouter() {
	r := mux.NewRouter().SkipClean(true)

	r.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery).Methods(http.MethodGet)

	r.HandleFunc("/oauth/device", s.handleDeviceInitiate).Methods(http.MethodPost)
	r.HandleFunc("/oauth/device-activation", s.handleDeviceActivation).Methods(http.MethodPost)
	r.HandleFunc("/oauth/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/oauth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/oauth/logout", s.handleLogout).Methods(http.MethodGet)

	r.HandleFunc("/rest/{kind}/", s.handleRestCollection).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/rest/{kind}/{id}", s.handleRestItem).Methods(http.MethodGet, http.MethodPatch, http.MethodPut, http.MethodDelete)

	r.HandleFunc("/rpc/recovery", s.handleRecovery).Methods(http.MethodGet, http.MethodPost)

	s.router = r
}

// Handler returns the fully wrapped HTTP handler: request-id/remote-ip
// context injection, request logging and CORS.
func (s *Server) Handler() http.Handler {
	withContext := s.withMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.router.ServeHTTP(w, r)
	}))

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Access-Level"}),
	)(withContext)

	return s.withRequestContext(handlers.CombinedLoggingHandler(logWriter{s.log}, cors))
}

func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), RequestKeyRemoteIP, r.RemoteAddr)
		ctx = context.WithValue(ctx, RequestKeyRequestID, uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type logWriter struct{ log log.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Info(string(p))
	return len(p), nil
}

// discoveryDocument is GET /.well-known/openid-configuration's body — the
// minimal set of fields this non-federating IdP actually backs.
type discoveryDocument struct {
	Issuer                string   `json:"issuer"`
	TokenEndpoint         string   `json:"token_endpoint"`
	DeviceAuthEndpoint    string   `json:"device_authorization_endpoint"`
	GrantTypesSupported   []string `json:"grant_types_supported"`
	ScopesSupported       []string `json:"scopes_supported"`
	IDTokenSigningAlgs    []string `json:"id_token_signing_alg_values_supported"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, discoveryDocument{
		Issuer:             s.cfg.SelfRefURI,
		TokenEndpoint:      s.cfg.SelfRefURI + "oauth/token",
		DeviceAuthEndpoint: s.cfg.SelfRefURI + "oauth/device",
		GrantTypesSupported: []string{
			"client_credentials",
			"urn:ietf:params:oauth:grant-type:device_code",
		},
		ScopesSupported:    []string{"openid", "offline_access"},
		IDTokenSigningAlgs: []string{"RS256"},
	})
}
