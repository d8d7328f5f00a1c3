// Package device implements the device authorization grant (RFC 8628)
// state machine: initiation, browser activation and token exchange, entirely
// driven by the conventional keys it writes to the KeyValueStore.
package device

import (
	"context"
	"crypto/sha1" //nolint:gosec // used only to derive a short display code, not for integrity
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/clientauth"
	"github.com/mini-idp/mini-idp/clock"
	store "github.com/mini-idp/mini-idp/storage"
	"github.com/mini-idp/mini-idp/token"
)

// State values stored at device-code:D/state.
const (
	StateAuthorizationPending = "authorization_pending"
	StateOK                   = "ok"
	StateAccessDenied         = "access_denied"
)

// PollInterval is the interval (seconds) every initiation response
// advertises to the polling client.
const PollInterval = 5

// Info is the payload written to device-code:D/info at initiation and
// refreshed at activation once the authenticating subject is known.
type Info struct {
	Subject     string   `json:"sub"`
	Scopes      []string `json:"scopes"`
	ResourceURL string   `json:"resource_url"`
}

// Coordinator drives the device-flow state machine.
type Coordinator struct {
	kv              store.KeyValueStore
	clients         *clientauth.Authenticator
	tokens          *token.Service
	clock           clock.Clock
	verificationTTL time.Duration
	verificationURI string // e.g. https://idp.example.com/oauth/device-activation
}

func NewCoordinator(kv store.KeyValueStore, clients *clientauth.Authenticator, tokens *token.Service, clk clock.Clock, verificationTTL time.Duration, verificationURI string) *Coordinator {
	return &Coordinator{kv: kv, clients: clients, tokens: tokens, clock: clk, verificationTTL: verificationTTL, verificationURI: verificationURI}
}

// InitiateResult is the JSON body of a successful POST /oauth/device.
type InitiateResult struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// Initiate starts a new device authorization session for clientID,
// requesting scope (space-separated) against resourceURL.
func (c *Coordinator) Initiate(ctx context.Context, clientID, scope, resourceURL string) (*InitiateResult, error) {
	scopes := splitScope(scope)
	if !containsAny(scopes, "openid", "offline_access") {
		return nil, apierror.New(apierror.InvalidScope, "scope must include openid or offline_access")
	}

	if _, err := c.clients.Authenticate(ctx, clientID, "device_code", ""); err != nil {
		return nil, err
	}

	deviceCode := uuid.NewString()
	userCode := deriveUserCode(deviceCode)
	expiry := c.clock.Now().Add(c.verificationTTL).Unix()

	info := Info{Scopes: scopes, ResourceURL: resourceURL}
	entries := []store.BatchEntry{
		{Key: userCodeKey(userCode), Value: deviceCode, ExpiryTS: &expiry},
		{Key: stateKey(deviceCode), Value: StateAuthorizationPending, ExpiryTS: &expiry},
		{Key: deviceUserCodeKey(deviceCode), Value: userCode, ExpiryTS: &expiry},
		{Key: infoKey(deviceCode), Value: info, ExpiryTS: &expiry},
	}
	if err := c.kv.BatchSet(ctx, entries); err != nil {
		return nil, err
	}

	return &InitiateResult{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         c.verificationURI,
		VerificationURIComplete: c.verificationURI + "?user_code=" + url.QueryEscape(userCode),
		ExpiresIn:               int(c.verificationTTL.Seconds()),
		Interval:                PollInterval,
	}, nil
}

// Activate resolves a user-facing user_code to its device code and sets that
// device's state to ok or access_denied, taking subjectName (the
// authenticated browser session's user) as the subject later token exchanges
// will mint tokens for. A fresh expiry window is set on successful
// activation, matching the semantics of a code whose verification window
// restarts once a human has acted on it.
func (c *Coordinator) Activate(ctx context.Context, subjectName, userCode string, authorized bool) error {
	var deviceCode string
	if ok, err := c.kv.Get(ctx, userCodeKey(userCode), &deviceCode); err != nil {
		return err
	} else if !ok {
		return apierror.New(apierror.ExpiredToken, "device code has expired or does not exist")
	}

	var expectedUserCode string
	if ok, err := c.kv.Get(ctx, deviceUserCodeKey(deviceCode), &expectedUserCode); err != nil {
		return err
	} else if !ok {
		return apierror.New(apierror.ExpiredToken, "device code has expired or does not exist")
	}

	if userCode != expectedUserCode {
		return apierror.New(apierror.WrongUserCode, "user code does not match the pending device authorization")
	}

	var info Info
	if ok, err := c.kv.Get(ctx, infoKey(deviceCode), &info); err != nil {
		return err
	} else if !ok {
		return apierror.New(apierror.ExpiredToken, "device code has expired or does not exist")
	}
	info.Subject = subjectName

	state := StateAccessDenied
	if authorized {
		state = StateOK
	}
	expiry := c.clock.Now().Add(c.verificationTTL).Unix()

	return c.kv.BatchSet(ctx, []store.BatchEntry{
		{Key: stateKey(deviceCode), Value: state, ExpiryTS: &expiry},
		{Key: infoKey(deviceCode), Value: info, ExpiryTS: &expiry},
	})
}

// Exchange completes grant_type=device_code token issuance. Terminal states
// (access_denied, expired) and the transient authorization_pending state are
// each reported as their own apierror code.
func (c *Coordinator) Exchange(ctx context.Context, clientID, clientSecret, deviceCode string) (*store.TokenSet, error) {
	if _, err := c.clients.Authenticate(ctx, clientID, "device_code", clientSecret); err != nil {
		return nil, err
	}

	var state string
	if ok, err := c.kv.Get(ctx, stateKey(deviceCode), &state); err != nil {
		return nil, err
	} else if !ok {
		return nil, apierror.New(apierror.ExpiredToken, "device code has expired or does not exist")
	}

	switch state {
	case StateOK:
		var info Info
		if ok, err := c.kv.Get(ctx, infoKey(deviceCode), &info); err != nil {
			return nil, err
		} else if !ok {
			return nil, apierror.New(apierror.ExpiredToken, "device code has expired or does not exist")
		}

		tokens, err := c.tokens.IssueFor(ctx, token.Subject{Name: info.Subject, Kind: store.SubjectUser}, info.ResourceURL, info.Scopes)
		if err != nil {
			// A resolver failure here means the activating user's session
			// no longer resolves to a valid subject; reported like a bad
			// credential (401), not a bad request (400).
			if ae, ok := apierror.As(err); ok {
				return nil, apierror.NewWithStatus(http.StatusUnauthorized, ae.Code, ae.Description)
			}
			return nil, fmt.Errorf("device: issuing tokens: %w", err)
		}

		// A consumed device code must not be replayable.
		var userCode string
		if ok, _ := c.kv.Get(ctx, deviceUserCodeKey(deviceCode), &userCode); ok {
			_ = c.kv.Delete(ctx, userCodeKey(userCode))
		}
		_ = c.kv.Delete(ctx, stateKey(deviceCode))
		_ = c.kv.Delete(ctx, infoKey(deviceCode))
		_ = c.kv.Delete(ctx, deviceUserCodeKey(deviceCode))

		return tokens, nil

	case StateAccessDenied:
		return nil, apierror.New(apierror.AccessDenied, "the user declined authorization")

	case StateAuthorizationPending:
		return nil, apierror.New(apierror.AuthorizationPending, "authorization is still pending")

	default:
		return nil, apierror.New(apierror.ExpiredToken, "device code has expired or does not exist")
	}
}

func deriveUserCode(deviceCode string) string {
	sum := sha1.Sum([]byte(deviceCode)) //nolint:gosec
	return strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}

func containsAny(haystack []string, needles ...string) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if h == n {
				return true
			}
		}
	}
	return false
}

func userCodeKey(userCode string) string       { return "user-code:" + userCode + "/device-code" }
func stateKey(deviceCode string) string         { return "device-code:" + deviceCode + "/state" }
func deviceUserCodeKey(deviceCode string) string { return "device-code:" + deviceCode + "/user-code" }
func infoKey(deviceCode string) string          { return "device-code:" + deviceCode + "/info" }
