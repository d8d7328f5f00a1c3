package server

import (
	"encoding/json"
	"net/http"
	"strings"

	apierror "github.com/mini-idp/mini-idp/apierror"
	store "github.com/mini-idp/mini-idp/storage"
	"github.com/mini-idp/mini-idp/token"
)

func (s *Server) handleDeviceInitiate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed form body"))
		return
	}

	clientID := r.FormValue("client_id")
	scope := r.FormValue("scope")
	resource := r.URL.Query().Get("resource")

	result, err := s.device.Initiate(r.Context(), clientID, scope, resource)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.observeDeviceTransition("initiated")
	s.writeJSON(w, http.StatusOK, result)
}

type deviceActivationRequest struct {
	UserCode   string `json:"user_code"`
	Authorized bool   `json:"authorized"`
}

func (s *Server) handleDeviceActivation(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.authenticatedSubject(r)
	if !ok {
		s.writeError(w, r, apierror.New(apierror.MissingToken, "an authenticated browser session is required"))
		return
	}

	var req deviceActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
		return
	}

	if err := s.device.Activate(r.Context(), subject, req.UserCode, req.Authorized); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Authorized {
		s.metrics.observeDeviceTransition("authorized")
	} else {
		s.metrics.observeDeviceTransition("denied")
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed form body"))
		return
	}

	grantType := r.FormValue("grant_type")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")

	switch grantType {
	case "urn:ietf:params:oauth:grant-type:device_code", "device_code":
		deviceCode := r.FormValue("device_code")
		tokens, err := s.device.Exchange(r.Context(), clientID, clientSecret, deviceCode)
		if err != nil {
			if ae, ok := apierror.As(err); ok {
				s.metrics.observeDeviceTransition("exchange_" + ae.Code)
			}
			s.writeError(w, r, err)
			return
		}
		s.metrics.observeDeviceTransition("exchanged")
		s.writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresIn:    tokens.AccessClaims.ExpiresAt - s.clock.Now().Unix(),
			TokenType:    "Bearer",
		})

	case "client_credentials":
		client, err := s.clientAuth.Authenticate(r.Context(), clientID, grantType, clientSecret)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resource := r.FormValue("resource")
		scope := r.FormValue("scope")
		var requestedScopes []string
		if scope != "" {
			requestedScopes = strings.Fields(scope)
		}
		tokens, err := s.tokens.IssueFor(r.Context(), token.Subject{Name: client.Name, Kind: store.SubjectClient}, resource, requestedScopes)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresIn:    tokens.AccessClaims.ExpiresAt - s.clock.Now().Unix(),
			TokenType:    "Bearer",
		})

	default:
		s.writeError(w, r, apierror.New(apierror.UnsupportedGrant, "unsupported grant_type "+grantType))
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed form body"))
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	resource := r.FormValue("resource")

	result, err := s.userAuth.Authenticate(r.Context(), username, password, resource)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.createSession(r.Context(), w, result.Principal.Name); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresIn:    result.Tokens.AccessClaims.ExpiresAt - s.clock.Now().Unix(),
		TokenType:    "Bearer",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.destroySession(r, w)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

