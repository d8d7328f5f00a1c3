// Package token implements minting and parsing the JWT access/refresh
// token pairs that every grant (device, client_credentials, password) issues
// through.
package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/clock"
	"github.com/mini-idp/mini-idp/cryptor"
	"github.com/mini-idp/mini-idp/policy"
	store "github.com/mini-idp/mini-idp/storage"
)

// Subject identifies the actor tokens are being issued for.
type Subject struct {
	Name string
	Kind store.PolicySubjectKind
}

// Service mints and parses access/refresh token pairs.
type Service struct {
	cryptor    *cryptor.Cryptor
	resolver   *policy.Resolver
	clock      clock.Clock
	selfRefURI string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewService(crypt *cryptor.Cryptor, resolver *policy.Resolver, clk clock.Clock, selfRefURI string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{cryptor: crypt, resolver: resolver, clock: clk, selfRefURI: selfRefURI, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssueFor mints an access/refresh token pair scoped to the policies
// matching subject against resourceURL and requestedScopes. An empty
// resourceURL defaults to the service's own self-reference URI.
func (s *Service) IssueFor(ctx context.Context, subject Subject, resourceURL string, requestedScopes []string) (*store.TokenSet, error) {
	if resourceURL == "" {
		resourceURL = s.selfRefURI
	}

	policies, psl, err := s.resolver.Resolve(ctx, subject.Kind, subject.Name, resourceURL, requestedScopes)
	if err != nil {
		return nil, err
	}
	scopes := policy.UnionScopes(policies)

	now := s.clock.Now()

	accessClaims := store.AccessClaims{
		Subject:   subject.Name,
		PSL:       psl,
		Scope:     strings.Join(scopes, " "),
		Issuer:    s.selfRefURI,
		Audience:  resourceURL,
		ExpiresAt: now.Add(s.accessTTL).Unix(),
	}
	accessToken, err := s.cryptor.Sign(accessClaims)
	if err != nil {
		return nil, err
	}

	refreshClaims := store.RefreshClaims{
		Subject:   subject.Name,
		Scope:     "openid refresh",
		Issuer:    s.selfRefURI,
		Audience:  resourceURL,
		ExpiresAt: now.Add(s.refreshTTL).Unix(),
	}
	refreshToken, err := s.cryptor.Sign(refreshClaims)
	if err != nil {
		return nil, err
	}

	return &store.TokenSet{
		AccessClaims:  accessClaims,
		AccessToken:   accessToken,
		RefreshClaims: refreshClaims,
		RefreshToken:  refreshToken,
	}, nil
}

// Parse verifies token and returns its access claims, enforcing that the
// issuer is this service's self-reference URI and the audience matches
// expectedAud (defaulting to the self-reference URI when expectedAud is
// empty). Any failure is reported as apierror.InvalidToken, never a
// different error code or a bare 500.
func (s *Service) Parse(token string, expectedAud string) (*store.AccessClaims, error) {
	if expectedAud == "" {
		expectedAud = s.selfRefURI
	}

	var claims store.AccessClaims
	if err := s.cryptor.Verify(token, &claims); err != nil {
		return nil, invalidToken(err)
	}
	if claims.Issuer != s.selfRefURI {
		return nil, invalidToken(fmt.Errorf("token: unexpected issuer %q", claims.Issuer))
	}
	if claims.Audience != expectedAud {
		return nil, invalidToken(fmt.Errorf("token: unexpected audience %q", claims.Audience))
	}
	if claims.ExpiresAt <= s.clock.Now().Unix() {
		return nil, invalidToken(fmt.Errorf("token: expired at %d", claims.ExpiresAt))
	}
	return &claims, nil
}

func invalidToken(cause error) error {
	return apierror.New(apierror.InvalidToken, cause.Error())
}
