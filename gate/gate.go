// Package gate implements authorization: extracting and validating
// the bearer token on an admin request and checking its granted scopes
// against the data action being attempted.
package gate

import (
	"regexp"
	"strings"

	apierror "github.com/mini-idp/mini-idp/apierror"
	store "github.com/mini-idp/mini-idp/storage"
	"github.com/mini-idp/mini-idp/token"
)

// Action is one of the four data actions an admin REST operation requires.
type Action string

const (
	ActionList   Action = "list"
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Fixed scopes that bypass the subset check entirely.
const (
	ScopeRoot  = "idp.root"
	ScopeAdmin = "idp.admin"
)

const minTokenLength = 20

// Gate checks a bearer token's granted scopes against a requested action.
type Gate struct {
	tokens *token.Service
}

func NewGate(tokens *token.Service) *Gate {
	return &Gate{tokens: tokens}
}

// ExtractBearerToken pulls the token out of an "Authorization: Bearer <t>"
// header value. It fails with apierror.MissingToken if the header is absent,
// malformed, or the token is shorter than the minimum length a real bearer
// token would be.
func ExtractBearerToken(authorizationHeader string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorizationHeader, prefix) {
		return "", apierror.New(apierror.MissingToken, "missing or malformed Authorization header")
	}
	tok := strings.TrimPrefix(authorizationHeader, prefix)
	if len(tok) < minTokenLength {
		return "", apierror.New(apierror.MissingToken, "bearer token is too short to be valid")
	}
	return tok, nil
}

var scopeSplitter = regexp.MustCompile(`[\s,]+`)

func splitGranted(scope string) map[string]struct{} {
	granted := make(map[string]struct{})
	for _, s := range scopeSplitter.Split(strings.TrimSpace(scope), -1) {
		if s != "" {
			granted[s] = struct{}{}
		}
	}
	return granted
}

// Namespace returns the scope namespace for an entity kind, e.g.
// "idp.user".
func Namespace(kind string) string {
	return "idp." + kind
}

// Authorize extracts and parses the bearer token from authorizationHeader,
// then checks that its granted scopes permit action on kind, using a
// straightforward subset predicate: required scope must be one of the
// granted scopes.
func (g *Gate) Authorize(authorizationHeader, kind string, action Action) (*store.AccessClaims, error) {
	tok, err := ExtractBearerToken(authorizationHeader)
	if err != nil {
		return nil, err
	}

	claims, err := g.tokens.Parse(tok, "")
	if err != nil {
		return nil, err
	}

	granted := splitGranted(claims.Scope)
	if _, ok := granted[ScopeRoot]; ok {
		return claims, nil
	}
	if _, ok := granted[ScopeAdmin]; ok {
		return claims, nil
	}

	required := Namespace(kind) + "." + string(action)
	if _, ok := granted[required]; !ok {
		return nil, apierror.New(apierror.AccessDotDenied, "missing required scope "+required)
	}
	return claims, nil
}

// HasFullAccess reports whether claims' granted scopes include idp.root or
// idp.admin, the condition under which X-Access-Level: full is honored to
// include sensitive fields in a response.
func HasFullAccess(claims *store.AccessClaims) bool {
	granted := splitGranted(claims.Scope)
	if _, ok := granted[ScopeRoot]; ok {
		return true
	}
	_, ok := granted[ScopeAdmin]
	return ok
}
