// Package storage defines the durable data model and the two storage
// contracts every backend must satisfy: KeyValueStore and EntityStore[T].
// The concrete backends live in storage/sql and storage/memory.
package storage

import "github.com/google/uuid"

// NewID returns a fresh random entity identifier.
func NewID() string {
	return uuid.NewString()
}

// Scope is a grantable permission string, e.g. "idp.user.read".
type Scope struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`
	Sensitive   bool   `db:"sensitive" json:"sensitive"`
	Fixed       bool   `db:"fixed" json:"fixed"`
}

func (s Scope) EntityName() string { return "scope" }

// Role is a named bundle subjects can hold; users reference roles by name.
type Role struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`
	Fixed       bool   `db:"fixed" json:"fixed"`
}

func (r Role) EntityName() string { return "role" }

// User is a human principal. Password is plaintext in memory and encrypted
// at rest via the "encrypted" column transformer; Roles holds role names,
// not ids (no back-pointers).
type User struct {
	ID       string   `db:"id" json:"id"`
	Name     string   `db:"name" json:"name"`
	Password string   `db:"password" json:"password,omitempty" midp:"encrypted"`
	Email    string   `db:"email" json:"email"`
	FullName string   `db:"full_name" json:"full_name,omitempty"`
	Roles    []string `db:"roles" json:"roles" midp:"json"`
}

func (u User) EntityName() string { return "user" }

// SensitiveFields names the columns stripped from JSON responses unless the
// caller presents X-Access-Level: full with an admin/root scope.
func (u User) SensitiveFields() []string { return []string{"password"} }

// OAuthClient is an application permitted to perform one or more OAuth
// grants. Secret is encrypted at rest; Scopes limits what the client may
// ever be granted regardless of policy.
type OAuthClient struct {
	ID            string            `db:"id" json:"id"`
	Name          string            `db:"name" json:"name"`
	Secret        string            `db:"secret" json:"secret,omitempty" midp:"encrypted"`
	Audience      string            `db:"audience" json:"audience,omitempty"`
	GrantTypes    []string          `db:"grant_types" json:"grant_types" midp:"json"`
	ResponseTypes []string          `db:"response_types" json:"response_types" midp:"json"`
	Scopes        []string          `db:"scopes" json:"scopes" midp:"json"`
	Extras        map[string]string `db:"extras" json:"extras,omitempty" midp:"json"`
	Description   string            `db:"description" json:"description,omitempty"`
}

func (c OAuthClient) EntityName() string { return "client" }

func (c OAuthClient) SensitiveFields() []string { return []string{"secret"} }

// PolicySubjectKind enumerates the kinds of actor a policy subject names.
type PolicySubjectKind string

const (
	SubjectClient PolicySubjectKind = "client"
	SubjectRole   PolicySubjectKind = "role"
	SubjectUser   PolicySubjectKind = "user"
)

// PolicySubject names one actor (by name or id, kind-dependent) a Policy
// applies to.
type PolicySubject struct {
	Kind    PolicySubjectKind `json:"kind"`
	Subject string            `json:"subject"`
}

// Policy binds a set of subjects and scopes to a resource URL. Resource
// matches by prefix when it ends with "/", otherwise by exact string.
type Policy struct {
	ID       string          `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	Resource string          `db:"resource" json:"resource"`
	Subjects []PolicySubject `db:"subjects" json:"subjects" midp:"json"`
	Scopes   []string        `db:"scopes" json:"scopes" midp:"json"`
	Fixed    bool            `db:"fixed" json:"fixed"`
}

func (p Policy) EntityName() string { return "policy" }

// KVEntry is a single row of the TTL-scoped key-value store. ExpiryTS
// is a unix timestamp in seconds; nil means the entry never expires.
type KVEntry struct {
	Key      string `db:"k"`
	Value    []byte `db:"v"`
	ExpiryTS *int64 `db:"expiry_ts"`
}

// TokenSet is the ephemeral result of a successful token issuance. It is
// never itself persisted.
type TokenSet struct {
	AccessClaims  AccessClaims  `json:"access_claims"`
	AccessToken   string        `json:"access_token"`
	RefreshClaims RefreshClaims `json:"refresh_claims"`
	RefreshToken  string        `json:"refresh_token"`
}

// AccessClaims is the JWT payload of an access token.
type AccessClaims struct {
	Subject   string   `json:"sub"`
	PSL       []string `json:"psl"`
	Scope     string   `json:"scope"`
	Issuer    string   `json:"iss"`
	Audience  string   `json:"aud"`
	ExpiresAt int64    `json:"exp"`
}

// RefreshClaims is the JWT payload of a refresh token.
type RefreshClaims struct {
	Subject   string `json:"sub"`
	Scope     string `json:"scope"`
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
}
