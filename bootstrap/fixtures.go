package bootstrap

import store "github.com/mini-idp/mini-idp/storage"

// actions lists every data action a fixed idp.<kind> scope is generated for.
var actions = []string{"list", "read", "write", "delete"}

// kinds lists every admin-managed entity kind a fixed idp.<kind> scope is
// generated for.
var kinds = []string{"user", "client", "role", "scope", "policy"}

// FixedScopes returns the predefined scopes bootstrap seeds on every start:
// idp.root and idp.admin (the two scopes the AuthorizationGate treats as
// all-access) plus one idp.<kind>.<action> scope per admin resource/action
// pair.
func FixedScopes() []store.Scope {
	scopes := []store.Scope{
		{ID: "scope-idp-root", Name: "idp.root", Description: "unrestricted access to every admin operation", Fixed: true, Sensitive: true},
		{ID: "scope-idp-admin", Name: "idp.admin", Description: "unrestricted access to every admin operation, short of idp.root", Fixed: true, Sensitive: true},
	}
	for _, kind := range kinds {
		for _, action := range actions {
			scopes = append(scopes, store.Scope{
				ID:          "scope-idp-" + kind + "-" + action,
				Name:        "idp." + kind + "." + action,
				Description: action + " access to " + kind + " resources",
				Fixed:       true,
			})
		}
	}
	return scopes
}

// FixedRoles returns the predefined roles: "root" and "admin", matching the
// two all-access scopes above.
func FixedRoles() []store.Role {
	return []store.Role{
		{ID: "role-root", Name: "root", Description: "the bootstrap super-user role", Fixed: true},
		{ID: "role-admin", Name: "admin", Description: "an administrator with full access to the admin API", Fixed: true},
	}
}

// FixedPolicies returns the predefined policies binding the root and admin
// roles to their respective all-access scopes at resource (normally the
// service's own self-reference URI, so the policy applies to every resource
// under it via the prefix-match rule).
func FixedPolicies(resource string) []store.Policy {
	return []store.Policy{
		{
			ID:       "policy-root",
			Name:     "root-has-everything",
			Resource: resource,
			Subjects: []store.PolicySubject{{Kind: store.SubjectRole, Subject: "root"}},
			Scopes:   []string{"idp.root"},
			Fixed:    true,
		},
		{
			ID:       "policy-admin",
			Name:     "admin-has-everything",
			Resource: resource,
			Subjects: []store.PolicySubject{{Kind: store.SubjectRole, Subject: "admin"}},
			Scopes:   []string{"idp.admin"},
			Fixed:    true,
		},
	}
}
