// Package identity defines the per-request identity and tenant binding that
// every protected operation receives. The binding is resolved exactly once from
// whichever credential the request presented (signed OAuth token or personal
// access token) and passed explicitly through the call chain; nothing reads it
// from ambient request state.
package identity

import "strings"

// Kind distinguishes which credential path produced an Identity.
type Kind string

const (
	KindOAuth Kind = "oauth"
	KindPAT   Kind = "pat"
)

// Identity is the resolved identity and tenant binding of one request. It is
// the sole input to the authorization decision engine.
type Identity struct {
	Subject     string // token subject
	UserID      string // directory user id
	WorkspaceID string // tenant binding ("tid" claim); empty means unbound
	ClientID    string // OAuth client id, or PAT id for PAT-derived identities
	TokenID     string // unique credential id (jti / PAT id)
	Scopes      []string
	Kind        Kind
}

// Bound reports whether the identity carries a tenant binding. Unbound
// identities (development-mode credentials) are exempt from workspace
// isolation.
func (i Identity) Bound() bool {
	return i.WorkspaceID != ""
}

// HasScope reports whether the identity carries the given scope.
func (i Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopeString returns the identity's scopes as a space-separated string.
func (i Identity) ScopeString() string {
	return strings.Join(i.Scopes, " ")
}

// SplitScopes parses a space-separated scope string, dropping empty tokens.
func SplitScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
