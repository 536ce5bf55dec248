// Package clients defines registered OAuth applications and their store.
package clients

import "github.com/pkg/errors"

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Can keep secrets (server-side apps)
	ClientTypePublic       ClientType = "public"       // Cannot keep secrets (SPAs, mobile apps)
)

var ErrScopeNotAllowed = errors.New("requested scope is not allowed for this client")

// Client is a registered OAuth application. Immutable after registration
// except for the enabled flag and secret rotation.
type Client struct {
	ID           string     `json:"id"`
	Type         ClientType `json:"type"`
	Name         string     `json:"name"`
	SecretHash   string     `json:"-"` // salted PBKDF2 digest, confidential clients only
	RedirectURIs []string   `json:"redirectURIs"`
	Scopes       []string   `json:"scopes"` // allowed scopes for this client
	Enabled      bool       `json:"enabled"`
	WorkspaceID  string     `json:"workspaceId"` // owning workspace
}

// IsPublic returns true if the client is a public client
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// HasRedirectURI checks the registered redirect URI set for a byte-for-byte
// match. Pattern or prefix matching is deliberately not supported.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ResolveScopes intersects the requested scopes with the client's allowed set.
// An empty request grants the full allowed set; any scope outside the allowed
// set fails with ErrScopeNotAllowed.
func (c *Client) ResolveScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		granted := make([]string, len(c.Scopes))
		copy(granted, c.Scopes)
		return granted, nil
	}
	for _, scope := range requested {
		if !c.HasScope(scope) {
			return nil, errors.Wrapf(ErrScopeNotAllowed, "scope %q", scope)
		}
	}
	return requested, nil
}
