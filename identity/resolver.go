package identity

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/credentials"
)

var ErrUnauthenticated = errors.New("invalid or missing credential")

// TokenVerifier validates a signed access token and returns the identity it
// asserts. Implemented by token.Issuer.
type TokenVerifier interface {
	Verify(raw string) (Identity, error)
}

// PATAuthenticator validates a personal access token. Implemented by
// pat.Authenticator.
type PATAuthenticator interface {
	Authenticate(ctx context.Context, raw, remoteIP string) (Identity, error)
}

// Resolver turns a bearer credential into an Identity. The credential kind is
// dispatched on the fixed PAT prefix; everything else is treated as a signed
// token.
type Resolver struct {
	tokens TokenVerifier
	pats   PATAuthenticator
}

func NewResolver(tokens TokenVerifier, pats PATAuthenticator) *Resolver {
	return &Resolver{tokens: tokens, pats: pats}
}

// Resolve authenticates a raw bearer credential. Failures collapse to
// ErrUnauthenticated so callers cannot distinguish unknown tokens from revoked
// ones.
func (r *Resolver) Resolve(ctx context.Context, bearer, remoteIP string) (Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Identity{}, ErrUnauthenticated
	}
	if strings.HasPrefix(bearer, credentials.PATPrefix) {
		id, err := r.pats.Authenticate(ctx, bearer, remoteIP)
		if err != nil {
			return Identity{}, ErrUnauthenticated
		}
		return id, nil
	}
	id, err := r.tokens.Verify(bearer)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}
