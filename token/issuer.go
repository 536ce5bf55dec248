// Package token issues and verifies the signed access tokens that carry a
// request's identity and tenant binding between the OAuth endpoints and the
// rest of the API.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/identity"
)

// Issuer creates and verifies signed access tokens.
type Issuer struct {
	signer   Signer
	issuer   string
	audience string
	nowFunc  func() time.Time
}

// IssuerOption defines a function type to modify the Issuer instance.
type IssuerOption func(*Issuer)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

// NewIssuer initializes an Issuer with the given signer, issuer URL, and
// audience.
func NewIssuer(signer Signer, issuer, audience string, options ...IssuerOption) (*Issuer, error) {
	if signer == nil {
		return nil, errors.New("[NewIssuer] signer is required")
	}
	i := &Issuer{
		signer:   signer,
		issuer:   issuer,
		audience: audience,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(i)
	}
	return i, nil
}

// IssueSignedToken produces a signed, time-bounded token asserting the given
// subject, user, workspace binding, requesting client (audienceID), and
// granted scopes. Each token carries a unique id and its issued-at time.
func (i *Issuer) IssueSignedToken(subject, userID, workspaceID, audienceID string, scopes []string, ttl time.Duration) (string, error) {
	now := i.nowFunc()
	claims := jwt.MapClaims{
		"iss":       i.issuer,
		"aud":       i.audience,
		"sub":       subject,
		"uid":       userID,
		"tid":       workspaceID,
		"client_id": audienceID,
		"scope":     strings.Join(scopes, " "),
		"jti":       uuid.New().String(),
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	signed, err := i.signer.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "[Issuer.IssueSignedToken] signer.Sign")
	}
	return signed, nil
}

// Verify parses and validates a signed token and returns the identity it
// asserts.
func (i *Issuer) Verify(raw string) (identity.Identity, error) {
	parsed, err := jwt.Parse(raw, i.signer.GetVerificationKey,
		jwt.WithTimeFunc(i.nowFunc),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithValidMethods([]string{i.signer.GetSigningMethod().Alg()}),
	)
	if err != nil || !parsed.Valid {
		return identity.Identity{}, errors.Wrap(err, "[Issuer.Verify] token invalid")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return identity.Identity{}, errors.New("[Issuer.Verify] error extracting claims")
	}

	sub, _ := claims["sub"].(string)
	uid, _ := claims["uid"].(string)
	tid, _ := claims["tid"].(string)
	clientID, _ := claims["client_id"].(string)
	scope, _ := claims["scope"].(string)
	jti, _ := claims["jti"].(string)

	return identity.Identity{
		Subject:     sub,
		UserID:      uid,
		WorkspaceID: tid,
		ClientID:    clientID,
		TokenID:     jti,
		Scopes:      identity.SplitScopes(scope),
		Kind:        identity.KindOAuth,
	}, nil
}
