// Package refresh manages refresh-token families: each authorization grant
// starts a family, every use rotates in a descendant, and presenting a
// rotated-out ancestor burns the whole family.
package refresh

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Revocation reasons recorded on tokens and in the audit trail.
const (
	ReasonRotation      = "token_rotation"
	ReasonUserRevoked   = "user_revoked"
	ReasonReuseDetected = "reuse_detected"
)

var (
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenRevoked is returned by Store.RotateToken when the token was
	// already revoked, including losing a rotation race.
	ErrTokenRevoked = errors.New("refresh token already revoked")
)

// Token is one node in a refresh-token family. Only the SHA-256 digest of the
// secret is stored.
type Token struct {
	ID            string
	TokenHash     string
	FamilyID      string
	ParentID      string // empty on the family root
	ReplacedByID  string // set once rotated out
	ClientID      string
	UserID        string
	WorkspaceID   string
	Scopes        []string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedReason string
	RevokedAt     *time.Time
}

// Active reports whether the token can still be redeemed at the given time.
func (t *Token) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Store persists refresh-token families. RotateToken is the linchpin: it must
// atomically revoke the parent and insert the child, failing with
// ErrTokenRevoked when another rotation got there first.
type Store interface {
	CreateToken(ctx context.Context, token *Token) error
	GetTokenByHash(ctx context.Context, tokenHash string) (*Token, error)
	RotateToken(ctx context.Context, oldID string, child *Token, at time.Time) error
	RevokeToken(ctx context.Context, id, reason string, at time.Time) error
	// RevokeFamily revokes every active token in the family and returns how
	// many it touched.
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int, error)
	ListFamily(ctx context.Context, familyID string) ([]*Token, error)
}
