// Package pat implements personal access tokens: long-lived, user-created
// credentials for scripts and integrations, authenticated by digest lookup
// rather than signature verification.
package pat

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrTokenNotFound = errors.New("personal access token not found")

// Token is a personal access token record. The secret itself is never stored;
// Prefix keeps the first characters so users can tell their tokens apart.
type Token struct {
	ID          string     `json:"id"`
	TokenHash   string     `json:"-"`
	Prefix      string     `json:"prefix"`
	Name        string     `json:"name"`
	UserID      string     `json:"userId"`
	WorkspaceID string     `json:"workspaceId"`
	Scope       string     `json:"scope"` // space-separated, empty means unscoped
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"` // nil means no expiry
	Revoked     bool       `json:"revoked"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	LastUsedIP  string     `json:"-"`
	LastAuditAt *time.Time `json:"-"`
}

// Usable reports whether the token authenticates at the given time.
func (t *Token) Usable(now time.Time) bool {
	if t.Revoked {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}

type Store interface {
	CreateToken(ctx context.Context, token *Token) error
	GetTokenByHash(ctx context.Context, tokenHash string) (*Token, error)
	GetToken(ctx context.Context, id string) (*Token, error)
	ListTokensByUser(ctx context.Context, userID string) ([]*Token, error)
	RevokeToken(ctx context.Context, id string, at time.Time) error
	// UpdateUsage records last-used bookkeeping; auditAt is nil when the
	// usage-audit timestamp should not advance.
	UpdateUsage(ctx context.Context, id string, usedAt time.Time, ip string, auditAt *time.Time) error
}
