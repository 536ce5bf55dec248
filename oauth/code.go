package oauth

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrCodeNotFound = errors.New("authorization code not found")
	// ErrCodeUsed is returned by ConsumeCode when the code was already
	// redeemed, including losing a concurrent redemption race.
	ErrCodeUsed = errors.New("authorization code already used")
)

// AuthorizationCode is a single-use grant binding a user's approval to one
// client, redirect URI, scope set, and PKCE challenge. Only the SHA-256
// digest of the code is stored.
type AuthorizationCode struct {
	ID                  string
	CodeHash            string
	ClientID            string
	UserID              string
	WorkspaceID         string
	Scopes              []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
	UsedAt              *time.Time
}

// CodeStore persists authorization codes. ConsumeCode must atomically flip
// the used flag so concurrent redemptions of the same code cannot both win.
type CodeStore interface {
	SaveCode(ctx context.Context, code *AuthorizationCode) error
	ConsumeCode(ctx context.Context, codeHash string, at time.Time) (*AuthorizationCode, error)
}
