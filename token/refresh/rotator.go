package refresh

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/credentials"
	"github.com/modelgrid/modelgrid-server/security"
)

var (
	// ErrInvalidToken covers the unremarkable failures: unknown token, wrong
	// client, expired. Callers map it to an OAuth invalid_grant.
	ErrInvalidToken = errors.New("refresh token is invalid or expired")
	// ErrReuseDetected means a rotated-out token was presented; the family has
	// already been revoked and the event audited by the time callers see it.
	ErrReuseDetected = errors.New("refresh token reuse detected")
)

// Rotation is the outcome of a successful rotate or family issue.
type Rotation struct {
	PlainToken  string // the new secret, shown once
	TokenID     string
	FamilyID    string
	UserID      string
	WorkspaceID string
	ClientID    string
	Scopes      []string
	ExpiresAt   time.Time
}

// Rotator issues refresh-token families and rotates tokens within them.
type Rotator struct {
	store       Store
	auditor     *security.Auditor
	tokenLength int
	ttl         time.Duration
	nowFunc     func() time.Time
}

type RotatorOption func(*Rotator)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) RotatorOption {
	return func(r *Rotator) {
		r.nowFunc = now
	}
}

func NewRotator(store Store, auditor *security.Auditor, tokenLength int, ttl time.Duration, options ...RotatorOption) (*Rotator, error) {
	if store == nil {
		return nil, errors.New("[NewRotator] store is required")
	}
	r := &Rotator{
		store:       store,
		auditor:     auditor,
		tokenLength: tokenLength,
		ttl:         ttl,
		nowFunc:     time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// IssueFamily starts a new refresh-token family for a fresh authorization
// grant and returns its root token.
func (r *Rotator) IssueFamily(ctx context.Context, clientID, userID, workspaceID string, scopes []string) (*Rotation, error) {
	now := r.nowFunc()
	plain, digest, err := credentials.NewRefreshToken(r.tokenLength)
	if err != nil {
		return nil, errors.Wrap(err, "[Rotator.IssueFamily] credentials.NewRefreshToken")
	}
	root := &Token{
		ID:          uuid.New().String(),
		TokenHash:   digest,
		FamilyID:    uuid.New().String(),
		ClientID:    clientID,
		UserID:      userID,
		WorkspaceID: workspaceID,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
	}
	if err := r.store.CreateToken(ctx, root); err != nil {
		return nil, errors.Wrap(err, "[Rotator.IssueFamily] store.CreateToken")
	}
	return &Rotation{
		PlainToken:  plain,
		TokenID:     root.ID,
		FamilyID:    root.FamilyID,
		UserID:      userID,
		WorkspaceID: workspaceID,
		ClientID:    clientID,
		Scopes:      scopes,
		ExpiresAt:   root.ExpiresAt,
	}, nil
}

// Rotate redeems a presented refresh token for a new one in the same family.
// Presenting an already-rotated or revoked token revokes the entire family.
func (r *Rotator) Rotate(ctx context.Context, clientID, presented string) (*Rotation, error) {
	now := r.nowFunc()
	current, err := r.store.GetTokenByHash(ctx, credentials.Hash(presented))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, errors.Wrap(err, "[Rotator.Rotate] store.GetTokenByHash")
	}
	if current.ClientID != clientID {
		return nil, ErrInvalidToken
	}
	if current.Revoked {
		return nil, r.burnFamily(ctx, current, now)
	}
	if !now.Before(current.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	plain, digest, err := credentials.NewRefreshToken(r.tokenLength)
	if err != nil {
		return nil, errors.Wrap(err, "[Rotator.Rotate] credentials.NewRefreshToken")
	}
	child := &Token{
		ID:          uuid.New().String(),
		TokenHash:   digest,
		FamilyID:    current.FamilyID,
		ParentID:    current.ID,
		ClientID:    current.ClientID,
		UserID:      current.UserID,
		WorkspaceID: current.WorkspaceID,
		Scopes:      current.Scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
	}
	if err := r.store.RotateToken(ctx, current.ID, child, now); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			// Lost a rotation race: someone else redeemed this token
			// concurrently, which is indistinguishable from replay.
			return nil, r.burnFamily(ctx, current, now)
		}
		return nil, errors.Wrap(err, "[Rotator.Rotate] store.RotateToken")
	}
	return &Rotation{
		PlainToken:  plain,
		TokenID:     child.ID,
		FamilyID:    child.FamilyID,
		UserID:      child.UserID,
		WorkspaceID: child.WorkspaceID,
		ClientID:    child.ClientID,
		Scopes:      child.Scopes,
		ExpiresAt:   child.ExpiresAt,
	}, nil
}

// Revoke invalidates a presented refresh token. Unknown or already-revoked
// tokens are not an error: the revocation endpoint must succeed either way.
func (r *Rotator) Revoke(ctx context.Context, clientID, presented string) error {
	now := r.nowFunc()
	current, err := r.store.GetTokenByHash(ctx, credentials.Hash(presented))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return errors.Wrap(err, "[Rotator.Revoke] store.GetTokenByHash")
	}
	if current.ClientID != clientID || current.Revoked {
		return nil
	}
	if err := r.store.RevokeToken(ctx, current.ID, ReasonUserRevoked, now); err != nil {
		return errors.Wrap(err, "[Rotator.Revoke] store.RevokeToken")
	}
	r.auditor.LogEvent(security.Event{
		Type:        security.EventTokenRevoked,
		UserID:      current.UserID,
		ClientID:    current.ClientID,
		WorkspaceID: current.WorkspaceID,
		TokenID:     current.ID,
		Details:     map[string]any{"reason": ReasonUserRevoked},
	})
	return nil
}

func (r *Rotator) burnFamily(ctx context.Context, reused *Token, now time.Time) error {
	revoked, err := r.store.RevokeFamily(ctx, reused.FamilyID, ReasonReuseDetected, now)
	if err != nil {
		return errors.Wrap(err, "[Rotator.burnFamily] store.RevokeFamily")
	}
	r.auditor.LogEvent(security.Event{
		Type:        security.EventTokenReuseDetected,
		UserID:      reused.UserID,
		ClientID:    reused.ClientID,
		WorkspaceID: reused.WorkspaceID,
		TokenID:     reused.ID,
		Details: map[string]any{
			"family_id":      reused.FamilyID,
			"tokens_revoked": revoked,
		},
	})
	return ErrReuseDetected
}
