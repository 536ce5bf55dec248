package pat

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/credentials"
	"github.com/modelgrid/modelgrid-server/identity"
	"github.com/modelgrid/modelgrid-server/security"
)

// Authenticator resolves presented personal access tokens into identities.
// Usage is recorded on every hit, but the audit event is throttled to once
// per interval per token to keep busy integrations from flooding the trail.
type Authenticator struct {
	store         Store
	users         SubjectDirectory
	auditor       *security.Auditor
	auditInterval time.Duration
	nowFunc       func() time.Time
}

// SubjectDirectory resolves a token's owning user to the subject the rest of
// the platform keys identities on.
type SubjectDirectory interface {
	Subject(ctx context.Context, userID string) (string, error)
}

type AuthenticatorOption func(*Authenticator)

// WithAuthenticatorNowFunc sets the now time function (primarily for testing)
func WithAuthenticatorNowFunc(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		a.nowFunc = now
	}
}

func NewAuthenticator(store Store, users SubjectDirectory, auditor *security.Auditor, auditInterval time.Duration, options ...AuthenticatorOption) (*Authenticator, error) {
	if store == nil || users == nil {
		return nil, errors.New("[NewAuthenticator] store and subject directory are required")
	}
	a := &Authenticator{
		store:         store,
		users:         users,
		auditor:       auditor,
		auditInterval: auditInterval,
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a, nil
}

// Authenticate looks the presented secret up by digest and returns the
// identity it grants.
func (a *Authenticator) Authenticate(ctx context.Context, raw, remoteIP string) (identity.Identity, error) {
	now := a.nowFunc()
	token, err := a.store.GetTokenByHash(ctx, credentials.Hash(raw))
	if err != nil {
		return identity.Identity{}, errors.Wrap(err, "[Authenticator.Authenticate] store.GetTokenByHash")
	}
	if !token.Usable(now) {
		return identity.Identity{}, ErrTokenNotFound
	}
	subject, err := a.users.Subject(ctx, token.UserID)
	if err != nil {
		return identity.Identity{}, errors.Wrap(err, "[Authenticator.Authenticate] users.Subject")
	}

	var auditAt *time.Time
	if token.LastAuditAt == nil || now.Sub(*token.LastAuditAt) >= a.auditInterval {
		auditAt = &now
		a.auditor.LogEvent(security.Event{
			Type:        security.EventPATUsage,
			UserID:      token.UserID,
			WorkspaceID: token.WorkspaceID,
			TokenID:     token.ID,
			IP:          remoteIP,
		})
	}
	if err := a.store.UpdateUsage(ctx, token.ID, now, remoteIP, auditAt); err != nil {
		return identity.Identity{}, errors.Wrap(err, "[Authenticator.Authenticate] store.UpdateUsage")
	}

	return identity.Identity{
		Subject:     subject,
		UserID:      token.UserID,
		WorkspaceID: token.WorkspaceID,
		ClientID:    token.ID,
		TokenID:     token.ID,
		Scopes:      identity.SplitScopes(token.Scope),
		Kind:        identity.KindPAT,
	}, nil
}
