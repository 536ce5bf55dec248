package pat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/credentials"
	"github.com/modelgrid/modelgrid-server/internal/utils"
	"github.com/modelgrid/modelgrid-server/security"
)

const displayPrefixLength = 12

// Manager owns the personal access token lifecycle: create, list, revoke.
type Manager struct {
	store       Store
	auditor     *security.Auditor
	tokenLength int
	nowFunc     func() time.Time
}

type ManagerOption func(*Manager)

// WithManagerNowFunc sets the now time function (primarily for testing)
func WithManagerNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(store Store, auditor *security.Auditor, tokenLength int, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	m := &Manager{
		store:       store,
		auditor:     auditor,
		tokenLength: tokenLength,
		nowFunc:     time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Create mints a new token bound to the user's workspace. The plaintext
// secret is returned exactly once; only its digest is stored.
func (m *Manager) Create(ctx context.Context, userID, workspaceID, name, scope string, ttl time.Duration) (string, *Token, error) {
	now := m.nowFunc()
	plain, digest, err := credentials.NewPAT(m.tokenLength)
	if err != nil {
		return "", nil, errors.Wrap(err, "[Manager.Create] credentials.NewPAT")
	}
	token := &Token{
		ID:          uuid.New().String(),
		TokenHash:   digest,
		Prefix:      plain[:displayPrefixLength],
		Name:        name,
		UserID:      userID,
		WorkspaceID: workspaceID,
		Scope:       scope,
		CreatedAt:   now,
	}
	if ttl > 0 {
		token.ExpiresAt = utils.Ptr(now.Add(ttl))
	}
	if err := m.store.CreateToken(ctx, token); err != nil {
		return "", nil, errors.Wrap(err, "[Manager.Create] store.CreateToken")
	}
	m.auditor.LogEvent(security.Event{
		Type:        security.EventPATCreated,
		UserID:      userID,
		WorkspaceID: workspaceID,
		TokenID:     token.ID,
		Details:     map[string]any{"name": name, "scope": scope},
	})
	return plain, token, nil
}

// List returns the user's tokens, revoked ones included.
func (m *Manager) List(ctx context.Context, userID string) ([]*Token, error) {
	tokens, err := m.store.ListTokensByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.List] store.ListTokensByUser")
	}
	return tokens, nil
}

// Revoke invalidates a token. Only the owning user may revoke it.
func (m *Manager) Revoke(ctx context.Context, userID, tokenID string) error {
	token, err := m.store.GetToken(ctx, tokenID)
	if err != nil {
		return errors.Wrap(err, "[Manager.Revoke] store.GetToken")
	}
	if token.UserID != userID {
		return ErrTokenNotFound
	}
	if token.Revoked {
		return nil
	}
	if err := m.store.RevokeToken(ctx, tokenID, m.nowFunc()); err != nil {
		return errors.Wrap(err, "[Manager.Revoke] store.RevokeToken")
	}
	m.auditor.LogEvent(security.Event{
		Type:        security.EventPATRevoked,
		UserID:      userID,
		WorkspaceID: token.WorkspaceID,
		TokenID:     tokenID,
	})
	return nil
}
