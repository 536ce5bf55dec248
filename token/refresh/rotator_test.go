package refresh_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modelgrid/modelgrid-server/security"
	"github.com/modelgrid/modelgrid-server/store/memory"
	"github.com/modelgrid/modelgrid-server/token/refresh"
)

const (
	testClientID    = "client-1"
	testUserID      = "user-1"
	testWorkspaceID = "ws-1"
)

type rotatorFixture struct {
	store   *memory.Store
	rotator *refresh.Rotator
	now     time.Time
}

func setupRotator(t *testing.T) *rotatorFixture {
	t.Helper()
	f := &rotatorFixture{
		store: memory.New(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	auditor := security.NewAuditor(zerolog.Nop(), true)
	rotator, err := refresh.NewRotator(f.store, auditor, 32, 30*24*time.Hour,
		refresh.WithNowFunc(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.rotator = rotator
	return f
}

func (f *rotatorFixture) issueFamily(t *testing.T) *refresh.Rotation {
	t.Helper()
	rotation, err := f.rotator.IssueFamily(context.Background(), testClientID, testUserID, testWorkspaceID,
		[]string{"projects:read"})
	require.NoError(t, err)
	return rotation
}

func (f *rotatorFixture) activeInFamily(t *testing.T, familyID string) []*refresh.Token {
	t.Helper()
	family, err := f.store.ListFamily(context.Background(), familyID)
	require.NoError(t, err)
	var active []*refresh.Token
	for _, tok := range family {
		if !tok.Revoked {
			active = append(active, tok)
		}
	}
	return active
}

func TestIssueFamily(t *testing.T) {
	f := setupRotator(t)
	rotation := f.issueFamily(t)

	require.NotEmpty(t, rotation.PlainToken)
	require.NotEmpty(t, rotation.FamilyID)
	require.Equal(t, []string{"projects:read"}, rotation.Scopes)

	active := f.activeInFamily(t, rotation.FamilyID)
	require.Len(t, active, 1)
	require.Empty(t, active[0].ParentID)
}

func TestRotate(t *testing.T) {
	t.Run("a chain of rotations leaves exactly one active token", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)
		familyID := rotation.FamilyID

		current := rotation.PlainToken
		for i := 0; i < 5; i++ {
			next, err := f.rotator.Rotate(context.Background(), testClientID, current)
			require.NoError(t, err)
			require.Equal(t, familyID, next.FamilyID)
			require.NotEqual(t, current, next.PlainToken)
			current = next.PlainToken
		}

		family, err := f.store.ListFamily(context.Background(), familyID)
		require.NoError(t, err)
		require.Len(t, family, 6)
		require.Len(t, f.activeInFamily(t, familyID), 1)
	})

	t.Run("rotation preserves scopes and bindings", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)

		next, err := f.rotator.Rotate(context.Background(), testClientID, rotation.PlainToken)
		require.NoError(t, err)
		require.Equal(t, []string{"projects:read"}, next.Scopes)
		require.Equal(t, testUserID, next.UserID)
		require.Equal(t, testWorkspaceID, next.WorkspaceID)
	})

	t.Run("rotated-out ancestors are marked with the rotation reason", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)

		_, err := f.rotator.Rotate(context.Background(), testClientID, rotation.PlainToken)
		require.NoError(t, err)

		family, err := f.store.ListFamily(context.Background(), rotation.FamilyID)
		require.NoError(t, err)
		for _, tok := range family {
			if tok.Revoked {
				require.Equal(t, refresh.ReasonRotation, tok.RevokedReason)
				require.NotEmpty(t, tok.ReplacedByID)
			}
		}
	})

	t.Run("unknown token fails", func(t *testing.T) {
		f := setupRotator(t)
		_, err := f.rotator.Rotate(context.Background(), testClientID, "mgr_unknown")
		require.ErrorIs(t, err, refresh.ErrInvalidToken)
	})

	t.Run("token presented by a different client fails", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)
		_, err := f.rotator.Rotate(context.Background(), "other-client", rotation.PlainToken)
		require.ErrorIs(t, err, refresh.ErrInvalidToken)
	})

	t.Run("expired token fails without burning the family", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)

		f.now = f.now.Add(31 * 24 * time.Hour)
		_, err := f.rotator.Rotate(context.Background(), testClientID, rotation.PlainToken)
		require.ErrorIs(t, err, refresh.ErrInvalidToken)

		// Expiry is not replay: the token stays unrevoked.
		require.Len(t, f.activeInFamily(t, rotation.FamilyID), 1)
	})
}

func TestReuseDetection(t *testing.T) {
	t.Run("presenting a rotated-out token revokes the whole family", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)
		first := rotation.PlainToken

		second, err := f.rotator.Rotate(context.Background(), testClientID, first)
		require.NoError(t, err)
		third, err := f.rotator.Rotate(context.Background(), testClientID, second.PlainToken)
		require.NoError(t, err)

		// Replay the first token.
		_, err = f.rotator.Rotate(context.Background(), testClientID, first)
		require.ErrorIs(t, err, refresh.ErrReuseDetected)

		// Everything is dead, including the newest descendant.
		require.Empty(t, f.activeInFamily(t, rotation.FamilyID))
		_, err = f.rotator.Rotate(context.Background(), testClientID, third.PlainToken)
		require.ErrorIs(t, err, refresh.ErrReuseDetected)
	})

	t.Run("burned tokens record the reuse reason", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)

		next, err := f.rotator.Rotate(context.Background(), testClientID, rotation.PlainToken)
		require.NoError(t, err)
		_, err = f.rotator.Rotate(context.Background(), testClientID, rotation.PlainToken)
		require.ErrorIs(t, err, refresh.ErrReuseDetected)

		family, err := f.store.ListFamily(context.Background(), rotation.FamilyID)
		require.NoError(t, err)
		for _, tok := range family {
			require.True(t, tok.Revoked)
			if tok.ID == next.TokenID {
				require.Equal(t, refresh.ReasonReuseDetected, tok.RevokedReason)
			}
		}
	})
}

func TestRevoke(t *testing.T) {
	t.Run("revokes an active token with the user reason", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)

		require.NoError(t, f.rotator.Revoke(context.Background(), testClientID, rotation.PlainToken))

		family, err := f.store.ListFamily(context.Background(), rotation.FamilyID)
		require.NoError(t, err)
		require.Len(t, family, 1)
		require.True(t, family[0].Revoked)
		require.Equal(t, refresh.ReasonUserRevoked, family[0].RevokedReason)
	})

	t.Run("unknown token is not an error", func(t *testing.T) {
		f := setupRotator(t)
		require.NoError(t, f.rotator.Revoke(context.Background(), testClientID, "mgr_unknown"))
	})

	t.Run("revoking twice is idempotent", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)
		require.NoError(t, f.rotator.Revoke(context.Background(), testClientID, rotation.PlainToken))
		require.NoError(t, f.rotator.Revoke(context.Background(), testClientID, rotation.PlainToken))
	})

	t.Run("a revoked token presented for rotation burns the family", func(t *testing.T) {
		f := setupRotator(t)
		rotation := f.issueFamily(t)
		require.NoError(t, f.rotator.Revoke(context.Background(), testClientID, rotation.PlainToken))

		_, err := f.rotator.Rotate(context.Background(), testClientID, rotation.PlainToken)
		require.ErrorIs(t, err, refresh.ErrReuseDetected)
	})
}
