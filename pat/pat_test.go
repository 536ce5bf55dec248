package pat_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modelgrid/modelgrid-server/credentials"
	"github.com/modelgrid/modelgrid-server/identity"
	"github.com/modelgrid/modelgrid-server/internal/utils"
	"github.com/modelgrid/modelgrid-server/pat"
	"github.com/modelgrid/modelgrid-server/security"
	"github.com/modelgrid/modelgrid-server/store/memory"
	"github.com/modelgrid/modelgrid-server/users"
)

const (
	testUserID      = "user-1"
	testSubject     = "jane@example.com"
	testWorkspaceID = "ws-1"
	testRemoteIP    = "203.0.113.7"
)

type patFixture struct {
	store   *memory.Store
	manager *pat.Manager
	auth    *pat.Authenticator
	now     time.Time
}

func setupPAT(t *testing.T) *patFixture {
	t.Helper()
	f := &patFixture{
		store: memory.New(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	auditor := security.NewAuditor(zerolog.Nop(), true)

	manager, err := pat.NewManager(f.store.PATs(), auditor, 32, pat.WithManagerNowFunc(clock))
	require.NoError(t, err)
	f.manager = manager

	auth, err := pat.NewAuthenticator(f.store.PATs(), f.store, auditor, time.Hour,
		pat.WithAuthenticatorNowFunc(clock))
	require.NoError(t, err)
	f.auth = auth

	require.NoError(t, f.store.Users().Upsert(context.Background(), &users.User{
		ID: testUserID, Subject: testSubject, Email: testSubject, DisplayName: "Jane",
	}))
	return f
}

func TestManagerCreate(t *testing.T) {
	f := setupPAT(t)
	plain, record, err := f.manager.Create(context.Background(), testUserID, testWorkspaceID,
		"ci-token", "projects:read", 0)
	require.NoError(t, err)

	require.Contains(t, plain, credentials.PATPrefix)
	require.Equal(t, plain[:12], record.Prefix)
	require.Equal(t, credentials.Hash(plain), record.TokenHash)
	require.Nil(t, record.ExpiresAt)

	t.Run("positive ttl sets an expiry", func(t *testing.T) {
		_, expiring, err := f.manager.Create(context.Background(), testUserID, testWorkspaceID,
			"short", "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, expiring.ExpiresAt)
		require.Equal(t, f.now.Add(time.Hour), utils.Value(expiring.ExpiresAt))
	})
}

func TestManagerRevoke(t *testing.T) {
	f := setupPAT(t)
	_, record, err := f.manager.Create(context.Background(), testUserID, testWorkspaceID, "tok", "", 0)
	require.NoError(t, err)

	t.Run("another user cannot revoke the token", func(t *testing.T) {
		err := f.manager.Revoke(context.Background(), "someone-else", record.ID)
		require.ErrorIs(t, err, pat.ErrTokenNotFound)
	})

	t.Run("owner revokes and the revocation is idempotent", func(t *testing.T) {
		require.NoError(t, f.manager.Revoke(context.Background(), testUserID, record.ID))
		require.NoError(t, f.manager.Revoke(context.Background(), testUserID, record.ID))
		stored, err := f.store.PATs().GetToken(context.Background(), record.ID)
		require.NoError(t, err)
		require.True(t, stored.Revoked)
	})
}

func TestAuthenticate(t *testing.T) {
	t.Run("resolves a valid token to a PAT identity", func(t *testing.T) {
		f := setupPAT(t)
		plain, record, err := f.manager.Create(context.Background(), testUserID, testWorkspaceID,
			"tok", "projects:read projects:write", 0)
		require.NoError(t, err)

		id, err := f.auth.Authenticate(context.Background(), plain, testRemoteIP)
		require.NoError(t, err)
		require.Equal(t, identity.KindPAT, id.Kind)
		require.Equal(t, testSubject, id.Subject)
		require.Equal(t, testUserID, id.UserID)
		require.Equal(t, testWorkspaceID, id.WorkspaceID)
		require.Equal(t, record.ID, id.TokenID)
		require.Equal(t, []string{"projects:read", "projects:write"}, id.Scopes)
	})

	t.Run("unknown token fails", func(t *testing.T) {
		f := setupPAT(t)
		_, err := f.auth.Authenticate(context.Background(), "mgp_unknown", testRemoteIP)
		require.Error(t, err)
	})

	t.Run("revoked token fails", func(t *testing.T) {
		f := setupPAT(t)
		plain, record, err := f.manager.Create(context.Background(), testUserID, testWorkspaceID, "tok", "", 0)
		require.NoError(t, err)
		require.NoError(t, f.manager.Revoke(context.Background(), testUserID, record.ID))

		_, err = f.auth.Authenticate(context.Background(), plain, testRemoteIP)
		require.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		f := setupPAT(t)
		plain, _, err := f.manager.Create(context.Background(), testUserID, testWorkspaceID, "tok", "", time.Hour)
		require.NoError(t, err)

		f.now = f.now.Add(2 * time.Hour)
		_, err = f.auth.Authenticate(context.Background(), plain, testRemoteIP)
		require.Error(t, err)
	})

	t.Run("usage is recorded and the audit stamp is throttled", func(t *testing.T) {
		f := setupPAT(t)
		plain, record, err := f.manager.Create(context.Background(), testUserID, testWorkspaceID, "tok", "", 0)
		require.NoError(t, err)

		_, err = f.auth.Authenticate(context.Background(), plain, testRemoteIP)
		require.NoError(t, err)
		stored, err := f.store.PATs().GetToken(context.Background(), record.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastUsedAt)
		require.Equal(t, testRemoteIP, stored.LastUsedIP)
		require.NotNil(t, stored.LastAuditAt)
		firstAudit := utils.Value(stored.LastAuditAt)

		// A use within the interval advances last-used but not the audit stamp.
		f.now = f.now.Add(10 * time.Minute)
		_, err = f.auth.Authenticate(context.Background(), plain, testRemoteIP)
		require.NoError(t, err)
		stored, err = f.store.PATs().GetToken(context.Background(), record.ID)
		require.NoError(t, err)
		require.Equal(t, f.now, utils.Value(stored.LastUsedAt))
		require.Equal(t, firstAudit, utils.Value(stored.LastAuditAt))

		// Past the interval the audit stamp advances too.
		f.now = f.now.Add(time.Hour)
		_, err = f.auth.Authenticate(context.Background(), plain, testRemoteIP)
		require.NoError(t, err)
		stored, err = f.store.PATs().GetToken(context.Background(), record.ID)
		require.NoError(t, err)
		require.Equal(t, f.now, utils.Value(stored.LastAuditAt))
	})
}
