package token_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelgrid/modelgrid-server/identity"
	"github.com/modelgrid/modelgrid-server/token"
)

const (
	testIssuer   = "https://auth.modelgrid.test"
	testAudience = "modelgrid-api"
	testSubject  = "jane@example.com"
	testUserID   = "user-1"
	testTenantID = "ws-1"
	testClientID = "client-1"
)

func newIssuer(t *testing.T, now func() time.Time) *token.Issuer {
	t.Helper()
	signer, generated, err := token.NewHMACSignerFromKey("test-signing-key")
	require.NoError(t, err)
	require.False(t, generated)
	issuer, err := token.NewIssuer(signer, testIssuer, testAudience, token.WithNowFunc(now))
	require.NoError(t, err)
	return issuer
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newIssuer(t, func() time.Time { return now })

	signed, err := issuer.IssueSignedToken(testSubject, testUserID, testTenantID, testClientID,
		[]string{"projects:read", "projects:write"}, time.Hour)
	require.NoError(t, err)

	id, err := issuer.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, testSubject, id.Subject)
	require.Equal(t, testUserID, id.UserID)
	require.Equal(t, testTenantID, id.WorkspaceID)
	require.Equal(t, testClientID, id.ClientID)
	require.Equal(t, []string{"projects:read", "projects:write"}, id.Scopes)
	require.NotEmpty(t, id.TokenID)
	require.Equal(t, identity.KindOAuth, id.Kind)
}

func TestVerifyRejections(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	issuer := newIssuer(t, func() time.Time { return *clock })

	t.Run("expired token", func(t *testing.T) {
		signed, err := issuer.IssueSignedToken(testSubject, testUserID, testTenantID, testClientID, nil, time.Hour)
		require.NoError(t, err)

		later := now.Add(2 * time.Hour)
		clock = &later
		defer func() { clock = &now }()

		_, err = issuer.Verify(signed)
		require.Error(t, err)
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		otherSigner, _, err := token.NewHMACSignerFromKey("other-key")
		require.NoError(t, err)
		other, err := token.NewIssuer(otherSigner, testIssuer, testAudience,
			token.WithNowFunc(func() time.Time { return now }))
		require.NoError(t, err)

		signed, err := other.IssueSignedToken(testSubject, testUserID, testTenantID, testClientID, nil, time.Hour)
		require.NoError(t, err)

		_, err = issuer.Verify(signed)
		require.Error(t, err)
	})

	t.Run("wrong issuer claim", func(t *testing.T) {
		signer, _, err := token.NewHMACSignerFromKey("test-signing-key")
		require.NoError(t, err)
		other, err := token.NewIssuer(signer, "https://other.example", testAudience,
			token.WithNowFunc(func() time.Time { return now }))
		require.NoError(t, err)

		signed, err := other.IssueSignedToken(testSubject, testUserID, testTenantID, testClientID, nil, time.Hour)
		require.NoError(t, err)

		_, err = issuer.Verify(signed)
		require.Error(t, err)
	})

	t.Run("garbage input", func(t *testing.T) {
		_, err := issuer.Verify("not-a-token")
		require.Error(t, err)
	})
}

func TestGeneratedKeyFallback(t *testing.T) {
	signer, generated, err := token.NewHMACSignerFromKey("")
	require.NoError(t, err)
	require.True(t, generated)
	require.NotNil(t, signer)
}
