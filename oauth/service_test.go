package oauth_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modelgrid/modelgrid-server/clients"
	"github.com/modelgrid/modelgrid-server/credentials"
	"github.com/modelgrid/modelgrid-server/identity"
	"github.com/modelgrid/modelgrid-server/internal/config"
	"github.com/modelgrid/modelgrid-server/oauth"
	"github.com/modelgrid/modelgrid-server/security"
	"github.com/modelgrid/modelgrid-server/store/memory"
	"github.com/modelgrid/modelgrid-server/token"
	"github.com/modelgrid/modelgrid-server/token/refresh"
	"github.com/modelgrid/modelgrid-server/users"
)

const (
	testClientID       = "web-app"
	testClientSecret   = "correct-horse-battery-staple"
	testPublicClientID = "desktop-viewer"
	testUserID         = "user-1"
	testSubject        = "jane@example.com"
	testWorkspaceID    = "ws-1"
	testRedirectURI    = "http://localhost:3000/callback"
	testState          = "random-state-value"
	testCodeVerifier   = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type serviceFixture struct {
	store   *memory.Store
	service *oauth.Service
	issuer  *token.Issuer
	now     time.Time
	nowMu   sync.Mutex
}

func (f *serviceFixture) clock() time.Time {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	return f.now
}

func (f *serviceFixture) advance(d time.Duration) {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.now = f.now.Add(d)
}

func setupService(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()
	f := &serviceFixture{
		store: memory.New(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	signer, _, err := token.NewHMACSignerFromKey("test-signing-key")
	require.NoError(t, err)
	cfg := config.OAuth{}
	f.issuer, err = token.NewIssuer(signer, cfg.GetIssuer(), cfg.GetAudience(), token.WithNowFunc(f.clock))
	require.NoError(t, err)

	auditor := security.NewAuditor(zerolog.Nop(), true)
	rotator, err := refresh.NewRotator(f.store, auditor, cfg.GetRefreshTokenLength(), cfg.GetRefreshTokenExpiry(),
		refresh.WithNowFunc(f.clock))
	require.NoError(t, err)

	f.service, err = oauth.NewService(oauth.Repos{
		Clients: f.store.Clients(),
		Codes:   f.store.Codes(),
		Users:   f.store.Users(),
	}, f.issuer, rotator, auditor, cfg, oauth.WithNowFunc(f.clock))
	require.NoError(t, err)

	secretHash, err := credentials.HashWithSalt(testClientSecret)
	require.NoError(t, err)
	require.NoError(t, f.store.Clients().Upsert(ctx, &clients.Client{
		ID:           testClientID,
		Type:         clients.ClientTypeConfidential,
		Name:         "Web App",
		SecretHash:   secretHash,
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"projects:read", "projects:write"},
		Enabled:      true,
		WorkspaceID:  testWorkspaceID,
	}))
	require.NoError(t, f.store.Clients().Upsert(ctx, &clients.Client{
		ID:           testPublicClientID,
		Type:         clients.ClientTypePublic,
		Name:         "Desktop Viewer",
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"projects:read"},
		Enabled:      true,
		WorkspaceID:  testWorkspaceID,
	}))
	require.NoError(t, f.store.Users().Upsert(ctx, &users.User{
		ID: testUserID, Subject: testSubject, Email: testSubject, DisplayName: "Jane",
	}))
	return f
}

func caller() identity.Identity {
	return identity.Identity{
		Subject:     testSubject,
		UserID:      testUserID,
		WorkspaceID: testWorkspaceID,
		Kind:        identity.KindOAuth,
	}
}

func authorizeRequest(clientID string) oauth.AuthorizeRequest {
	req := oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     clientID,
		RedirectURI:  testRedirectURI,
		Scope:        "projects:read",
		State:        testState,
	}
	if clientID == testPublicClientID {
		req.CodeChallenge = credentials.S256Challenge(testCodeVerifier)
		req.CodeChallengeMethod = credentials.PKCEMethodS256
	}
	return req
}

// authorize runs the authorization step and extracts the code from the
// redirect.
func (f *serviceFixture) authorize(t *testing.T, req oauth.AuthorizeRequest) (code, state string) {
	t.Helper()
	result, err := f.service.Authorize(context.Background(), caller(), req)
	require.NoError(t, err)
	redirect, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.RedirectURL, testRedirectURI))
	return redirect.Query().Get("code"), redirect.Query().Get("state")
}

func TestAuthorize(t *testing.T) {
	t.Run("happy path issues a code and echoes state", func(t *testing.T) {
		f := setupService(t)
		code, state := f.authorize(t, authorizeRequest(testClientID))
		require.True(t, strings.HasPrefix(code, credentials.AuthCodePrefix))
		require.Equal(t, testState, state)
	})

	t.Run("rejects response types other than code", func(t *testing.T) {
		f := setupService(t)
		req := authorizeRequest(testClientID)
		req.ResponseType = "token"
		_, err := f.service.Authorize(context.Background(), caller(), req)
		requireOAuthError(t, err, oauth.ErrUnsupportedResponseType)
	})

	t.Run("rejects unknown clients without redirecting", func(t *testing.T) {
		f := setupService(t)
		req := authorizeRequest("nope")
		_, err := f.service.Authorize(context.Background(), caller(), req)
		requireOAuthError(t, err, oauth.ErrInvalidClient)
		var redirectErr *oauth.RedirectError
		require.False(t, errors.As(err, &redirectErr))
	})

	t.Run("rejects unregistered redirect URIs without redirecting", func(t *testing.T) {
		f := setupService(t)
		req := authorizeRequest(testClientID)
		req.RedirectURI = "http://localhost:3000/callback/../evil"
		_, err := f.service.Authorize(context.Background(), caller(), req)
		requireOAuthError(t, err, oauth.ErrInvalidRequest)
		var redirectErr *oauth.RedirectError
		require.False(t, errors.As(err, &redirectErr))
	})

	t.Run("rejects disabled clients", func(t *testing.T) {
		f := setupService(t)
		client, err := f.store.Clients().Get(context.Background(), testClientID)
		require.NoError(t, err)
		client.Enabled = false
		require.NoError(t, f.store.Clients().Upsert(context.Background(), client))

		_, err = f.service.Authorize(context.Background(), caller(), authorizeRequest(testClientID))
		requireOAuthError(t, err, oauth.ErrUnauthorizedClient)
	})

	t.Run("public client without PKCE gets a redirect error", func(t *testing.T) {
		f := setupService(t)
		req := authorizeRequest(testPublicClientID)
		req.CodeChallenge = ""
		req.CodeChallengeMethod = ""
		_, err := f.service.Authorize(context.Background(), caller(), req)

		var redirectErr *oauth.RedirectError
		require.True(t, errors.As(err, &redirectErr))
		require.Equal(t, oauth.ErrInvalidRequest, redirectErr.Err.Code)
		redirect, parseErr := url.Parse(redirectErr.RedirectURL)
		require.NoError(t, parseErr)
		require.Equal(t, "invalid_request", redirect.Query().Get("error"))
		require.Equal(t, testState, redirect.Query().Get("state"))
	})

	t.Run("public client with plain PKCE is refused", func(t *testing.T) {
		f := setupService(t)
		req := authorizeRequest(testPublicClientID)
		req.CodeChallenge = testCodeVerifier
		req.CodeChallengeMethod = credentials.PKCEMethodPlain
		_, err := f.service.Authorize(context.Background(), caller(), req)
		var redirectErr *oauth.RedirectError
		require.True(t, errors.As(err, &redirectErr))
	})

	t.Run("empty scope grants the client's full allowed set", func(t *testing.T) {
		f := setupService(t)
		req := authorizeRequest(testClientID)
		req.Scope = ""
		code, _ := f.authorize(t, req)

		response := f.redeem(t, code, testClientID, testClientSecret, "")
		require.ElementsMatch(t, []string{"projects:read", "projects:write"}, strings.Fields(response.Scope))
	})

	t.Run("scope outside the allowed set redirects with invalid_scope", func(t *testing.T) {
		f := setupService(t)
		req := authorizeRequest(testClientID)
		req.Scope = "projects:read admin:everything"
		_, err := f.service.Authorize(context.Background(), caller(), req)

		var redirectErr *oauth.RedirectError
		require.True(t, errors.As(err, &redirectErr))
		require.Equal(t, oauth.ErrInvalidScope, redirectErr.Err.Code)
	})
}

// redeem exchanges a code at the token endpoint, failing the test on error.
func (f *serviceFixture) redeem(t *testing.T, code, clientID, clientSecret, verifier string) *oauth.TokenResponse {
	t.Helper()
	response, err := f.service.Token(context.Background(), oauth.TokenRequest{
		GrantType:    oauth.GrantTypeAuthorizationCode,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	return response
}

func TestTokenAuthorizationCodeGrant(t *testing.T) {
	t.Run("redeems a code for tokens carrying the workspace binding", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))
		response := f.redeem(t, code, testClientID, testClientSecret, "")

		require.Equal(t, "Bearer", response.TokenType)
		require.Equal(t, int64(3600), response.ExpiresIn)
		require.True(t, strings.HasPrefix(response.RefreshToken, credentials.RefreshTokenPrefix))

		id, err := f.issuer.Verify(response.AccessToken)
		require.NoError(t, err)
		require.Equal(t, testSubject, id.Subject)
		require.Equal(t, testWorkspaceID, id.WorkspaceID)
		require.Equal(t, testClientID, id.ClientID)
		require.Equal(t, []string{"projects:read"}, id.Scopes)
	})

	t.Run("a code is single use", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))
		f.redeem(t, code, testClientID, testClientSecret, "")

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testClientID,
			ClientSecret: testClientSecret, Code: code, RedirectURI: testRedirectURI,
		})
		requireOAuthError(t, err, oauth.ErrInvalidGrant)
	})

	t.Run("concurrent redemptions let exactly one through", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))

		const attempts = 8
		errs := make(chan error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.Token(context.Background(), oauth.TokenRequest{
					GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testClientID,
					ClientSecret: testClientSecret, Code: code, RedirectURI: testRedirectURI,
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
			}
		}
		require.Equal(t, 1, succeeded)
	})

	t.Run("expired code is refused", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))
		f.advance(11 * time.Minute)

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testClientID,
			ClientSecret: testClientSecret, Code: code, RedirectURI: testRedirectURI,
		})
		requireOAuthError(t, err, oauth.ErrInvalidGrant)
	})

	t.Run("wrong client secret is invalid_client", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testClientID,
			ClientSecret: "wrong", Code: code, RedirectURI: testRedirectURI,
		})
		requireOAuthError(t, err, oauth.ErrInvalidClient)
	})

	t.Run("code issued to another client is refused", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testPublicClientID))

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testClientID,
			ClientSecret: testClientSecret, Code: code, RedirectURI: testRedirectURI,
		})
		requireOAuthError(t, err, oauth.ErrInvalidGrant)
	})

	t.Run("redirect_uri must match the authorization request", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testClientID,
			ClientSecret: testClientSecret, Code: code, RedirectURI: "http://localhost:3000/other",
		})
		requireOAuthError(t, err, oauth.ErrInvalidGrant)
	})

	t.Run("unsupported grant type", func(t *testing.T) {
		f := setupService(t)
		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: "password", ClientID: testClientID, ClientSecret: testClientSecret,
		})
		requireOAuthError(t, err, oauth.ErrUnsupportedGrantType)
	})
}

func TestTokenPKCE(t *testing.T) {
	t.Run("public client roundtrip with S256", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testPublicClientID))
		response := f.redeem(t, code, testPublicClientID, "", testCodeVerifier)
		require.NotEmpty(t, response.AccessToken)
	})

	t.Run("missing code_verifier is invalid_grant", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testPublicClientID))

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testPublicClientID,
			Code: code, RedirectURI: testRedirectURI,
		})
		requireOAuthError(t, err, oauth.ErrInvalidGrant)
	})

	t.Run("wrong code_verifier is invalid_grant", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testPublicClientID))

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testPublicClientID,
			Code: code, RedirectURI: testRedirectURI, CodeVerifier: testCodeVerifier + "x",
		})
		requireOAuthError(t, err, oauth.ErrInvalidGrant)
	})

	t.Run("public client must not send a secret", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testPublicClientID))

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode, ClientID: testPublicClientID,
			ClientSecret: "whatever", Code: code, RedirectURI: testRedirectURI,
			CodeVerifier: testCodeVerifier,
		})
		requireOAuthError(t, err, oauth.ErrInvalidRequest)
	})
}

func TestTokenRefreshGrant(t *testing.T) {
	t.Run("rotation returns fresh tokens with the same scopes", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))
		first := f.redeem(t, code, testClientID, testClientSecret, "")

		second, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeRefreshToken, ClientID: testClientID,
			ClientSecret: testClientSecret, RefreshToken: first.RefreshToken,
		})
		require.NoError(t, err)
		require.NotEqual(t, first.RefreshToken, second.RefreshToken)
		require.Equal(t, first.Scope, second.Scope)

		id, verifyErr := f.issuer.Verify(second.AccessToken)
		require.NoError(t, verifyErr)
		require.Equal(t, testWorkspaceID, id.WorkspaceID)
	})

	t.Run("replayed refresh token is invalid_grant", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))
		first := f.redeem(t, code, testClientID, testClientSecret, "")

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeRefreshToken, ClientID: testClientID,
			ClientSecret: testClientSecret, RefreshToken: first.RefreshToken,
		})
		require.NoError(t, err)

		_, err = f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeRefreshToken, ClientID: testClientID,
			ClientSecret: testClientSecret, RefreshToken: first.RefreshToken,
		})
		requireOAuthError(t, err, oauth.ErrInvalidGrant)
	})

	t.Run("missing refresh_token is invalid_request", func(t *testing.T) {
		f := setupService(t)
		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeRefreshToken, ClientID: testClientID,
			ClientSecret: testClientSecret,
		})
		requireOAuthError(t, err, oauth.ErrInvalidRequest)
	})
}

func TestRevoke(t *testing.T) {
	t.Run("revoked refresh token can no longer be redeemed", func(t *testing.T) {
		f := setupService(t)
		code, _ := f.authorize(t, authorizeRequest(testClientID))
		response := f.redeem(t, code, testClientID, testClientSecret, "")

		require.NoError(t, f.service.Revoke(context.Background(), oauth.RevokeRequest{
			Token: response.RefreshToken, ClientID: testClientID, ClientSecret: testClientSecret,
		}))

		_, err := f.service.Token(context.Background(), oauth.TokenRequest{
			GrantType: oauth.GrantTypeRefreshToken, ClientID: testClientID,
			ClientSecret: testClientSecret, RefreshToken: response.RefreshToken,
		})
		requireOAuthError(t, err, oauth.ErrInvalidGrant)
	})

	t.Run("unknown token succeeds", func(t *testing.T) {
		f := setupService(t)
		require.NoError(t, f.service.Revoke(context.Background(), oauth.RevokeRequest{
			Token: "mgr_unknown", ClientID: testClientID, ClientSecret: testClientSecret,
		}))
	})

	t.Run("bad client credentials are still refused", func(t *testing.T) {
		f := setupService(t)
		err := f.service.Revoke(context.Background(), oauth.RevokeRequest{
			Token: "mgr_unknown", ClientID: testClientID, ClientSecret: "wrong",
		})
		requireOAuthError(t, err, oauth.ErrInvalidClient)
	})
}

func requireOAuthError(t *testing.T, err error, code oauth.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, oauth.AsError(err).Code)
}
