package oauth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/clients"
	"github.com/modelgrid/modelgrid-server/credentials"
	"github.com/modelgrid/modelgrid-server/identity"
	"github.com/modelgrid/modelgrid-server/internal/config"
	"github.com/modelgrid/modelgrid-server/security"
	"github.com/modelgrid/modelgrid-server/token"
	"github.com/modelgrid/modelgrid-server/token/refresh"
	"github.com/modelgrid/modelgrid-server/users"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"
)

// Repos groups the collaborators the service needs.
type Repos struct {
	Clients clients.Repo
	Codes   CodeStore
	Users   users.Repo
}

// Service implements the protocol endpoints on top of the stores, the access
// token issuer, and the refresh-token rotator.
type Service struct {
	repos      Repos
	issuer     *token.Issuer
	rotator    *refresh.Rotator
	auditor    *security.Auditor
	codeTTL    time.Duration
	codeLength int
	accessTTL  time.Duration
	refreshOn  bool
	nowFunc    func() time.Time
}

type ServiceOption func(*Service)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func NewService(repos Repos, issuer *token.Issuer, rotator *refresh.Rotator, auditor *security.Auditor, cfg config.OAuthConfig, options ...ServiceOption) (*Service, error) {
	if repos.Clients == nil || repos.Codes == nil || repos.Users == nil {
		return nil, errors.New("[NewService] client, code, and user repos are required")
	}
	if issuer == nil {
		return nil, errors.New("[NewService] token issuer is required")
	}
	s := &Service{
		repos:      repos,
		issuer:     issuer,
		rotator:    rotator,
		auditor:    auditor,
		codeTTL:    cfg.GetAuthCodeTTL(),
		codeLength: cfg.GetCodeLength(),
		accessTTL:  cfg.GetAccessTokenExpiry(),
		refreshOn:  cfg.GetRefreshTokensEnabled() && rotator != nil,
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Authorize handles an authorization request from an already-authenticated
// caller. Failures before the redirect URI is proven registered return a
// direct *Error; failures after return a *RedirectError aimed at the client.
func (s *Service) Authorize(ctx context.Context, caller identity.Identity, req AuthorizeRequest) (*AuthorizeResult, error) {
	if req.ResponseType != ResponseTypeCode {
		return nil, NewError(ErrUnsupportedResponseType, "only response_type=code is supported")
	}

	client, err := s.repos.Clients.Get(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			return nil, NewError(ErrInvalidClient, "unknown client")
		}
		return nil, errors.Wrap(err, "[Service.Authorize] clients.Get")
	}
	if !client.Enabled {
		return nil, NewError(ErrUnauthorizedClient, "client is disabled")
	}

	// Never redirect to an unregistered URI. This is the one rule the rest
	// of the flow's error handling depends on.
	if req.RedirectURI == "" || !client.HasRedirectURI(req.RedirectURI) {
		s.auditor.LogEvent(security.Event{
			Type:     security.EventInvalidRedirectURI,
			UserID:   caller.UserID,
			ClientID: client.ID,
			Details:  map[string]any{"redirect_uri": req.RedirectURI},
		})
		return nil, NewError(ErrInvalidRequest, "redirect_uri is not registered for this client")
	}

	if client.IsPublic() {
		if req.CodeChallenge == "" {
			return nil, s.redirectError(req, NewError(ErrInvalidRequest, "code_challenge is required for public clients"))
		}
		if req.CodeChallengeMethod != credentials.PKCEMethodS256 {
			return nil, s.redirectError(req, NewError(ErrInvalidRequest, "code_challenge_method must be S256"))
		}
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod != credentials.PKCEMethodPlain && req.CodeChallengeMethod != credentials.PKCEMethodS256 {
		return nil, s.redirectError(req, NewError(ErrInvalidRequest, "unsupported code_challenge_method"))
	}

	granted, err := client.ResolveScopes(identity.SplitScopes(req.Scope))
	if err != nil {
		return nil, s.redirectError(req, NewError(ErrInvalidScope, err.Error()))
	}

	now := s.nowFunc()
	plainCode, digest, err := credentials.NewAuthCode(s.codeLength)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Authorize] credentials.NewAuthCode")
	}
	code := &AuthorizationCode{
		ID:                  uuid.New().String(),
		CodeHash:            digest,
		ClientID:            client.ID,
		UserID:              caller.UserID,
		WorkspaceID:         client.WorkspaceID,
		Scopes:              granted,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.codeTTL),
	}
	if err := s.repos.Codes.SaveCode(ctx, code); err != nil {
		return nil, errors.Wrap(err, "[Service.Authorize] codes.SaveCode")
	}
	s.auditor.LogEvent(security.Event{
		Type:        security.EventAuthorizationCodeIssued,
		UserID:      caller.UserID,
		ClientID:    client.ID,
		WorkspaceID: code.WorkspaceID,
		Details:     map[string]any{"scope": strings.Join(granted, " ")},
	})

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Authorize] url.Parse redirect_uri")
	}
	query := redirect.Query()
	query.Set("code", plainCode)
	if req.State != "" {
		query.Set("state", req.State)
	}
	redirect.RawQuery = query.Encode()
	return &AuthorizeResult{RedirectURL: redirect.String()}, nil
}

// Token handles the token endpoint for both supported grants.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.RemoteIP)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.redeemCode(ctx, client, req)
	case GrantTypeRefreshToken:
		return s.refreshGrant(ctx, client, req)
	default:
		return nil, NewError(ErrUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}
}

// Revoke invalidates the presented refresh token. Per the revocation
// endpoint's contract it succeeds even when the token is unknown, so callers
// cannot probe for live tokens.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) error {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, "")
	if err != nil {
		return err
	}
	if req.Token == "" {
		return NewError(ErrInvalidRequest, "token is required")
	}
	if s.rotator == nil {
		return nil
	}
	if err := s.rotator.Revoke(ctx, client.ID, req.Token); err != nil {
		return errors.Wrap(err, "[Service.Revoke] rotator.Revoke")
	}
	return nil
}

func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret, remoteIP string) (*clients.Client, error) {
	client, err := s.repos.Clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			return nil, NewError(ErrInvalidClient, "unknown client")
		}
		return nil, errors.Wrap(err, "[Service.authenticateClient] clients.Get")
	}
	if !client.Enabled {
		return nil, NewError(ErrUnauthorizedClient, "client is disabled")
	}
	if client.IsPublic() {
		if clientSecret != "" {
			return nil, NewError(ErrInvalidRequest, "public clients must not send client_secret")
		}
		return client, nil
	}
	if clientSecret == "" || !credentials.VerifySaltedHash(clientSecret, client.SecretHash) {
		s.auditor.LogEvent(security.Event{
			Type:     security.EventAuthFailure,
			ClientID: clientID,
			IP:       remoteIP,
			Details:  map[string]any{"reason": "client secret mismatch"},
		})
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}

func (s *Service) redeemCode(ctx context.Context, client *clients.Client, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, NewError(ErrInvalidRequest, "code is required")
	}
	now := s.nowFunc()
	code, err := s.repos.Codes.ConsumeCode(ctx, credentials.Hash(req.Code), now)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) || errors.Is(err, ErrCodeUsed) {
			return nil, NewError(ErrInvalidGrant, "authorization code is invalid or already used")
		}
		return nil, errors.Wrap(err, "[Service.redeemCode] codes.ConsumeCode")
	}
	if code.ClientID != client.ID {
		return nil, NewError(ErrInvalidGrant, "authorization code was issued to a different client")
	}
	if !now.Before(code.ExpiresAt) {
		return nil, NewError(ErrInvalidGrant, "authorization code has expired")
	}
	if req.RedirectURI != code.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, NewError(ErrInvalidGrant, "code_verifier is required")
		}
		if err := credentials.VerifyPKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod); err != nil {
			return nil, NewError(ErrInvalidGrant, "code_verifier does not match the challenge")
		}
	} else if client.IsPublic() {
		return nil, NewError(ErrInvalidGrant, "authorization code lacks the PKCE challenge required for public clients")
	}

	return s.issueTokens(ctx, client.ID, code.UserID, code.WorkspaceID, code.Scopes, security.EventTokenIssued)
}

func (s *Service) refreshGrant(ctx context.Context, client *clients.Client, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, NewError(ErrInvalidRequest, "refresh_token is required")
	}
	if !s.refreshOn {
		return nil, NewError(ErrUnsupportedGrantType, "refresh tokens are disabled")
	}
	rotation, err := s.rotator.Rotate(ctx, client.ID, req.RefreshToken)
	if err != nil {
		if errors.Is(err, refresh.ErrInvalidToken) || errors.Is(err, refresh.ErrReuseDetected) {
			return nil, NewError(ErrInvalidGrant, "refresh token is invalid, expired, or revoked")
		}
		return nil, errors.Wrap(err, "[Service.refreshGrant] rotator.Rotate")
	}

	user, err := s.repos.Users.GetByID(ctx, rotation.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.refreshGrant] users.GetByID")
	}
	access, err := s.issuer.IssueSignedToken(user.Subject, user.ID, rotation.WorkspaceID, client.ID, rotation.Scopes, s.accessTTL)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.refreshGrant] issuer.IssueSignedToken")
	}
	s.auditor.LogEvent(security.Event{
		Type:        security.EventTokenRefreshed,
		UserID:      user.ID,
		ClientID:    client.ID,
		WorkspaceID: rotation.WorkspaceID,
		TokenID:     rotation.TokenID,
	})
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		Scope:        strings.Join(rotation.Scopes, " "),
		RefreshToken: rotation.PlainToken,
	}, nil
}

func (s *Service) issueTokens(ctx context.Context, clientID, userID, workspaceID string, scopes []string, event string) (*TokenResponse, error) {
	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.issueTokens] users.GetByID")
	}
	access, err := s.issuer.IssueSignedToken(user.Subject, user.ID, workspaceID, clientID, scopes, s.accessTTL)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.issueTokens] issuer.IssueSignedToken")
	}
	response := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}
	if s.refreshOn {
		rotation, err := s.rotator.IssueFamily(ctx, clientID, userID, workspaceID, scopes)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.issueTokens] rotator.IssueFamily")
		}
		response.RefreshToken = rotation.PlainToken
	}
	s.auditor.LogEvent(security.Event{
		Type:        event,
		UserID:      user.ID,
		ClientID:    clientID,
		WorkspaceID: workspaceID,
		Details:     map[string]any{"scope": response.Scope},
	})
	return response, nil
}

func (s *Service) redirectError(req AuthorizeRequest, oauthErr *Error) error {
	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		return oauthErr
	}
	query := redirect.Query()
	query.Set("error", string(oauthErr.Code))
	if oauthErr.Description != "" {
		query.Set("error_description", oauthErr.Description)
	}
	if req.State != "" {
		query.Set("state", req.State)
	}
	redirect.RawQuery = query.Encode()
	return &RedirectError{RedirectURL: redirect.String(), Err: oauthErr}
}
