package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/oauth"
)

// Authorize handles GET /oauth/authorize. The caller is the resource owner,
// already authenticated by RequireAuth; errors discovered after the redirect
// URI is validated are delivered to the client via redirect, everything
// earlier is answered directly.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := IdentityFrom(r.Context())
		if !ok {
			writeJSONError(w, "invalid_token", "Missing authenticated caller", http.StatusUnauthorized)
			return
		}
		query := r.URL.Query()
		req := oauth.AuthorizeRequest{
			ResponseType:        query.Get("response_type"),
			ClientID:            query.Get("client_id"),
			RedirectURI:         query.Get("redirect_uri"),
			Scope:               query.Get("scope"),
			State:               query.Get("state"),
			CodeChallenge:       query.Get("code_challenge"),
			CodeChallengeMethod: query.Get("code_challenge_method"),
		}

		result, err := s.oauth.Authorize(r.Context(), caller, req)
		if err != nil {
			var redirectErr *oauth.RedirectError
			if errors.As(err, &redirectErr) {
				http.Redirect(w, r, redirectErr.RedirectURL, http.StatusFound)
				return
			}
			writeOAuthError(w, err)
			return
		}
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
	}
}

// Token handles POST /oauth/token for the authorization_code and
// refresh_token grants. Client credentials arrive either as HTTP Basic auth
// or as form fields.
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}
		clientID, clientSecret := clientCredentials(r)
		req := oauth.TokenRequest{
			GrantType:    r.PostFormValue("grant_type"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			RefreshToken: r.PostFormValue("refresh_token"),
			RemoteIP:     remoteIP(r),
		}

		response, err := s.oauth.Token(r.Context(), req)
		if err != nil {
			writeOAuthError(w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		writeJSON(w, http.StatusOK, response)
	}
}

// Revoke handles POST /oauth/revoke. Revocation of an unknown token is a
// success so the endpoint cannot be used to probe for live tokens.
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}
		clientID, clientSecret := clientCredentials(r)
		req := oauth.RevokeRequest{
			Token:         r.PostFormValue("token"),
			TokenTypeHint: r.PostFormValue("token_type_hint"),
			ClientID:      clientID,
			ClientSecret:  clientSecret,
		}

		if err := s.oauth.Revoke(r.Context(), req); err != nil {
			writeOAuthError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}
