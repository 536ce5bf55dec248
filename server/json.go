package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/authz"
	"github.com/modelgrid/modelgrid-server/oauth"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// writeOAuthError renders a protocol error the way the token endpoints must:
// the wire code and description, with invalid_client additionally carrying the
// WWW-Authenticate challenge.
func writeOAuthError(w http.ResponseWriter, err error) {
	oauthErr := oauth.AsError(err)
	if oauthErr.Code == oauth.ErrInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	writeJSON(w, oauthErr.HTTPStatus(), oauthErr)
}

// writeAuthzError maps decision engine denials to 403 with a structured
// reason, and everything else to 500.
func writeAuthzError(w http.ResponseWriter, err error) bool {
	var scopeErr *authz.ScopeError
	if errors.As(err, &scopeErr) {
		writeJSONError(w, "insufficient_scope", scopeErr.Error(), http.StatusForbidden)
		return true
	}
	var mismatchErr *authz.WorkspaceMismatchError
	if errors.As(err, &mismatchErr) {
		writeJSONError(w, "workspace_mismatch", mismatchErr.Error(), http.StatusForbidden)
		return true
	}
	var roleErr *authz.RoleError
	if errors.As(err, &roleErr) {
		writeJSONError(w, "insufficient_role", roleErr.Error(), http.StatusForbidden)
		return true
	}
	return false
}
