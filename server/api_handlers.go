package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/authz"
	"github.com/modelgrid/modelgrid-server/pat"
	"github.com/modelgrid/modelgrid-server/security"
	"github.com/modelgrid/modelgrid-server/users"
	"github.com/modelgrid/modelgrid-server/workspaces"
)

// Me returns the caller's directory profile plus the identity the credential
// resolved to.
func (s *Server) Me() http.HandlerFunc {
	type response struct {
		User        *users.User `json:"user"`
		WorkspaceID string      `json:"workspaceId,omitempty"`
		Scopes      []string    `json:"scopes,omitempty"`
		Kind        string      `json:"kind"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := IdentityFrom(r.Context())
		if err := s.engine.RequireScope(caller, authz.ScopeProfileRead); err != nil {
			s.denied(w, r, err)
			return
		}
		user, err := s.users.GetByID(r.Context(), caller.UserID)
		if err != nil {
			writeJSONError(w, "server_error", "failed to load user", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, response{
			User:        user,
			WorkspaceID: caller.WorkspaceID,
			Scopes:      caller.Scopes,
			Kind:        string(caller.Kind),
		})
	}
}

// CreatePAT mints a personal access token for the caller. The secret appears
// in this response and nowhere else.
func (s *Server) CreatePAT() http.HandlerFunc {
	type request struct {
		Name      string `json:"name"`
		Scope     string `json:"scope"`
		ExpiresIn int64  `json:"expiresInSeconds"`
	}
	type response struct {
		Token  string     `json:"token"`
		Record *pat.Token `json:"record"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := IdentityFrom(r.Context())
		if err := s.engine.RequireScope(caller, authz.ScopeTokensManage); err != nil {
			s.denied(w, r, err)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse JSON body", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			writeJSONError(w, "invalid_request", "name is required", http.StatusBadRequest)
			return
		}
		plain, record, err := s.pats.Create(r.Context(), caller.UserID, caller.WorkspaceID,
			req.Name, req.Scope, time.Duration(req.ExpiresIn)*time.Second)
		if err != nil {
			writeJSONError(w, "server_error", "failed to create token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, response{Token: plain, Record: record})
	}
}

func (s *Server) ListPATs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := IdentityFrom(r.Context())
		if err := s.engine.RequireScope(caller, authz.ScopeTokensManage); err != nil {
			s.denied(w, r, err)
			return
		}
		tokens, err := s.pats.List(r.Context(), caller.UserID)
		if err != nil {
			writeJSONError(w, "server_error", "failed to list tokens", http.StatusInternalServerError)
			return
		}
		if tokens == nil {
			tokens = []*pat.Token{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
	}
}

func (s *Server) RevokePAT() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := IdentityFrom(r.Context())
		if err := s.engine.RequireScope(caller, authz.ScopeTokensManage); err != nil {
			s.denied(w, r, err)
			return
		}
		if err := s.pats.Revoke(r.Context(), caller.UserID, r.PathValue("id")); err != nil {
			if errors.Is(err, pat.ErrTokenNotFound) {
				writeJSONError(w, "not_found", "token not found", http.StatusNotFound)
				return
			}
			writeJSONError(w, "server_error", "failed to revoke token", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListWorkspaceProjects lists a workspace's projects. Requires workspace
// membership; a workspace-bound credential for another tenant is refused
// before roles are even considered.
func (s *Server) ListWorkspaceProjects() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := IdentityFrom(r.Context())
		workspaceID := r.PathValue("id")
		if err := s.engine.RequireScope(caller, authz.ScopeProjectsRead); err != nil {
			s.denied(w, r, err)
			return
		}
		if err := s.engine.RequireWorkspaceRole(r.Context(), caller, workspaceID, authz.WorkspaceRoleGuest); err != nil {
			s.denied(w, r, err)
			return
		}
		projects, err := s.workspaces.ListProjects(r.Context(), workspaceID)
		if err != nil {
			writeJSONError(w, "server_error", "failed to list projects", http.StatusInternalServerError)
			return
		}
		if projects == nil {
			projects = []*workspaces.Project{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	}
}

func (s *Server) GetProject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := IdentityFrom(r.Context())
		projectID := r.PathValue("id")
		if err := s.engine.RequireScope(caller, authz.ScopeProjectsRead); err != nil {
			s.denied(w, r, err)
			return
		}
		if err := s.engine.RequireProjectRole(r.Context(), caller, projectID, authz.ProjectRoleViewer); err != nil {
			s.projectDenied(w, r, err)
			return
		}
		project, err := s.workspaces.GetProject(r.Context(), projectID)
		if err != nil {
			writeJSONError(w, "not_found", "project not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, project)
	}
}

func (s *Server) DeleteProject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := IdentityFrom(r.Context())
		projectID := r.PathValue("id")
		if err := s.engine.RequireAllScopes(caller, authz.ScopeProjectsWrite); err != nil {
			s.denied(w, r, err)
			return
		}
		if err := s.engine.RequireProjectRole(r.Context(), caller, projectID, authz.ProjectRoleAdmin); err != nil {
			s.projectDenied(w, r, err)
			return
		}
		if err := s.workspaces.DeleteProject(r.Context(), projectID); err != nil {
			if errors.Is(err, workspaces.ErrProjectNotFound) {
				writeJSONError(w, "not_found", "project not found", http.StatusNotFound)
				return
			}
			writeJSONError(w, "server_error", "failed to delete project", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// denied writes the 403 for an authorization failure, auditing isolation
// violations on the way out.
func (s *Server) denied(w http.ResponseWriter, r *http.Request, err error) {
	var mismatch *authz.WorkspaceMismatchError
	if errors.As(err, &mismatch) {
		caller, _ := IdentityFrom(r.Context())
		s.auditor.LogEvent(security.Event{
			Type:        security.EventWorkspaceIsolationViolation,
			UserID:      caller.UserID,
			WorkspaceID: mismatch.Bound,
			IP:          remoteIP(r),
			Details:     map[string]any{"target_workspace": mismatch.Target, "path": r.URL.Path},
		})
	}
	if writeAuthzError(w, err) {
		return
	}
	writeJSONError(w, "server_error", "authorization check failed", http.StatusInternalServerError)
}

// projectDenied additionally collapses unknown projects into 404 so probing
// for project ids reveals nothing.
func (s *Server) projectDenied(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, workspaces.ErrProjectNotFound) {
		writeJSONError(w, "not_found", "project not found", http.StatusNotFound)
		return
	}
	s.denied(w, r, err)
}
