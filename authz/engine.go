package authz

import (
	"context"

	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/identity"
)

// MembershipStore resolves the roles a user holds. Implementations return the
// zero role (not an error) when no membership exists.
type MembershipStore interface {
	WorkspaceRole(ctx context.Context, workspaceID, userID string) (WorkspaceRole, error)
	ProjectRole(ctx context.Context, projectID, userID string) (ProjectRole, error)
}

// ProjectDirectory resolves which workspace owns a project.
type ProjectDirectory interface {
	ProjectWorkspace(ctx context.Context, projectID string) (string, error)
}

// Engine evaluates the authorization layers for a resolved identity. Checks
// are independent: a route states what it needs and every stated check must
// pass.
type Engine struct {
	memberships   MembershipStore
	projects      ProjectDirectory
	allowUnscoped bool
}

type EngineOption func(*Engine)

// WithAllowUnscopedTokens controls whether tokens carrying no scopes pass
// scope checks. Defaults to true for compatibility with identities issued
// before scopes existed.
func WithAllowUnscopedTokens(allow bool) EngineOption {
	return func(e *Engine) {
		e.allowUnscoped = allow
	}
}

func NewEngine(memberships MembershipStore, projects ProjectDirectory, options ...EngineOption) (*Engine, error) {
	if memberships == nil || projects == nil {
		return nil, errors.New("[NewEngine] membership store and project directory are required")
	}
	e := &Engine{
		memberships:   memberships,
		projects:      projects,
		allowUnscoped: true,
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// RequireScope passes when the identity holds at least one of the given
// scopes, or when it carries no scopes at all and unscoped tokens are allowed.
func (e *Engine) RequireScope(id identity.Identity, anyOf ...string) error {
	if len(id.Scopes) == 0 && e.allowUnscoped {
		return nil
	}
	for _, scope := range anyOf {
		if id.HasScope(scope) {
			return nil
		}
	}
	return &ScopeError{Required: anyOf, Presented: id.Scopes}
}

// RequireAllScopes passes when the identity holds every given scope, with the
// same unscoped-token exemption as RequireScope.
func (e *Engine) RequireAllScopes(id identity.Identity, all ...string) error {
	if len(id.Scopes) == 0 && e.allowUnscoped {
		return nil
	}
	for _, scope := range all {
		if !id.HasScope(scope) {
			return &ScopeError{Required: all, Presented: id.Scopes}
		}
	}
	return nil
}

// RequireWorkspace enforces tenant isolation: a workspace-bound identity may
// only touch resources in its own workspace. Identities without a workspace
// binding are exempt and fall through to the role checks.
func (e *Engine) RequireWorkspace(id identity.Identity, workspaceID string) error {
	if !id.Bound() {
		return nil
	}
	if id.WorkspaceID != workspaceID {
		return &WorkspaceMismatchError{Bound: id.WorkspaceID, Target: workspaceID}
	}
	return nil
}

// RequireWorkspaceRole checks isolation first and then that the identity's
// user holds at least the required role in the workspace.
func (e *Engine) RequireWorkspaceRole(ctx context.Context, id identity.Identity, workspaceID string, required WorkspaceRole) error {
	if err := e.RequireWorkspace(id, workspaceID); err != nil {
		return err
	}
	held, err := e.memberships.WorkspaceRole(ctx, workspaceID, id.UserID)
	if err != nil {
		return errors.Wrap(err, "[Engine.RequireWorkspaceRole] memberships.WorkspaceRole")
	}
	if !CanAccessWorkspace(held, required) {
		return &RoleError{Required: required.String(), Held: held.String()}
	}
	return nil
}

// EffectiveProjectRole resolves the role a user holds on a project. A direct
// project membership always wins, even when it grants less than the user's
// workspace role would imply. Without one, workspace admins and owners act as
// project admins and members as viewers.
func (e *Engine) EffectiveProjectRole(ctx context.Context, userID, projectID string) (ProjectRole, error) {
	direct, err := e.memberships.ProjectRole(ctx, projectID, userID)
	if err != nil {
		return ProjectRoleNone, errors.Wrap(err, "[Engine.EffectiveProjectRole] memberships.ProjectRole")
	}
	if direct != ProjectRoleNone {
		return direct, nil
	}

	workspaceID, err := e.projects.ProjectWorkspace(ctx, projectID)
	if err != nil {
		return ProjectRoleNone, errors.Wrap(err, "[Engine.EffectiveProjectRole] projects.ProjectWorkspace")
	}
	workspaceRole, err := e.memberships.WorkspaceRole(ctx, workspaceID, userID)
	if err != nil {
		return ProjectRoleNone, errors.Wrap(err, "[Engine.EffectiveProjectRole] memberships.WorkspaceRole")
	}
	switch {
	case workspaceRole.AtLeast(WorkspaceRoleAdmin):
		return ProjectRoleAdmin, nil
	case workspaceRole.AtLeast(WorkspaceRoleMember):
		return ProjectRoleViewer, nil
	default:
		return ProjectRoleNone, nil
	}
}

// RequireProjectRole resolves the project's workspace, enforces isolation
// against it, and then checks the identity's effective project role.
func (e *Engine) RequireProjectRole(ctx context.Context, id identity.Identity, projectID string, required ProjectRole) error {
	workspaceID, err := e.projects.ProjectWorkspace(ctx, projectID)
	if err != nil {
		return errors.Wrap(err, "[Engine.RequireProjectRole] projects.ProjectWorkspace")
	}
	if err := e.RequireWorkspace(id, workspaceID); err != nil {
		return err
	}
	held, err := e.EffectiveProjectRole(ctx, id.UserID, projectID)
	if err != nil {
		return err
	}
	if !held.AtLeast(required) {
		return &RoleError{Required: required.String(), Held: held.String()}
	}
	return nil
}
