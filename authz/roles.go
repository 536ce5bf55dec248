// Package authz implements the layered authorization checks applied to every
// protected request: token scopes, membership roles, and workspace isolation.
package authz

// WorkspaceRole is a totally ordered workspace membership level. Comparison
// uses the numeric order, so adding a role means slotting it into the ladder.
type WorkspaceRole int

const (
	WorkspaceRoleNone WorkspaceRole = iota
	WorkspaceRoleGuest
	WorkspaceRoleMember
	WorkspaceRoleAdmin
	WorkspaceRoleOwner
)

var workspaceRoleNames = map[WorkspaceRole]string{
	WorkspaceRoleNone:   "none",
	WorkspaceRoleGuest:  "guest",
	WorkspaceRoleMember: "member",
	WorkspaceRoleAdmin:  "admin",
	WorkspaceRoleOwner:  "owner",
}

func (r WorkspaceRole) String() string {
	if name, ok := workspaceRoleNames[r]; ok {
		return name
	}
	return "unknown"
}

// AtLeast reports whether the role meets the required level.
func (r WorkspaceRole) AtLeast(required WorkspaceRole) bool {
	return r >= required
}

// CanAccessWorkspace reports whether a member holding role may perform an
// action requiring the given level.
func CanAccessWorkspace(role, required WorkspaceRole) bool {
	return role.AtLeast(required)
}

// ProjectRole is a totally ordered project membership level.
type ProjectRole int

const (
	ProjectRoleNone ProjectRole = iota
	ProjectRoleViewer
	ProjectRoleEditor
	ProjectRoleAdmin
)

var projectRoleNames = map[ProjectRole]string{
	ProjectRoleNone:   "none",
	ProjectRoleViewer: "viewer",
	ProjectRoleEditor: "editor",
	ProjectRoleAdmin:  "projectAdmin",
}

func (r ProjectRole) String() string {
	if name, ok := projectRoleNames[r]; ok {
		return name
	}
	return "unknown"
}

// AtLeast reports whether the role meets the required level.
func (r ProjectRole) AtLeast(required ProjectRole) bool {
	return r >= required
}
