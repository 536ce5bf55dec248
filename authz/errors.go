package authz

import (
	"fmt"
	"strings"
)

// ScopeError reports a token missing the scopes a route demands.
type ScopeError struct {
	Required  []string
	Presented []string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("insufficient scope: requires %q, token grants %q",
		strings.Join(e.Required, " "), strings.Join(e.Presented, " "))
}

// WorkspaceMismatchError reports a workspace-bound token reaching across
// tenant boundaries. It names both sides so audit logs can record the attempt.
type WorkspaceMismatchError struct {
	Bound  string
	Target string
}

func (e *WorkspaceMismatchError) Error() string {
	return fmt.Sprintf("workspace isolation: token bound to workspace %q cannot access workspace %q", e.Bound, e.Target)
}

// RoleError reports a member whose role is below the level an action requires.
type RoleError struct {
	Required string
	Held     string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("insufficient role: requires %s, member holds %s", e.Required, e.Held)
}
