package authz

// Scopes the platform grants. Scope names are opaque strings to the decision
// engine; this set is what the bundled API routes demand.
const (
	ScopeProfileRead   = "profile:read"
	ScopeProjectsRead  = "projects:read"
	ScopeProjectsWrite = "projects:write"
	ScopeTokensManage  = "tokens:manage"
)
