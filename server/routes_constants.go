package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// OAuth2 Routes
	RouteOAuthAuthorize = "/oauth/authorize"
	RouteOAuthToken     = "/oauth/token"
	RouteOAuthRevoke    = "/oauth/revoke"

	// API Routes - caller profile and personal access tokens
	RouteAPIMe        = "/api/me"
	RouteAPITokens    = "/api/tokens"
	RouteAPITokenByID = "/api/tokens/{id}"

	// API Routes - workspaces and projects
	RouteAPIWorkspaceProjects = "/api/workspaces/{id}/projects"
	RouteAPIProject           = "/api/projects/{id}"

	// Operational Routes
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)

// Rate limit endpoint classes. Each class gets its own budget.
const (
	LimitClassAuthorize = "authorize"
	LimitClassToken     = "token"
	LimitClassAPI       = "api"
)
