package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// OAuth2 endpoints. Authorize requires an authenticated caller: the
	// platform session token presented as a bearer credential.
	s.RegisterRouteHandler("GET "+RouteOAuthAuthorize,
		ChainMiddleware(s.Authorize(), s.OAuthMiddleware(LimitClassAuthorize, s.RequireAuth)...))
	s.RegisterRouteHandler("POST "+RouteOAuthToken,
		ChainMiddleware(s.Token(), s.OAuthMiddleware(LimitClassToken)...))
	s.RegisterRouteHandler("POST "+RouteOAuthRevoke,
		ChainMiddleware(s.Revoke(), s.OAuthMiddleware(LimitClassToken)...))

	// Protected API
	s.RegisterRouteHandler("GET "+RouteAPIMe,
		ChainMiddleware(s.Me(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPITokens,
		ChainMiddleware(s.CreatePAT(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPITokens,
		ChainMiddleware(s.ListPATs(), s.APIMiddleware()...))
	s.RegisterRouteHandler("DELETE "+RouteAPITokenByID,
		ChainMiddleware(s.RevokePAT(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPIWorkspaceProjects,
		ChainMiddleware(s.ListWorkspaceProjects(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPIProject,
		ChainMiddleware(s.GetProject(), s.APIMiddleware()...))
	s.RegisterRouteHandler("DELETE "+RouteAPIProject,
		ChainMiddleware(s.DeleteProject(), s.APIMiddleware()...))

	// Operational endpoints, deliberately unauthenticated.
	s.RegisterRouteHandler("GET "+RouteHealthz, s.Healthz())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
}

func (s *Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
