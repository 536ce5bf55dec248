// Package server wires the OAuth endpoints, the protected API, and the
// operational routes onto a stdlib mux.
package server

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/modelgrid/modelgrid-server/authz"
	"github.com/modelgrid/modelgrid-server/identity"
	"github.com/modelgrid/modelgrid-server/internal/config"
	"github.com/modelgrid/modelgrid-server/oauth"
	"github.com/modelgrid/modelgrid-server/pat"
	"github.com/modelgrid/modelgrid-server/security"
	"github.com/modelgrid/modelgrid-server/users"
	"github.com/modelgrid/modelgrid-server/workspaces"
)

// Deps carries everything the server needs. All fields except Limiters are
// required.
type Deps struct {
	OAuth      *oauth.Service
	Resolver   *identity.Resolver
	Engine     *authz.Engine
	PATs       *pat.Manager
	Users      users.Repo
	Workspaces workspaces.Repo
	Auditor    *security.Auditor
	Limiters   map[string]security.Limiter
}

type Server struct {
	env     string
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	logger  zerolog.Logger
	metrics *Metrics

	oauth      *oauth.Service
	resolver   *identity.Resolver
	engine     *authz.Engine
	pats       *pat.Manager
	users      users.Repo
	workspaces workspaces.Repo
	auditor    *security.Auditor
	limiters   map[string]security.Limiter
}

func New(config config.Config, logger zerolog.Logger, deps Deps) (*Server, error) {
	if deps.OAuth == nil || deps.Resolver == nil || deps.Engine == nil {
		return nil, errors.New("[Server New] oauth service, resolver, and authz engine are required")
	}
	if deps.PATs == nil || deps.Users == nil || deps.Workspaces == nil {
		return nil, errors.New("[Server New] pat manager, user repo, and workspace repo are required")
	}
	s := &Server{
		env:        config.GetEnv(),
		mux:        http.NewServeMux(),
		config:     config,
		logger:     logger,
		metrics:    NewMetrics(),
		oauth:      deps.OAuth,
		resolver:   deps.Resolver,
		engine:     deps.Engine,
		pats:       deps.PATs,
		users:      deps.Users,
		workspaces: deps.Workspaces,
		auditor:    deps.Auditor,
		limiters:   deps.Limiters,
	}
	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logger.Debug().Str("method", parts[0]).Str("path", parts[1]).Msg("route registered")
		} else {
			s.logger.Debug().Str("path", parts[0]).Msg("route registered")
		}
	}
}
