package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/modelgrid/modelgrid-server/authz"
	"github.com/modelgrid/modelgrid-server/clients"
	"github.com/modelgrid/modelgrid-server/credentials"
	"github.com/modelgrid/modelgrid-server/identity"
	"github.com/modelgrid/modelgrid-server/internal/config"
	"github.com/modelgrid/modelgrid-server/oauth"
	"github.com/modelgrid/modelgrid-server/pat"
	"github.com/modelgrid/modelgrid-server/security"
	"github.com/modelgrid/modelgrid-server/server"
	"github.com/modelgrid/modelgrid-server/store/memory"
	"github.com/modelgrid/modelgrid-server/store/postgres"
	"github.com/modelgrid/modelgrid-server/token"
	"github.com/modelgrid/modelgrid-server/token/refresh"
	"github.com/modelgrid/modelgrid-server/users"
	"github.com/modelgrid/modelgrid-server/workspaces"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running server: %s\n", err)
		os.Exit(1)
	}
}

// stores is the set of typed views the wiring needs, regardless of backend.
type stores struct {
	clients     clients.Repo
	users       users.Repo
	workspaces  workspaces.Repo
	codes       oauth.CodeStore
	refresh     refresh.Store
	pats        pat.Store
	memberships authz.MembershipStore
	projects    authz.ProjectDirectory
	subjects    pat.SubjectDirectory
	close       func()
}

func run() error {
	_ = godotenv.Load()
	cfg := config.New()
	logger := newLogger(cfg)
	displayAppname(cfg.GetAppName())

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	signer, generated, err := token.NewHMACSignerFromKey(cfg.GetSigningKey())
	if err != nil {
		return errors.Wrap(err, "token.NewHMACSignerFromKey")
	}
	if generated {
		logger.Warn().Msg("TOKEN_SIGNING_KEY not set; using a random key, all tokens die with this process")
	}
	issuer, err := token.NewIssuer(signer, cfg.GetIssuer(), cfg.GetAudience())
	if err != nil {
		return errors.Wrap(err, "token.NewIssuer")
	}

	auditor := security.NewAuditor(logger, true)
	rotator, err := refresh.NewRotator(st.refresh, auditor, cfg.GetRefreshTokenLength(), cfg.GetRefreshTokenExpiry())
	if err != nil {
		return errors.Wrap(err, "refresh.NewRotator")
	}
	patManager, err := pat.NewManager(st.pats, auditor, cfg.GetPATLength())
	if err != nil {
		return errors.Wrap(err, "pat.NewManager")
	}
	patAuth, err := pat.NewAuthenticator(st.pats, st.subjects, auditor, cfg.GetPATAuditInterval())
	if err != nil {
		return errors.Wrap(err, "pat.NewAuthenticator")
	}
	engine, err := authz.NewEngine(st.memberships, st.projects,
		authz.WithAllowUnscopedTokens(cfg.GetAllowUnscopedTokens()))
	if err != nil {
		return errors.Wrap(err, "authz.NewEngine")
	}
	oauthService, err := oauth.NewService(oauth.Repos{
		Clients: st.clients,
		Codes:   st.codes,
		Users:   st.users,
	}, issuer, rotator, auditor, cfg)
	if err != nil {
		return errors.Wrap(err, "oauth.NewService")
	}

	srv, err := server.New(cfg, logger, server.Deps{
		OAuth:      oauthService,
		Resolver:   identity.NewResolver(issuer, patAuth),
		Engine:     engine,
		PATs:       patManager,
		Users:      st.users,
		Workspaces: st.workspaces,
		Auditor:    auditor,
		Limiters:   buildLimiters(cfg, logger),
	})
	if err != nil {
		return errors.Wrap(err, "server.New")
	}

	httpServer := &http.Server{Addr: cfg.GetPort(), Handler: srv}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server.ListenAndServe")
		}
	}()
	waitForStopSignal()
	return shutdown(httpServer)
}

func newLogger(cfg config.Config) zerolog.Logger {
	if cfg.GetEnv() == "DEV" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openStores(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*stores, error) {
	if databaseURL := cfg.GetDatabaseURL(); databaseURL != "" {
		pg, err := postgres.New(ctx, databaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "postgres.New")
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, errors.Wrap(err, "postgres EnsureSchema")
		}
		logger.Info().Msg("using postgres store")
		return &stores{
			clients:     pg.Clients(),
			users:       pg.Users(),
			workspaces:  pg.Workspaces(),
			codes:       pg.Codes(),
			refresh:     pg.RefreshTokens(),
			pats:        pg.PATs(),
			memberships: pg.Memberships(),
			projects:    pg,
			subjects:    pg,
			close:       pg.Close,
		}, nil
	}

	mem := memory.New()
	logger.Warn().Msg("DATABASE_URL not set; using in-memory store")
	if cfg.GetEnv() == "DEV" {
		if err := seedDevData(ctx, mem, logger); err != nil {
			return nil, err
		}
	}
	return &stores{
		clients:     mem.Clients(),
		users:       mem.Users(),
		workspaces:  mem.Workspaces(),
		codes:       mem.Codes(),
		refresh:     mem.RefreshTokens(),
		pats:        mem.PATs(),
		memberships: mem.Memberships(),
		projects:    mem.Projects(),
		subjects:    mem,
		close:       func() {},
	}, nil
}

// seedDevData bootstraps a workspace, a user, and a confidential client so the
// flow can be exercised immediately after startup. DEV only.
func seedDevData(ctx context.Context, mem *memory.Store, logger zerolog.Logger) error {
	secret, err := credentials.GenerateRandomSecret(24)
	if err != nil {
		return errors.Wrap(err, "seedDevData GenerateRandomSecret")
	}
	secretHash, err := credentials.HashWithSalt(secret)
	if err != nil {
		return errors.Wrap(err, "seedDevData HashWithSalt")
	}

	if err := mem.UpsertWorkspace(ctx, &workspaces.Workspace{ID: "ws-dev", Name: "Dev Workspace"}); err != nil {
		return err
	}
	if err := mem.UpsertProject(ctx, &workspaces.Project{ID: "prj-dev", WorkspaceID: "ws-dev", Name: "Dev Project"}); err != nil {
		return err
	}
	if err := mem.Users().Upsert(ctx, &users.User{
		ID: "usr-dev", Subject: "dev@modelgrid.local", Email: "dev@modelgrid.local", DisplayName: "Dev User",
	}); err != nil {
		return err
	}
	if err := mem.SetWorkspaceRole(ctx, "ws-dev", "usr-dev", authz.WorkspaceRoleOwner); err != nil {
		return err
	}
	if err := mem.Clients().Upsert(ctx, &clients.Client{
		ID:           "dev-client",
		Type:         clients.ClientTypeConfidential,
		Name:         "Dev Client",
		SecretHash:   secretHash,
		RedirectURIs: []string{"http://localhost:3000/callback"},
		Scopes: []string{
			authz.ScopeProfileRead, authz.ScopeProjectsRead,
			authz.ScopeProjectsWrite, authz.ScopeTokensManage,
		},
		Enabled:     true,
		WorkspaceID: "ws-dev",
	}); err != nil {
		return err
	}
	logger.Info().
		Str("client_id", "dev-client").
		Str("client_secret", secret).
		Msg("seeded dev client")
	return nil
}

func buildLimiters(cfg config.Config, logger zerolog.Logger) map[string]security.Limiter {
	if !cfg.GetEnableRateLimiting() {
		return nil
	}
	budgets := map[string]security.Budget{
		server.LimitClassAuthorize: {Limit: cfg.GetAuthorizeRateLimit(), Window: cfg.GetRateLimitWindow()},
		server.LimitClassToken:     {Limit: cfg.GetTokenRateLimit(), Window: cfg.GetRateLimitWindow()},
		server.LimitClassAPI:       {Limit: cfg.GetAPIRateLimit(), Window: cfg.GetRateLimitWindow()},
	}
	limiters := make(map[string]security.Limiter, len(budgets))
	if redisURL := cfg.GetRedisURL(); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("invalid REDIS_URL; falling back to in-process rate limiting")
		} else {
			client := redis.NewClient(opts)
			for class, budget := range budgets {
				limiters[class] = security.NewRedisLimiter(client, budget, "ratelimit:"+class)
			}
			return limiters
		}
	}
	for class, budget := range budgets {
		limiters[class] = security.NewFixedWindowLimiter(budget)
	}
	return limiters
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
