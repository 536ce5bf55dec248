package memory

import (
	"context"
	"time"

	"github.com/modelgrid/modelgrid-server/authz"
	"github.com/modelgrid/modelgrid-server/clients"
	"github.com/modelgrid/modelgrid-server/oauth"
	"github.com/modelgrid/modelgrid-server/pat"
	"github.com/modelgrid/modelgrid-server/token/refresh"
	"github.com/modelgrid/modelgrid-server/users"
	"github.com/modelgrid/modelgrid-server/workspaces"
)

// The user and PAT interfaces reuse method names held by other repos, so the
// store exposes them through small views instead of implementing them
// directly.

type usersRepo struct{ store *Store }

func (r usersRepo) Upsert(ctx context.Context, user *users.User) error {
	return r.store.UpsertUser(ctx, user)
}

func (r usersRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.store.GetUserByID(ctx, id)
}

func (r usersRepo) GetBySubject(ctx context.Context, subject string) (*users.User, error) {
	return r.store.GetUserBySubject(ctx, subject)
}

type patStore struct{ store *Store }

func (p patStore) CreateToken(ctx context.Context, token *pat.Token) error {
	return p.store.CreatePAT(ctx, token)
}

func (p patStore) GetTokenByHash(ctx context.Context, tokenHash string) (*pat.Token, error) {
	return p.store.GetPATByHash(ctx, tokenHash)
}

func (p patStore) GetToken(ctx context.Context, id string) (*pat.Token, error) {
	return p.store.GetPAT(ctx, id)
}

func (p patStore) ListTokensByUser(ctx context.Context, userID string) ([]*pat.Token, error) {
	return p.store.ListPATsByUser(ctx, userID)
}

func (p patStore) RevokeToken(ctx context.Context, id string, at time.Time) error {
	return p.store.RevokePAT(ctx, id, at)
}

func (p patStore) UpdateUsage(ctx context.Context, id string, usedAt time.Time, ip string, auditAt *time.Time) error {
	return p.store.UpdatePATUsage(ctx, id, usedAt, ip, auditAt)
}

func (s *Store) Users() users.Repo                  { return usersRepo{s} }
func (s *Store) PATs() pat.Store                    { return patStore{s} }
func (s *Store) Clients() clients.Repo              { return s }
func (s *Store) Workspaces() workspaces.Repo        { return s }
func (s *Store) Codes() oauth.CodeStore             { return s }
func (s *Store) RefreshTokens() refresh.Store       { return s }
func (s *Store) Memberships() authz.MembershipStore { return s }
func (s *Store) Projects() authz.ProjectDirectory   { return s }
