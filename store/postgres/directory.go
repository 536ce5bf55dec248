package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/authz"
	"github.com/modelgrid/modelgrid-server/pat"
	"github.com/modelgrid/modelgrid-server/users"
	"github.com/modelgrid/modelgrid-server/workspaces"
)

type usersRepo struct{ store *Store }

func (s *Store) Users() users.Repo { return usersRepo{s} }

func (r usersRepo) Upsert(ctx context.Context, user *users.User) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO users (id, subject, email, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject, email = EXCLUDED.email, display_name = EXCLUDED.display_name`,
		user.ID, user.Subject, user.Email, user.DisplayName)
	return errors.Wrap(err, "[usersRepo.Upsert] exec")
}

func (r usersRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.getUser(ctx, `SELECT id, subject, email, display_name FROM users WHERE id = $1`, id)
}

func (r usersRepo) GetBySubject(ctx context.Context, subject string) (*users.User, error) {
	return r.getUser(ctx, `SELECT id, subject, email, display_name FROM users WHERE subject = $1`, subject)
}

func (r usersRepo) getUser(ctx context.Context, query, arg string) (*users.User, error) {
	var user users.User
	err := r.store.pool.QueryRow(ctx, query, arg).
		Scan(&user.ID, &user.Subject, &user.Email, &user.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[usersRepo.getUser] scan")
	}
	return &user, nil
}

// Subject implements pat.SubjectDirectory.
func (s *Store) Subject(ctx context.Context, userID string) (string, error) {
	user, err := s.Users().GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Subject, nil
}

type workspacesRepo struct{ store *Store }

func (s *Store) Workspaces() workspaces.Repo { return workspacesRepo{s} }

func (r workspacesRepo) UpsertWorkspace(ctx context.Context, workspace *workspaces.Workspace) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO workspaces (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		workspace.ID, workspace.Name)
	return errors.Wrap(err, "[workspacesRepo.UpsertWorkspace] exec")
}

func (r workspacesRepo) GetWorkspace(ctx context.Context, id string) (*workspaces.Workspace, error) {
	var workspace workspaces.Workspace
	err := r.store.pool.QueryRow(ctx, `SELECT id, name FROM workspaces WHERE id = $1`, id).
		Scan(&workspace.ID, &workspace.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workspaces.ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[workspacesRepo.GetWorkspace] scan")
	}
	return &workspace, nil
}

func (r workspacesRepo) UpsertProject(ctx context.Context, project *workspaces.Project) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO projects (id, workspace_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET workspace_id = EXCLUDED.workspace_id, name = EXCLUDED.name`,
		project.ID, project.WorkspaceID, project.Name)
	return errors.Wrap(err, "[workspacesRepo.UpsertProject] exec")
}

func (r workspacesRepo) GetProject(ctx context.Context, id string) (*workspaces.Project, error) {
	var project workspaces.Project
	err := r.store.pool.QueryRow(ctx, `SELECT id, workspace_id, name FROM projects WHERE id = $1`, id).
		Scan(&project.ID, &project.WorkspaceID, &project.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workspaces.ErrProjectNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[workspacesRepo.GetProject] scan")
	}
	return &project, nil
}

func (r workspacesRepo) DeleteProject(ctx context.Context, id string) error {
	tag, err := r.store.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "[workspacesRepo.DeleteProject] exec")
	}
	if tag.RowsAffected() == 0 {
		return workspaces.ErrProjectNotFound
	}
	return nil
}

func (r workspacesRepo) ListProjects(ctx context.Context, workspaceID string) ([]*workspaces.Project, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT id, workspace_id, name FROM projects WHERE workspace_id = $1 ORDER BY name`, workspaceID)
	if err != nil {
		return nil, errors.Wrap(err, "[workspacesRepo.ListProjects] query")
	}
	defer rows.Close()

	var result []*workspaces.Project
	for rows.Next() {
		var project workspaces.Project
		if err := rows.Scan(&project.ID, &project.WorkspaceID, &project.Name); err != nil {
			return nil, errors.Wrap(err, "[workspacesRepo.ListProjects] scan")
		}
		result = append(result, &project)
	}
	return result, errors.Wrap(rows.Err(), "[workspacesRepo.ListProjects] rows")
}

// ProjectWorkspace implements authz.ProjectDirectory.
func (s *Store) ProjectWorkspace(ctx context.Context, projectID string) (string, error) {
	var workspaceID string
	err := s.pool.QueryRow(ctx, `SELECT workspace_id FROM projects WHERE id = $1`, projectID).
		Scan(&workspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", workspaces.ErrProjectNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "[Store.ProjectWorkspace] scan")
	}
	return workspaceID, nil
}

// Memberships returns the authz view over the membership tables.
func (s *Store) Memberships() authz.MembershipStore { return membershipStore{s} }

type membershipStore struct{ store *Store }

func (m membershipStore) WorkspaceRole(ctx context.Context, workspaceID, userID string) (authz.WorkspaceRole, error) {
	var role int
	err := m.store.pool.QueryRow(ctx,
		`SELECT role FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.WorkspaceRoleNone, nil
	}
	if err != nil {
		return authz.WorkspaceRoleNone, errors.Wrap(err, "[membershipStore.WorkspaceRole] scan")
	}
	return authz.WorkspaceRole(role), nil
}

func (m membershipStore) ProjectRole(ctx context.Context, projectID, userID string) (authz.ProjectRole, error) {
	var role int
	err := m.store.pool.QueryRow(ctx,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.ProjectRoleNone, nil
	}
	if err != nil {
		return authz.ProjectRoleNone, errors.Wrap(err, "[membershipStore.ProjectRole] scan")
	}
	return authz.ProjectRole(role), nil
}

func (s *Store) SetWorkspaceRole(ctx context.Context, workspaceID, userID string, role authz.WorkspaceRole) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		workspaceID, userID, int(role))
	return errors.Wrap(err, "[Store.SetWorkspaceRole] exec")
}

func (s *Store) SetProjectRole(ctx context.Context, projectID, userID string, role authz.ProjectRole) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		projectID, userID, int(role))
	return errors.Wrap(err, "[Store.SetProjectRole] exec")
}

type patStore struct{ store *Store }

func (s *Store) PATs() pat.Store { return patStore{s} }

const patColumns = `id, token_hash, prefix, name, user_id, workspace_id, scope,
	created_at, expires_at, revoked, revoked_at, last_used_at, last_used_ip, last_audit_at`

func scanPAT(row pgx.Row) (*pat.Token, error) {
	var token pat.Token
	err := row.Scan(&token.ID, &token.TokenHash, &token.Prefix, &token.Name,
		&token.UserID, &token.WorkspaceID, &token.Scope,
		&token.CreatedAt, &token.ExpiresAt, &token.Revoked, &token.RevokedAt,
		&token.LastUsedAt, &token.LastUsedIP, &token.LastAuditAt)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (p patStore) CreateToken(ctx context.Context, token *pat.Token) error {
	_, err := p.store.pool.Exec(ctx, `
		INSERT INTO personal_access_tokens (id, token_hash, prefix, name, user_id,
			workspace_id, scope, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		token.ID, token.TokenHash, token.Prefix, token.Name, token.UserID,
		token.WorkspaceID, token.Scope, token.CreatedAt, token.ExpiresAt)
	return errors.Wrap(err, "[patStore.CreateToken] exec")
}

func (p patStore) GetTokenByHash(ctx context.Context, tokenHash string) (*pat.Token, error) {
	token, err := scanPAT(p.store.pool.QueryRow(ctx,
		`SELECT `+patColumns+` FROM personal_access_tokens WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pat.ErrTokenNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[patStore.GetTokenByHash] scan")
	}
	return token, nil
}

func (p patStore) GetToken(ctx context.Context, id string) (*pat.Token, error) {
	token, err := scanPAT(p.store.pool.QueryRow(ctx,
		`SELECT `+patColumns+` FROM personal_access_tokens WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pat.ErrTokenNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[patStore.GetToken] scan")
	}
	return token, nil
}

func (p patStore) ListTokensByUser(ctx context.Context, userID string) ([]*pat.Token, error) {
	rows, err := p.store.pool.Query(ctx,
		`SELECT `+patColumns+` FROM personal_access_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[patStore.ListTokensByUser] query")
	}
	defer rows.Close()

	var result []*pat.Token
	for rows.Next() {
		token, err := scanPAT(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[patStore.ListTokensByUser] scan")
		}
		result = append(result, token)
	}
	return result, errors.Wrap(rows.Err(), "[patStore.ListTokensByUser] rows")
}

func (p patStore) RevokeToken(ctx context.Context, id string, at time.Time) error {
	tag, err := p.store.pool.Exec(ctx, `
		UPDATE personal_access_tokens SET revoked = TRUE, revoked_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return errors.Wrap(err, "[patStore.RevokeToken] exec")
	}
	if tag.RowsAffected() == 0 {
		return pat.ErrTokenNotFound
	}
	return nil
}

func (p patStore) UpdateUsage(ctx context.Context, id string, usedAt time.Time, ip string, auditAt *time.Time) error {
	_, err := p.store.pool.Exec(ctx, `
		UPDATE personal_access_tokens
		SET last_used_at = $2, last_used_ip = $3, last_audit_at = COALESCE($4, last_audit_at)
		WHERE id = $1`, id, usedAt, ip, auditAt)
	return errors.Wrap(err, "[patStore.UpdateUsage] exec")
}
