package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/modelgrid/modelgrid-server/clients"
	"github.com/modelgrid/modelgrid-server/oauth"
	"github.com/modelgrid/modelgrid-server/token/refresh"
)

type clientsRepo struct{ store *Store }

func (s *Store) Clients() clients.Repo { return clientsRepo{s} }

func (r clientsRepo) Upsert(ctx context.Context, client *clients.Client) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO oauth_clients (id, type, name, secret_hash, redirect_uris, scopes, enabled, workspace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, name = EXCLUDED.name, secret_hash = EXCLUDED.secret_hash,
			redirect_uris = EXCLUDED.redirect_uris, scopes = EXCLUDED.scopes,
			enabled = EXCLUDED.enabled, workspace_id = EXCLUDED.workspace_id`,
		client.ID, string(client.Type), client.Name, client.SecretHash,
		client.RedirectURIs, client.Scopes, client.Enabled, client.WorkspaceID)
	return errors.Wrap(err, "[clientsRepo.Upsert] exec")
}

func (r clientsRepo) Get(ctx context.Context, clientID string) (*clients.Client, error) {
	var client clients.Client
	var clientType string
	err := r.store.pool.QueryRow(ctx, `
		SELECT id, type, name, secret_hash, redirect_uris, scopes, enabled, workspace_id
		FROM oauth_clients WHERE id = $1`, clientID).
		Scan(&client.ID, &clientType, &client.Name, &client.SecretHash,
			&client.RedirectURIs, &client.Scopes, &client.Enabled, &client.WorkspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, clients.ErrClientNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[clientsRepo.Get] scan")
	}
	client.Type = clients.ClientType(clientType)
	return &client, nil
}

func (r clientsRepo) Delete(ctx context.Context, clientID string) error {
	tag, err := r.store.pool.Exec(ctx, `DELETE FROM oauth_clients WHERE id = $1`, clientID)
	if err != nil {
		return errors.Wrap(err, "[clientsRepo.Delete] exec")
	}
	if tag.RowsAffected() == 0 {
		return clients.ErrClientNotFound
	}
	return nil
}

func (r clientsRepo) List(ctx context.Context, workspaceID string) ([]*clients.Client, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, type, name, secret_hash, redirect_uris, scopes, enabled, workspace_id
		FROM oauth_clients WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return nil, errors.Wrap(err, "[clientsRepo.List] query")
	}
	defer rows.Close()

	var result []*clients.Client
	for rows.Next() {
		var client clients.Client
		var clientType string
		if err := rows.Scan(&client.ID, &clientType, &client.Name, &client.SecretHash,
			&client.RedirectURIs, &client.Scopes, &client.Enabled, &client.WorkspaceID); err != nil {
			return nil, errors.Wrap(err, "[clientsRepo.List] scan")
		}
		client.Type = clients.ClientType(clientType)
		result = append(result, &client)
	}
	return result, errors.Wrap(rows.Err(), "[clientsRepo.List] rows")
}

type codeStore struct{ store *Store }

func (s *Store) Codes() oauth.CodeStore { return codeStore{s} }

func (c codeStore) SaveCode(ctx context.Context, code *oauth.AuthorizationCode) error {
	_, err := c.store.pool.Exec(ctx, `
		INSERT INTO auth_codes (id, code_hash, client_id, user_id, workspace_id, scopes,
			redirect_uri, code_challenge, code_challenge_method, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		code.ID, code.CodeHash, code.ClientID, code.UserID, code.WorkspaceID, code.Scopes,
		code.RedirectURI, code.CodeChallenge, code.CodeChallengeMethod, code.CreatedAt, code.ExpiresAt)
	return errors.Wrap(err, "[codeStore.SaveCode] exec")
}

// ConsumeCode flips the used flag with a conditional UPDATE so only one
// redemption of a code can ever succeed, no matter how many instances race.
func (c codeStore) ConsumeCode(ctx context.Context, codeHash string, at time.Time) (*oauth.AuthorizationCode, error) {
	var code oauth.AuthorizationCode
	err := c.store.pool.QueryRow(ctx, `
		UPDATE auth_codes SET used = TRUE, used_at = $2
		WHERE code_hash = $1 AND used = FALSE
		RETURNING id, code_hash, client_id, user_id, workspace_id, scopes,
			redirect_uri, code_challenge, code_challenge_method, created_at, expires_at, used, used_at`,
		codeHash, at).
		Scan(&code.ID, &code.CodeHash, &code.ClientID, &code.UserID, &code.WorkspaceID, &code.Scopes,
			&code.RedirectURI, &code.CodeChallenge, &code.CodeChallengeMethod,
			&code.CreatedAt, &code.ExpiresAt, &code.Used, &code.UsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if probeErr := c.store.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM auth_codes WHERE code_hash = $1)`, codeHash).
			Scan(&exists); probeErr != nil {
			return nil, errors.Wrap(probeErr, "[codeStore.ConsumeCode] probe")
		}
		if exists {
			return nil, oauth.ErrCodeUsed
		}
		return nil, oauth.ErrCodeNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[codeStore.ConsumeCode] scan")
	}
	return &code, nil
}

type refreshStore struct{ store *Store }

func (s *Store) RefreshTokens() refresh.Store { return refreshStore{s} }

const refreshColumns = `id, token_hash, family_id, parent_id, replaced_by_id, client_id, user_id,
	workspace_id, scopes, created_at, expires_at, revoked, revoked_reason, revoked_at`

func scanRefreshToken(row pgx.Row) (*refresh.Token, error) {
	var token refresh.Token
	err := row.Scan(&token.ID, &token.TokenHash, &token.FamilyID, &token.ParentID, &token.ReplacedByID,
		&token.ClientID, &token.UserID, &token.WorkspaceID, &token.Scopes,
		&token.CreatedAt, &token.ExpiresAt, &token.Revoked, &token.RevokedReason, &token.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r refreshStore) CreateToken(ctx context.Context, token *refresh.Token) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, token_hash, family_id, parent_id, replaced_by_id,
			client_id, user_id, workspace_id, scopes, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		token.ID, token.TokenHash, token.FamilyID, token.ParentID, token.ReplacedByID,
		token.ClientID, token.UserID, token.WorkspaceID, token.Scopes, token.CreatedAt, token.ExpiresAt)
	return errors.Wrap(err, "[refreshStore.CreateToken] exec")
}

func (r refreshStore) GetTokenByHash(ctx context.Context, tokenHash string) (*refresh.Token, error) {
	token, err := scanRefreshToken(r.store.pool.QueryRow(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, refresh.ErrTokenNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[refreshStore.GetTokenByHash] scan")
	}
	return token, nil
}

// RotateToken revokes the parent and inserts the child in one transaction.
// The conditional UPDATE is the serialization point: a concurrent rotation of
// the same token leaves one of the two with zero rows and ErrTokenRevoked.
func (r refreshStore) RotateToken(ctx context.Context, oldID string, child *refresh.Token, at time.Time) error {
	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "[refreshStore.RotateToken] begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_reason = $2, revoked_at = $3, replaced_by_id = $4
		WHERE id = $1 AND revoked = FALSE`,
		oldID, refresh.ReasonRotation, at, child.ID)
	if err != nil {
		return errors.Wrap(err, "[refreshStore.RotateToken] revoke parent")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if probeErr := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, oldID).
			Scan(&exists); probeErr != nil {
			return errors.Wrap(probeErr, "[refreshStore.RotateToken] probe")
		}
		if !exists {
			return refresh.ErrTokenNotFound
		}
		return refresh.ErrTokenRevoked
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, token_hash, family_id, parent_id, replaced_by_id,
			client_id, user_id, workspace_id, scopes, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		child.ID, child.TokenHash, child.FamilyID, child.ParentID, child.ReplacedByID,
		child.ClientID, child.UserID, child.WorkspaceID, child.Scopes, child.CreatedAt, child.ExpiresAt)
	if err != nil {
		return errors.Wrap(err, "[refreshStore.RotateToken] insert child")
	}
	return errors.Wrap(tx.Commit(ctx), "[refreshStore.RotateToken] commit")
}

func (r refreshStore) RevokeToken(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.store.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
		WHERE id = $1 AND revoked = FALSE`, id, reason, at)
	return errors.Wrap(err, "[refreshStore.RevokeToken] exec")
}

func (r refreshStore) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int, error) {
	tag, err := r.store.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
		WHERE family_id = $1 AND revoked = FALSE`, familyID, reason, at)
	if err != nil {
		return 0, errors.Wrap(err, "[refreshStore.RevokeFamily] exec")
	}
	return int(tag.RowsAffected()), nil
}

func (r refreshStore) ListFamily(ctx context.Context, familyID string) ([]*refresh.Token, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE family_id = $1 ORDER BY created_at`, familyID)
	if err != nil {
		return nil, errors.Wrap(err, "[refreshStore.ListFamily] query")
	}
	defer rows.Close()

	var result []*refresh.Token
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[refreshStore.ListFamily] scan")
		}
		result = append(result, token)
	}
	return result, errors.Wrap(rows.Err(), "[refreshStore.ListFamily] rows")
}
