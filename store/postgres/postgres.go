// Package postgres is the production store, backed by pgx. Single-use code
// redemption and refresh-token rotation rely on conditional UPDATEs so the
// database arbitrates races between instances.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Store wraps a pgx pool. Obtain the typed repos through the view methods.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "[postgres.New] pgxpool.New")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "[postgres.New] ping")
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id),
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS workspace_members (
		workspace_id TEXT NOT NULL REFERENCES workspaces(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		role INT NOT NULL,
		PRIMARY KEY (workspace_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS project_members (
		project_id TEXT NOT NULL REFERENCES projects(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		role INT NOT NULL,
		PRIMARY KEY (project_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_clients (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		secret_hash TEXT NOT NULL DEFAULT '',
		redirect_uris TEXT[] NOT NULL DEFAULT '{}',
		scopes TEXT[] NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		workspace_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS auth_codes (
		id TEXT PRIMARY KEY,
		code_hash TEXT NOT NULL UNIQUE,
		client_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		scopes TEXT[] NOT NULL DEFAULT '{}',
		redirect_uri TEXT NOT NULL,
		code_challenge TEXT NOT NULL DEFAULT '',
		code_challenge_method TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		used_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL UNIQUE,
		family_id TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		replaced_by_id TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		scopes TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT FALSE,
		revoked_reason TEXT NOT NULL DEFAULT '',
		revoked_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS refresh_tokens_family_idx ON refresh_tokens(family_id)`,
	`CREATE TABLE IF NOT EXISTS personal_access_tokens (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL UNIQUE,
		prefix TEXT NOT NULL,
		name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ,
		revoked BOOLEAN NOT NULL DEFAULT FALSE,
		revoked_at TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ,
		last_used_ip TEXT NOT NULL DEFAULT '',
		last_audit_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS personal_access_tokens_user_idx ON personal_access_tokens(user_id)`,
}

// EnsureSchema creates the tables if they do not exist. Safe to run on every
// startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "[Store.EnsureSchema] exec")
		}
	}
	return nil
}
