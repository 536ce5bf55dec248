// Package memory is the in-process store used in development and tests. It
// implements every persistence interface the server needs behind one mutex,
// which makes the single-use and rotation guarantees trivially atomic.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/modelgrid/modelgrid-server/authz"
	"github.com/modelgrid/modelgrid-server/clients"
	"github.com/modelgrid/modelgrid-server/internal/utils"
	"github.com/modelgrid/modelgrid-server/oauth"
	"github.com/modelgrid/modelgrid-server/pat"
	"github.com/modelgrid/modelgrid-server/token/refresh"
	"github.com/modelgrid/modelgrid-server/users"
	"github.com/modelgrid/modelgrid-server/workspaces"
)

type membershipKey struct {
	scopeID string // workspace or project id
	userID  string
}

// Store holds everything in maps. Values are copied on the way in and out so
// callers cannot mutate stored state.
type Store struct {
	mu sync.RWMutex

	clients        map[string]clients.Client
	users          map[string]users.User
	usersBySubject map[string]string
	workspaces     map[string]workspaces.Workspace
	projects       map[string]workspaces.Project
	codes          map[string]oauth.AuthorizationCode // keyed by code hash
	refreshTokens  map[string]refresh.Token           // keyed by id
	refreshByHash  map[string]string
	pats           map[string]pat.Token // keyed by id
	patsByHash     map[string]string
	workspaceRoles map[membershipKey]authz.WorkspaceRole
	projectRoles   map[membershipKey]authz.ProjectRole
}

func New() *Store {
	return &Store{
		clients:        make(map[string]clients.Client),
		users:          make(map[string]users.User),
		usersBySubject: make(map[string]string),
		workspaces:     make(map[string]workspaces.Workspace),
		projects:       make(map[string]workspaces.Project),
		codes:          make(map[string]oauth.AuthorizationCode),
		refreshTokens:  make(map[string]refresh.Token),
		refreshByHash:  make(map[string]string),
		pats:           make(map[string]pat.Token),
		patsByHash:     make(map[string]string),
		workspaceRoles: make(map[membershipKey]authz.WorkspaceRole),
		projectRoles:   make(map[membershipKey]authz.ProjectRole),
	}
}

// --- clients.Repo ---

func (s *Store) Upsert(_ context.Context, client *clients.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = *client
	return nil
}

func (s *Store) Get(_ context.Context, clientID string) (*clients.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, clients.ErrClientNotFound
	}
	return &client, nil
}

func (s *Store) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return clients.ErrClientNotFound
	}
	delete(s.clients, clientID)
	return nil
}

func (s *Store) List(_ context.Context, workspaceID string) ([]*clients.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*clients.Client
	for _, client := range s.clients {
		if client.WorkspaceID == workspaceID {
			c := client
			result = append(result, &c)
		}
	}
	return result, nil
}

// --- users.Repo ---

func (s *Store) UpsertUser(_ context.Context, user *users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	s.usersBySubject[user.Subject] = user.ID
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return &user, nil
}

func (s *Store) GetUserBySubject(_ context.Context, subject string) (*users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersBySubject[subject]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	user := s.users[id]
	return &user, nil
}

// Subject implements pat.SubjectDirectory.
func (s *Store) Subject(ctx context.Context, userID string) (string, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Subject, nil
}

// --- workspaces.Repo ---

func (s *Store) UpsertWorkspace(_ context.Context, workspace *workspaces.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[workspace.ID] = *workspace
	return nil
}

func (s *Store) GetWorkspace(_ context.Context, id string) (*workspaces.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workspace, ok := s.workspaces[id]
	if !ok {
		return nil, workspaces.ErrWorkspaceNotFound
	}
	return &workspace, nil
}

func (s *Store) UpsertProject(_ context.Context, project *workspaces.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[project.ID] = *project
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*workspaces.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, workspaces.ErrProjectNotFound
	}
	return &project, nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return workspaces.ErrProjectNotFound
	}
	delete(s.projects, id)
	return nil
}

func (s *Store) ListProjects(_ context.Context, workspaceID string) ([]*workspaces.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*workspaces.Project
	for _, project := range s.projects {
		if project.WorkspaceID == workspaceID {
			p := project
			result = append(result, &p)
		}
	}
	return result, nil
}

// ProjectWorkspace implements authz.ProjectDirectory.
func (s *Store) ProjectWorkspace(_ context.Context, projectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[projectID]
	if !ok {
		return "", workspaces.ErrProjectNotFound
	}
	return project.WorkspaceID, nil
}

// --- authz.MembershipStore ---

func (s *Store) SetWorkspaceRole(_ context.Context, workspaceID, userID string, role authz.WorkspaceRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaceRoles[membershipKey{workspaceID, userID}] = role
	return nil
}

func (s *Store) WorkspaceRole(_ context.Context, workspaceID, userID string) (authz.WorkspaceRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspaceRoles[membershipKey{workspaceID, userID}], nil
}

func (s *Store) SetProjectRole(_ context.Context, projectID, userID string, role authz.ProjectRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectRoles[membershipKey{projectID, userID}] = role
	return nil
}

func (s *Store) ProjectRole(_ context.Context, projectID, userID string) (authz.ProjectRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectRoles[membershipKey{projectID, userID}], nil
}

// --- oauth.CodeStore ---

func (s *Store) SaveCode(_ context.Context, code *oauth.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.CodeHash] = *code
	return nil
}

func (s *Store) ConsumeCode(_ context.Context, codeHash string, at time.Time) (*oauth.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[codeHash]
	if !ok {
		return nil, oauth.ErrCodeNotFound
	}
	if code.Used {
		return nil, oauth.ErrCodeUsed
	}
	code.Used = true
	code.UsedAt = utils.Ptr(at)
	s.codes[codeHash] = code
	return &code, nil
}

// --- refresh.Store ---

func (s *Store) CreateToken(_ context.Context, token *refresh.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token.ID] = *token
	s.refreshByHash[token.TokenHash] = token.ID
	return nil
}

func (s *Store) GetTokenByHash(_ context.Context, tokenHash string) (*refresh.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.refreshByHash[tokenHash]
	if !ok {
		return nil, refresh.ErrTokenNotFound
	}
	token := s.refreshTokens[id]
	return &token, nil
}

func (s *Store) RotateToken(_ context.Context, oldID string, child *refresh.Token, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refreshTokens[oldID]
	if !ok {
		return refresh.ErrTokenNotFound
	}
	if old.Revoked {
		return refresh.ErrTokenRevoked
	}
	old.Revoked = true
	old.RevokedReason = refresh.ReasonRotation
	old.RevokedAt = utils.Ptr(at)
	old.ReplacedByID = child.ID
	s.refreshTokens[oldID] = old
	s.refreshTokens[child.ID] = *child
	s.refreshByHash[child.TokenHash] = child.ID
	return nil
}

func (s *Store) RevokeToken(_ context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.refreshTokens[id]
	if !ok {
		return refresh.ErrTokenNotFound
	}
	if token.Revoked {
		return nil
	}
	token.Revoked = true
	token.RevokedReason = reason
	token.RevokedAt = utils.Ptr(at)
	s.refreshTokens[id] = token
	return nil
}

func (s *Store) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revoked := 0
	for id, token := range s.refreshTokens {
		if token.FamilyID != familyID || token.Revoked {
			continue
		}
		token.Revoked = true
		token.RevokedReason = reason
		token.RevokedAt = utils.Ptr(at)
		s.refreshTokens[id] = token
		revoked++
	}
	return revoked, nil
}

func (s *Store) ListFamily(_ context.Context, familyID string) ([]*refresh.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*refresh.Token
	for _, token := range s.refreshTokens {
		if token.FamilyID == familyID {
			t := token
			result = append(result, &t)
		}
	}
	return result, nil
}

// --- pat.Store ---

func (s *Store) CreatePAT(_ context.Context, token *pat.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pats[token.ID] = *token
	s.patsByHash[token.TokenHash] = token.ID
	return nil
}

func (s *Store) GetPATByHash(_ context.Context, tokenHash string) (*pat.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.patsByHash[tokenHash]
	if !ok {
		return nil, pat.ErrTokenNotFound
	}
	token := s.pats[id]
	return &token, nil
}

func (s *Store) GetPAT(_ context.Context, id string) (*pat.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.pats[id]
	if !ok {
		return nil, pat.ErrTokenNotFound
	}
	return &token, nil
}

func (s *Store) ListPATsByUser(_ context.Context, userID string) ([]*pat.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*pat.Token
	for _, token := range s.pats {
		if token.UserID == userID {
			t := token
			result = append(result, &t)
		}
	}
	return result, nil
}

func (s *Store) RevokePAT(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.pats[id]
	if !ok {
		return pat.ErrTokenNotFound
	}
	token.Revoked = true
	token.RevokedAt = utils.Ptr(at)
	s.pats[id] = token
	return nil
}

func (s *Store) UpdatePATUsage(_ context.Context, id string, usedAt time.Time, ip string, auditAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.pats[id]
	if !ok {
		return pat.ErrTokenNotFound
	}
	token.LastUsedAt = utils.Ptr(usedAt)
	token.LastUsedIP = ip
	if auditAt != nil {
		token.LastAuditAt = utils.Ptr(*auditAt)
	}
	s.pats[id] = token
	return nil
}
