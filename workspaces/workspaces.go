// Package workspaces holds the tenant entities the authorization layer needs
// to resolve: workspaces and the projects they own.
package workspaces

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrProjectNotFound   = errors.New("project not found")
)

type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Project struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
}

type Repo interface {
	UpsertWorkspace(ctx context.Context, workspace *Workspace) error
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	UpsertProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	DeleteProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context, workspaceID string) ([]*Project, error)
}
