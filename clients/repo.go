package clients

import (
	"context"

	"github.com/pkg/errors"
)

var ErrClientNotFound = errors.New("client not found")

type Repo interface {
	Upsert(ctx context.Context, client *Client) error
	Get(ctx context.Context, clientID string) (*Client, error)
	Delete(ctx context.Context, clientID string) error
	List(ctx context.Context, workspaceID string) ([]*Client, error)
}
