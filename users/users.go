// Package users is the narrow user-directory collaborator: it maps a token
// subject to a platform user. Account management lives elsewhere.
package users

import (
	"context"

	"github.com/pkg/errors"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type Repo interface {
	Upsert(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetBySubject(ctx context.Context, subject string) (*User, error)
}
