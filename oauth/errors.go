// Package oauth implements the authorization-code flow with PKCE, the token
// endpoint grants, and token revocation.
package oauth

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorCode is a wire-level OAuth error code.
type ErrorCode string

const (
	ErrInvalidRequest          ErrorCode = "invalid_request"
	ErrInvalidClient           ErrorCode = "invalid_client"
	ErrInvalidGrant            ErrorCode = "invalid_grant"
	ErrInvalidScope            ErrorCode = "invalid_scope"
	ErrUnauthorizedClient      ErrorCode = "unauthorized_client"
	ErrUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	ErrUnsupportedResponseType ErrorCode = "unsupported_response_type"
	ErrServerError             ErrorCode = "server_error"
)

// Error is a protocol error the endpoints return verbatim on the wire.
type Error struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// HTTPStatus maps the error code to its response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrInvalidClient:
		return http.StatusUnauthorized
	case ErrServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// AsError coerces any failure into a protocol error, hiding internal detail
// behind server_error.
func AsError(err error) *Error {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return NewError(ErrServerError, "internal error")
}

// RedirectError is a protocol error that must be delivered to the client's
// validated redirect URI rather than as a direct response.
type RedirectError struct {
	RedirectURL string
	Err         *Error
}

func (e *RedirectError) Error() string {
	return e.Err.Error()
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}
