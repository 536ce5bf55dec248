// Package security provides the audit trail and rate limiting around the
// token endpoints.
package security

// Audit event types. Stable strings: log pipelines alert on them.
const (
	EventAuthorizationCodeIssued     = "authorization_code_issued"
	EventTokenIssued                 = "token_issued"
	EventTokenRefreshed              = "token_refreshed"
	EventTokenRevoked                = "token_revoked"
	EventTokenReuseDetected          = "token_reuse_detected"
	EventAuthFailure                 = "auth_failure"
	EventInvalidRedirectURI          = "invalid_redirect_uri"
	EventRateLimitExceeded           = "rate_limit_exceeded"
	EventPATCreated                  = "pat_created"
	EventPATRevoked                  = "pat_revoked"
	EventPATUsage                    = "pat_usage"
	EventWorkspaceIsolationViolation = "workspace_isolation_violation"
)
