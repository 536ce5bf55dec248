package config

import "time"

type SecurityConfig interface {
	// GetAllowUnscopedTokens controls the compatibility rule for identities
	// carrying no scopes at all: when true such identities pass every scope
	// check. Deliberately permissive default, kept explicit so operators can
	// tighten it.
	GetAllowUnscopedTokens() bool
	GetPATAuditInterval() time.Duration
	GetEnableRateLimiting() bool
	GetRateLimitWindow() time.Duration
	GetAuthorizeRateLimit() int
	GetTokenRateLimit() int
	GetAPIRateLimit() int
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetAllowUnscopedTokens() bool {
	return GetEnv("ALLOW_UNSCOPED_TOKENS", "true") != "false"
}

// GetPATAuditInterval bounds how often a confirmed-usage audit record is
// written for a busy personal access token.
func (Security) GetPATAuditInterval() time.Duration {
	return 1 * time.Hour
}

func (Security) GetEnableRateLimiting() bool {
	return GetEnv("ENABLE_RATE_LIMITING", "true") != "false"
}

func (Security) GetRateLimitWindow() time.Duration {
	return 1 * time.Minute
}

func (Security) GetAuthorizeRateLimit() int {
	return 30
}

func (Security) GetTokenRateLimit() int {
	return 60
}

func (Security) GetAPIRateLimit() int {
	return 600
}
