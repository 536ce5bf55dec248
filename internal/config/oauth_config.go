package config

import "time"

type OAuthConfig interface {
	GetIssuer() string
	GetAudience() string
	GetAuthCodeTTL() time.Duration
	GetCodeLength() int
	GetRefreshTokenLength() int
	GetPATLength() int
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokensEnabled() bool
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetIssuer() string {
	return GetEnv("TOKEN_ISSUER", EnvVars{}.GetBaseURL())
}

func (OAuth) GetAudience() string {
	return GetEnv("TOKEN_AUDIENCE", "modelgrid-api")
}

func (OAuth) GetAuthCodeTTL() time.Duration {
	return 10 * time.Minute
}

func (OAuth) GetCodeLength() int {
	return 32 // bytes of entropy, 256 bits
}

func (OAuth) GetRefreshTokenLength() int {
	return 32
}

func (OAuth) GetPATLength() int {
	return 32
}

func (OAuth) GetAccessTokenExpiry() time.Duration {
	return 1 * time.Hour
}

func (OAuth) GetRefreshTokenExpiry() time.Duration {
	return 30 * 24 * time.Hour
}

func (OAuth) GetRefreshTokensEnabled() bool {
	return GetEnv("REFRESH_TOKENS_ENABLED", "true") != "false"
}
