package config

import (
	"fmt"
	"os"
)

const (
	portEnvVar    = "PORT"
	appNameVar    = "APP_NAME"
	baseURLVar    = "BASE_URL"
	databaseVar   = "DATABASE_URL"
	redisVar      = "REDIS_URL"
	signingKeyVar = "TOKEN_SIGNING_KEY"
)

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetDatabaseURL() string
	GetRedisURL() string
	GetSigningKey() string
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "ModelGrid Server")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetBaseURL returns the externally visible base URL of the API, used as the
// token issuer and for building redirect endpoints.
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

// GetDatabaseURL returns the Postgres connection string. Empty selects the
// in-memory store.
func (EnvVars) GetDatabaseURL() string {
	return GetEnv(databaseVar, "")
}

// GetRedisURL returns the Redis connection string used by the shared rate
// limiter. Empty selects the in-process limiter.
func (EnvVars) GetRedisURL() string {
	return GetEnv(redisVar, "")
}

// GetSigningKey returns the HMAC key used to sign access tokens. When empty a
// process-lifetime random key is generated at startup; tokens then become
// invalid across restarts, which is acceptable only outside production.
func (EnvVars) GetSigningKey() string {
	return GetEnv(signingKeyVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
