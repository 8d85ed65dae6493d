package config

import (
	"fmt"
	"os"
	"time"
)

type CredentialConfig interface {
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetIssuer() string
	GetAudience() string
	GetClockLeeway() time.Duration
	GetRotateRefreshTokens() bool
	GetKeyID() string
	// GetPrivateKeyPEM and GetPublicKeyPEM return an empty string when no key is configured.
	GetPrivateKeyPEM() (string, error)
	GetPublicKeyPEM() (string, error)
}

type Credentials struct{}

var _ CredentialConfig = Credentials{}

func (Credentials) GetAccessTokenExpiry() time.Duration {
	return getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
}

func (Credentials) GetRefreshTokenExpiry() time.Duration {
	return getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour) // 7 days
}

func (Credentials) GetIssuer() string {
	return GetEnv("TOKEN_ISSUER", EnvVars{}.GetBaseURL())
}

func (Credentials) GetAudience() string {
	return GetEnv("TOKEN_AUDIENCE", "patient-records")
}

func (Credentials) GetClockLeeway() time.Duration {
	return getEnvDuration("TOKEN_LEEWAY", 5*time.Second)
}

// GetRotateRefreshTokens enables the stricter variant that replaces the refresh
// credential on every refresh. Off by default.
func (Credentials) GetRotateRefreshTokens() bool {
	return getEnvBool("ROTATE_REFRESH_TOKENS", false)
}

func (Credentials) GetKeyID() string {
	return GetEnv("KEY_ID", "records-auth-1")
}

func (Credentials) GetPrivateKeyPEM() (string, error) {
	return pemFromEnv("PRIVATE_KEY_PEM", "PRIVATE_KEY_FILE")
}

func (Credentials) GetPublicKeyPEM() (string, error) {
	return pemFromEnv("PUBLIC_KEY_PEM", "PUBLIC_KEY_FILE")
}

// pemFromEnv prefers the inline PEM variable and falls back to reading the file variable.
func pemFromEnv(inlineVar, fileVar string) (string, error) {
	if inline := os.Getenv(inlineVar); inline != "" {
		return inline, nil
	}
	path := os.Getenv(fileVar)
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("[config] reading %s: %w", fileVar, err)
	}
	return string(data), nil
}
