package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-patient-auth/internal/config"
)

func TestDefaults(t *testing.T) {
	for _, name := range []string{"PORT", "ENV", "BASE_URL", "TOKEN_ISSUER", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
		"ROTATE_REFRESH_TOKENS", "SECURE_COOKIES", "ALLOWED_ORIGINS", "REDIS_ADDR", "LOG_LEVEL"} {
		t.Setenv(name, "")
	}
	c := config.New()

	require.Equal(t, ":8080", c.GetPort())
	require.True(t, c.IsDev())
	require.Equal(t, "info", c.GetLogLevel())
	require.Equal(t, 15*time.Minute, c.GetAccessTokenExpiry())
	require.Equal(t, 7*24*time.Hour, c.GetRefreshTokenExpiry())
	require.Equal(t, c.GetBaseURL(), c.GetIssuer())
	require.False(t, c.GetRotateRefreshTokens())
	require.False(t, c.GetSecureCookies())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("http://localhost:3000"))
	require.Empty(t, c.GetRedisAddr())
}

func TestOverrides(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("ENV", "prod")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("REFRESH_TOKEN_TTL", "not-a-duration")
	t.Setenv("ROTATE_REFRESH_TOKENS", "true")
	t.Setenv("SECURE_COOKIES", "")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("LOGIN_REQUESTS_PER_MINUTE", "abc")
	c := config.New()

	require.Equal(t, ":9000", c.GetPort())
	require.False(t, c.IsDev())
	require.Equal(t, 5*time.Minute, c.GetAccessTokenExpiry())
	require.Equal(t, 7*24*time.Hour, c.GetRefreshTokenExpiry())
	require.True(t, c.GetRotateRefreshTokens())
	require.True(t, c.GetSecureCookies())
	require.Equal(t, "https://a.example.com, https://b.example.com", c.GetAllowedOrigins().String())
	require.Equal(t, 30, c.GetLoginRequestsPerMinute())
}

func TestKeyPEMSources(t *testing.T) {
	c := config.New()

	t.Run("inline wins over file", func(t *testing.T) {
		t.Setenv("PRIVATE_KEY_PEM", "inline")
		t.Setenv("PRIVATE_KEY_FILE", "/does/not/exist")
		pem, err := c.GetPrivateKeyPEM()
		require.NoError(t, err)
		require.Equal(t, "inline", pem)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "public.pem")
		require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))
		t.Setenv("PUBLIC_KEY_PEM", "")
		t.Setenv("PUBLIC_KEY_FILE", path)
		pem, err := c.GetPublicKeyPEM()
		require.NoError(t, err)
		require.Equal(t, "from-file", pem)
	})

	t.Run("unset", func(t *testing.T) {
		t.Setenv("PRIVATE_KEY_PEM", "")
		t.Setenv("PRIVATE_KEY_FILE", "")
		pem, err := c.GetPrivateKeyPEM()
		require.NoError(t, err)
		require.Empty(t, pem)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("PRIVATE_KEY_PEM", "")
		t.Setenv("PRIVATE_KEY_FILE", filepath.Join(t.TempDir(), "nope.pem"))
		_, err := c.GetPrivateKeyPEM()
		require.Error(t, err)
	})
}

func TestTrustedProxies(t *testing.T) {
	c := config.New()

	t.Setenv("TRUSTED_PROXIES", "")
	require.Empty(t, c.GetTrustedProxies())

	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,192.168.1.5 ")
	require.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, c.GetTrustedProxies())
}
