package client

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("needs scheme and host", func(t *testing.T) {
		_, err := New("localhost:8080")
		require.Error(t, err)
		_, err = New("://bad")
		require.Error(t, err)
	})

	t.Run("trailing slash", func(t *testing.T) {
		c, err := New("http://localhost:8080/")
		require.NoError(t, err)
		require.Equal(t, "http://localhost:8080/session", c.URL(pathSession))
	})

	t.Run("does not touch the supplied client", func(t *testing.T) {
		hc := &http.Client{}
		c, err := New("http://localhost:8080", WithHTTPClient(hc))
		require.NoError(t, err)
		require.Nil(t, hc.Jar)
		require.NotNil(t, c.http.Jar)
	})
}

func TestClientCalls(t *testing.T) {
	api := newFakeAPI(t)
	c, err := New(api.server.URL)
	require.NoError(t, err)

	t.Run("login sets both cookies", func(t *testing.T) {
		identity, err := c.Login(t.Context(), testEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, testIdentity, *identity)
		require.True(t, c.HasCookie("/", cookieAccess))
		require.True(t, c.HasCookie(pathRefresh, cookieRefresh))
		// The refresh cookie is scoped to the refresh endpoint.
		require.False(t, c.HasCookie(pathSession, cookieRefresh))
	})

	t.Run("refresh", func(t *testing.T) {
		require.NoError(t, c.Refresh(t.Context()))
	})

	t.Run("refresh rejected", func(t *testing.T) {
		api.mu.Lock()
		api.refreshStatus = http.StatusForbidden
		api.mu.Unlock()

		err := c.Refresh(t.Context())
		require.ErrorIs(t, err, ErrRefreshRejected)
	})

	t.Run("logout", func(t *testing.T) {
		require.NoError(t, c.Logout(t.Context()))
		require.False(t, c.HasCookie("/", cookieAccess))
	})

	t.Run("bad login", func(t *testing.T) {
		_, err := c.Login(t.Context(), testEmail, "wrong-password")
		require.ErrorIs(t, err, ErrInvalidLogin)
	})

	t.Run("expire cookies", func(t *testing.T) {
		_, err := c.Login(t.Context(), testEmail, testPassword)
		require.NoError(t, err)
		c.ExpireCookies()
		require.False(t, c.HasCookie("/", cookieAccess))
		require.False(t, c.HasCookie(pathRefresh, cookieRefresh))
	})
}

func TestAPIError(t *testing.T) {
	require.Equal(t, "server responded 500", (&APIError{Status: 500}).Error())
	require.Equal(t, "server responded 409: conflict (account exists)",
		(&APIError{Status: 409, Code: "conflict", Description: "account exists"}).Error())
}
