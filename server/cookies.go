package server

import (
	"net/http"
	"time"

	"github.com/jrsteele09/go-patient-auth/auth"
)

const (
	// CookieAccess carries the access credential on every request
	CookieAccess = "access_token"
	// CookieRefresh carries the refresh credential, only to the refresh endpoint
	CookieRefresh = "refresh_token"
)

// setAccessCookie keeps the cookie for the life of the refresh session, not the access
// credential. An expired credential must still reach the gate so it can answer
// expired_credential; a cookie the browser already dropped would read as missing.
func (s *Server) setAccessCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieAccess,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.sessionCookieTTL.Seconds()),
	})
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieRefresh,
		Value:    value,
		Path:     RouteSessionRefresh,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAgeUntil(expiresAt),
	})
}

func (s *Server) setCredentialCookies(w http.ResponseWriter, creds *auth.Credentials) {
	s.setAccessCookie(w, creds.Access)
	if creds.Refresh != "" {
		s.setRefreshCookie(w, creds.Refresh, creds.RefreshExpiresAt)
	}
}

// clearCredentialCookies expires both cookies. Path and SameSite must match the ones
// used to set them or the browser keeps the originals.
func (s *Server) clearCredentialCookies(w http.ResponseWriter) {
	for _, c := range []struct {
		name     string
		path     string
		sameSite http.SameSite
	}{
		{CookieAccess, "/", http.SameSiteLaxMode},
		{CookieRefresh, RouteSessionRefresh, http.SameSiteStrictMode},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			HttpOnly: true,
			Secure:   s.secureCookies,
			SameSite: c.sameSite,
			MaxAge:   -1,
		})
	}
}

func maxAgeUntil(expiresAt time.Time) int {
	seconds := int(time.Until(expiresAt).Seconds())
	if seconds < 1 {
		return -1
	}
	return seconds
}
