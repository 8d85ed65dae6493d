package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	trusted := ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5", "not-an-ip", ""})
	require.Len(t, trusted, 2)

	for _, tc := range []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"direct client ignores header", "203.0.113.7:5555", "1.2.3.4", "203.0.113.7"},
		{"direct client without header", "203.0.113.7:5555", "", "203.0.113.7"},
		{"trusted proxy", "10.1.2.3:443", "198.51.100.9", "198.51.100.9"},
		{"spoofed left hops are skipped", "10.1.2.3:443", "1.2.3.4, 198.51.100.9", "198.51.100.9"},
		{"chained trusted proxies", "192.168.1.5:443", "198.51.100.9, 10.9.9.9", "198.51.100.9"},
		{"trusted proxy without header", "10.1.2.3:443", "", "10.1.2.3"},
		{"remote without port", "203.0.113.7", "", "203.0.113.7"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/session", nil)
			r.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			require.Equal(t, tc.want, clientIP(r, trusted))
		})
	}
}

func TestRateLimiterAllow(t *testing.T) {
	var none *RateLimiter
	require.True(t, none.Allow("anyone"))
	require.Nil(t, NewRateLimiter(0))

	limiter := NewRateLimiter(3)
	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))
	require.True(t, limiter.Allow("b"))
}
