package config

import "strings"

type SecurityConfig interface {
	GetSecureCookies() bool
	GetEnableRateLimiting() bool
	GetLoginRequestsPerMinute() int
	GetTrustedProxies() []string
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetSecureCookies marks credential cookies Secure everywhere except DEV, where the
// server usually runs on plain http://localhost.
func (Security) GetSecureCookies() bool {
	return getEnvBool("SECURE_COOKIES", !EnvVars{}.IsDev())
}

func (Security) GetEnableRateLimiting() bool {
	return getEnvBool("RATE_LIMITING", true)
}

func (Security) GetLoginRequestsPerMinute() int {
	return getEnvInt("LOGIN_REQUESTS_PER_MINUTE", 30)
}

// GetTrustedProxies reads TRUSTED_PROXIES, a comma separated list of IPs or CIDRs whose
// X-Forwarded-For header is believed. Empty means no proxy is trusted.
func (Security) GetTrustedProxies() []string {
	var proxies []string
	for _, entry := range strings.Split(GetEnv("TRUSTED_PROXIES", ""), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			proxies = append(proxies, entry)
		}
	}
	return proxies
}
