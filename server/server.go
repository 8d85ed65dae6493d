package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-patient-auth/auth"
	"github.com/jrsteele09/go-patient-auth/internal/config"
	"github.com/jrsteele09/go-patient-auth/token/jwt"
	"github.com/rs/zerolog/log"
)

// AccessVerifier checks access credentials. The gate only ever needs the public key.
type AccessVerifier interface {
	Verify(raw string) (*jwt.Payload, error)
}

// Pinger is a dependency the health check reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	auth    *auth.Service
	access  AccessVerifier
	limiter *RateLimiter
	// trustedProxies may set X-Forwarded-For
	trustedProxies []*net.IPNet
	secureCookies  bool
	// sessionCookieTTL is the access cookie's Max-Age
	sessionCookieTTL time.Duration
	health           map[string]Pinger
}

type Option func(*Server)

// WithHealthCheck adds a dependency to GET /healthz
func WithHealthCheck(name string, p Pinger) Option {
	return func(s *Server) {
		s.health[name] = p
	}
}

// WithTrustedProxies replaces the TRUSTED_PROXIES list (IPs or CIDRs).
func WithTrustedProxies(entries ...string) Option {
	return func(s *Server) {
		s.trustedProxies = ParseTrustedProxies(entries)
	}
}

// WithRateLimiter overrides the limiter built from config. nil disables limiting.
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

func New(cfg config.Config, authService *auth.Service, access AccessVerifier, opts ...Option) *Server {
	s := &Server{
		env:              cfg.GetEnv(),
		mux:              http.NewServeMux(),
		config:           cfg,
		auth:             authService,
		access:           access,
		secureCookies:    cfg.GetSecureCookies(),
		sessionCookieTTL: cfg.GetRefreshTokenExpiry(),
		trustedProxies:   ParseTrustedProxies(cfg.GetTrustedProxies()),
		health:           make(map[string]Pinger),
	}
	if cfg.GetEnableRateLimiting() {
		s.limiter = NewRateLimiter(cfg.GetLoginRequestsPerMinute())
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// RegisterProtected mounts handler behind the access gate. Handlers read the caller
// with IdentityFromContext.
func (s *Server) RegisterProtected(pattern string, handler http.HandlerFunc) {
	s.RegisterRouteHandler(pattern, ChainMiddleware(handler, s.APIMiddleware(s.RequireAccess())...))
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Debug().Msgf("[%s%-7s%s] %s", color, method, ResetColor, path)
}
