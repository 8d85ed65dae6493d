package server

import "net/http"

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Credential issuance, throttled per client IP
	s.RegisterRouteHandler("POST "+RouteAccounts, ChainMiddleware(s.RegisterHandler(), s.APIMiddleware(s.RateLimitMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteSession, ChainMiddleware(s.LoginHandler(), s.APIMiddleware(s.RateLimitMiddleware)...))

	// The refresh credential cookie is scoped to this path only
	s.RegisterRouteHandler("POST "+RouteSessionRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))

	s.RegisterProtected("GET "+RouteSession, s.WhoAmIHandler())
	s.RegisterProtected("DELETE "+RouteSession, s.LogoutHandler())
	s.RegisterProtected("PUT "+RouteSessionPassword, s.ChangePasswordHandler())

	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.APIMiddleware()...))
}
