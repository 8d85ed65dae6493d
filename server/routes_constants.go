package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteAccounts        = "/accounts"
	RouteSession         = "/session"
	RouteSessionRefresh  = "/session/refresh"
	RouteSessionPassword = "/session/password"
	RouteHealth          = "/healthz"
)
