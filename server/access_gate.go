package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

// HeaderAuthError tells the client why an access credential was refused. The value
// "expired_credential" is the only signal that should trigger a refresh.
const HeaderAuthError = "X-Auth-Error"

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const contextKeyIdentity ContextKey = "identity"

// Identity is what the gate attaches to a request once the access credential verifies.
type Identity struct {
	AccountID string
	Email     string
}

// IdentityFromContext returns the identity attached by RequireAccess.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKeyIdentity).(Identity)
	return identity, ok
}

// RequireAccess verifies the access credential cookie. It never reads the
// Authorization header and never touches account storage.
func (s *Server) RequireAccess() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if s.access == nil {
				log.Error().Str("path", r.URL.Path).Msg("access gate has no verifier configured")
				writeJSONError(w, errors.ConfigurationError.String(), "server misconfigured", http.StatusInternalServerError)
				return
			}

			cookie, err := r.Cookie(CookieAccess)
			if err != nil || cookie.Value == "" {
				writeJSONError(w, errors.MissingCredential.String(), "access credential required", http.StatusUnauthorized)
				return
			}

			payload, err := s.access.Verify(cookie.Value)
			if err != nil {
				switch kind := errors.KindOf(err); kind {
				case errors.ExpiredCredential:
					w.Header().Set(HeaderAuthError, kind.String())
					writeJSONError(w, kind.String(), "access credential expired", http.StatusUnauthorized)
				case errors.ConfigurationError:
					log.Err(err).Str("path", r.URL.Path).Msg("access gate cannot verify credentials")
					writeJSONError(w, kind.String(), "server misconfigured", http.StatusInternalServerError)
				default:
					writeJSONError(w, errors.InvalidCredential.String(), "access credential invalid", http.StatusUnauthorized)
				}
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyIdentity, Identity{
				AccountID: payload.AccountID,
				Email:     payload.Email,
			})
			next(w, r.WithContext(ctx))
		}
	}
}
