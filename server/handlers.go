package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 16

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.E(errors.InvalidInput, "decodeJSON", errors.New("malformed JSON body"))
	}
	return nil
}

// RegisterHandler handles POST /accounts
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		account, err := s.auth.Register(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, account.Identity())
	}
}

// LoginHandler handles POST /session
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		account, err := s.auth.Authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if account == nil {
			writeJSONError(w, errors.InvalidCredential.String(), "invalid email or password", http.StatusUnauthorized)
			return
		}

		creds, err := s.auth.Login(r.Context(), account)
		if err != nil {
			writeError(w, r, err)
			return
		}

		s.setCredentialCookies(w, creds)
		log.Info().Str("account_id", account.ID).Msg("login")
		writeJSON(w, http.StatusOK, creds.Identity)
	}
}

// RefreshHandler handles POST /session/refresh. Any credential failure is a 403 and
// clears both cookies so the client falls back to a fresh login.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw string
		if cookie, err := r.Cookie(CookieRefresh); err == nil {
			raw = cookie.Value
		}

		creds, err := s.auth.Refresh(r.Context(), raw)
		if err != nil {
			switch kind := errors.KindOf(err); kind {
			case errors.ConfigurationError, errors.Unavailable, errors.KindUnknown:
				writeError(w, r, err)
			default:
				if kind == errors.RevokedCredential {
					log.Warn().Msg("refresh rejected: session revoked after credential reuse")
				}
				s.clearCredentialCookies(w)
				writeJSONError(w, kind.String(), "refresh credential rejected", http.StatusForbidden)
			}
			return
		}

		s.setCredentialCookies(w, creds)
		writeJSON(w, http.StatusOK, creds.Identity)
	}
}

// WhoAmIHandler handles GET /session
func (s *Server) WhoAmIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())

		account, err := s.auth.WhoAmI(r.Context(), identity.AccountID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

// LogoutHandler handles DELETE /session. Server-side invalidation is best effort: the
// cookies are cleared and 200 returned even when the store is unreachable.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())

		if err := s.auth.Logout(r.Context(), identity.AccountID); err != nil {
			log.Err(err).Str("account_id", identity.AccountID).Msg("failed to invalidate session on logout")
		}
		s.clearCredentialCookies(w)
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	}
}

// ChangePasswordHandler handles PUT /session/password
func (s *Server) ChangePasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())

		var req changePasswordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		if err := s.auth.ChangePassword(r.Context(), identity.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
			writeError(w, r, err)
			return
		}
		s.clearCredentialCookies(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for name, dep := range s.health {
			if err := dep.Ping(ctx); err != nil {
				log.Err(err).Str("dependency", name).Msg("health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(name + " unavailable"))
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	}
}
