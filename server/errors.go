package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

// statusForKind is the single mapping from error kind to HTTP status.
func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.MissingCredential,
		errors.ExpiredCredential,
		errors.MalformedCredential,
		errors.SignatureInvalid,
		errors.InvalidCredential:
		return http.StatusUnauthorized
	case errors.RevokedCredential:
		return http.StatusForbidden
	case errors.Conflict:
		return http.StatusConflict
	case errors.InvalidInput:
		return http.StatusBadRequest
	case errors.Unavailable:
		return http.StatusServiceUnavailable
	case errors.ConfigurationError, errors.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

var kindDescriptions = map[errors.Kind]string{
	errors.MissingCredential:   "credential required",
	errors.ExpiredCredential:   "credential expired",
	errors.MalformedCredential: "credential invalid",
	errors.SignatureInvalid:    "credential invalid",
	errors.InvalidCredential:   "credential invalid",
	errors.RevokedCredential:   "credential revoked",
	errors.ConfigurationError:  "server misconfigured",
	errors.Unavailable:         "service temporarily unavailable",
	errors.Conflict:            "resource already exists",
	errors.InvalidInput:        "invalid request",
}

// writeError renders a classified error. Causes are logged for server-side kinds
// and never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errors.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		log.Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	description, ok := kindDescriptions[kind]
	if !ok {
		description = "internal server error"
	}
	// Input errors describe the rule the request broke.
	if kind == errors.InvalidInput {
		var classified *errors.Error
		if errors.As(err, &classified) && classified.Err != nil {
			description = classified.Err.Error()
		}
	}
	writeJSONError(w, kind.String(), description, status)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
