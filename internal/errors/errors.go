package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of the credential subsystem. The set is closed:
// callers switch on it exhaustively instead of inspecting error text.
type Kind uint8

const (
	KindUnknown Kind = iota
	// Credential failures
	MissingCredential
	ExpiredCredential
	MalformedCredential
	SignatureInvalid
	InvalidCredential
	RevokedCredential
	// Process failures
	ConfigurationError
	Unavailable
	// Request failures
	Conflict
	InvalidInput
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	MissingCredential:   "missing_credential",
	ExpiredCredential:   "expired_credential",
	MalformedCredential: "malformed_credential",
	SignatureInvalid:    "signature_invalid",
	InvalidCredential:   "invalid_credential",
	RevokedCredential:   "revoked_credential",
	ConfigurationError:  "configuration_error",
	Unavailable:         "unavailable",
	Conflict:            "conflict",
	InvalidInput:        "invalid_input",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is a classified failure. Op names the operation that failed, Err keeps the
// underlying cause for logs. Error() never includes the cause so that library
// messages do not leak to callers.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("[%s] %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, errors.E(ExpiredCredential, "", nil)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// E builds a classified error.
func E(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingCredential   = &Error{Kind: MissingCredential}
	ErrExpiredCredential   = &Error{Kind: ExpiredCredential}
	ErrMalformedCredential = &Error{Kind: MalformedCredential}
	ErrSignatureInvalid    = &Error{Kind: SignatureInvalid}
	ErrInvalidCredential   = &Error{Kind: InvalidCredential}
	ErrRevokedCredential   = &Error{Kind: RevokedCredential}
	ErrConfiguration       = &Error{Kind: ConfigurationError}
	ErrUnavailable         = &Error{Kind: Unavailable}
	ErrConflict            = &Error{Kind: Conflict}
	ErrInvalidInput        = &Error{Kind: InvalidInput}
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import.
func New(text string) error {
	return errors.New(text)
}
