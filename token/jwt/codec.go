package jwt

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/token/keys"
)

// Use separates access credentials from refresh credentials. A credential minted for
// one use is never accepted for the other.
type Use string

const (
	UseAccess  Use = "access"
	UseRefresh Use = "refresh"
)

// Payload is the identity carried inside a credential. It is never persisted.
type Payload struct {
	AccountID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  string
	ID        string
	Use       Use
}

type claims struct {
	Email string `json:"email,omitempty"`
	Use   Use    `json:"use"`
	jwtlib.RegisteredClaims
}

// Codec issues and verifies RS256 credentials of a single Use.
type Codec struct {
	use      Use
	signer   keys.Signer
	verifier keys.Verifier
	issuer   string
	audience string
	leeway   time.Duration
	nowFunc  func() time.Time
}

type CodecOption func(*Codec)

func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

func WithAudience(audience string) CodecOption {
	return func(c *Codec) {
		c.audience = audience
	}
}

// WithLeeway tolerates clock skew when checking expiry and issue time
func WithLeeway(leeway time.Duration) CodecOption {
	return func(c *Codec) {
		c.leeway = leeway
	}
}

// WithNowFunc overrides the clock, mainly for tests
func WithNowFunc(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.nowFunc = now
	}
}

// NewCodec creates a codec. signer may be nil for a verify-only codec; when verifier
// is nil the signer verifies.
func NewCodec(use Use, signer keys.Signer, verifier keys.Verifier, opts ...CodecOption) (*Codec, error) {
	if use != UseAccess && use != UseRefresh {
		return nil, errors.E(errors.ConfigurationError, "jwt.NewCodec", fmt.Errorf("unknown credential use %q", use))
	}
	if verifier == nil && signer != nil {
		verifier = signer
	}

	c := &Codec{
		use:      use,
		signer:   signer,
		verifier: verifier,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a credential for p that expires ttl from now. Issuer, audience, issue
// time, expiry, ID and use are filled by the codec; the returned time is the embedded expiry.
func (c *Codec) Issue(p Payload, ttl time.Duration) (string, time.Time, error) {
	const op = "Codec.Issue"

	if c == nil || c.signer == nil {
		return "", time.Time{}, errors.E(errors.ConfigurationError, op, errors.New("no signing key"))
	}
	if p.AccountID == "" {
		return "", time.Time{}, errors.E(errors.InvalidInput, op, errors.New("account id is required"))
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.E(errors.ConfigurationError, op, fmt.Errorf("non-positive ttl %s", ttl))
	}

	now := c.nowFunc().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	cl := claims{
		Email: p.Email,
		Use:   c.use,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   p.AccountID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}
	if c.issuer != "" {
		cl.Issuer = c.issuer
	}
	if c.audience != "" {
		cl.Audience = jwtlib.ClaimStrings{c.audience}
	}

	signed, err := c.signer.Sign(cl)
	if err != nil {
		return "", time.Time{}, errors.E(errors.ConfigurationError, op, err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, audience, expiry and use, and returns the payload.
// Failures carry one of ExpiredCredential, MalformedCredential, SignatureInvalid or
// ConfigurationError; the library's message is only reachable through Unwrap.
func (c *Codec) Verify(raw string) (*Payload, error) {
	const op = "Codec.Verify"

	if c == nil || c.verifier == nil || !c.verifier.HasVerificationKey() {
		return nil, errors.E(errors.ConfigurationError, op, errors.New("no verification key"))
	}
	if strings.TrimSpace(raw) == "" {
		return nil, errors.E(errors.MalformedCredential, op, errors.New("empty credential"))
	}

	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{keys.RS256}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithLeeway(c.leeway),
		jwtlib.WithTimeFunc(c.nowFunc),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(c.audience))
	}

	cl := &claims{}
	if _, err := jwtlib.NewParser(parserOpts...).ParseWithClaims(raw, cl, c.verifier.GetVerificationKey); err != nil {
		return nil, errors.E(kindForParseError(err), op, err)
	}

	if cl.Use != c.use {
		return nil, errors.E(errors.MalformedCredential, op, fmt.Errorf("credential use %q presented as %q", cl.Use, c.use))
	}
	if cl.Subject == "" {
		return nil, errors.E(errors.MalformedCredential, op, errors.New("missing subject"))
	}

	p := &Payload{
		AccountID: cl.Subject,
		Email:     cl.Email,
		Issuer:    cl.Issuer,
		ID:        cl.ID,
		Use:       cl.Use,
		ExpiresAt: cl.ExpiresAt.Time,
	}
	if cl.IssuedAt != nil {
		p.IssuedAt = cl.IssuedAt.Time
	}
	if len(cl.Audience) > 0 {
		p.Audience = cl.Audience[0]
	}
	return p, nil
}

// Signature is checked before claims, so a tampered expired credential reports
// SignatureInvalid rather than ExpiredCredential.
func kindForParseError(err error) errors.Kind {
	switch {
	case errors.Is(err, jwtlib.ErrTokenSignatureInvalid), errors.Is(err, jwtlib.ErrTokenUnverifiable):
		return errors.SignatureInvalid
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return errors.ExpiredCredential
	default:
		return errors.MalformedCredential
	}
}
