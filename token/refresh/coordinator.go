package refresh

import (
	"context"
	"time"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/token/jwt"
	"github.com/rs/zerolog/log"
)

const DefaultRefreshTTL = 7 * 24 * time.Hour

// CredentialCodec is the part of jwt.Codec the coordinator needs.
type CredentialCodec interface {
	Issue(p jwt.Payload, ttl time.Duration) (string, time.Time, error)
	Verify(raw string) (*jwt.Payload, error)
}

// Result of a successful refresh. Refresh is only set when rotation is enabled.
type Result struct {
	AccountID        string
	Email            string
	Refresh          string
	RefreshExpiresAt time.Time
}

// Coordinator owns the refresh record lifecycle: it issues refresh credentials,
// validates them against the stored record and revokes the session when a credential
// that no longer matches is presented.
type Coordinator struct {
	repo       Repo
	codec      CredentialCodec
	rotate     bool
	refreshTTL time.Duration
	nowFunc    func() time.Time
	locks      *keyedMutex
}

type CoordinatorOption func(*Coordinator)

// WithRotation replaces the refresh credential on every successful refresh
func WithRotation(rotate bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.rotate = rotate
	}
}

func WithRefreshTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

func WithNowFunc(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func NewCoordinator(repo Repo, codec CredentialCodec, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		repo:       repo,
		codec:      codec,
		refreshTTL: DefaultRefreshTTL,
		nowFunc:    time.Now,
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rotating reports whether refreshes hand out a new refresh credential
func (c *Coordinator) Rotating() bool {
	return c.rotate
}

// Issue mints a refresh credential for p and records it, superseding any previous one.
func (c *Coordinator) Issue(ctx context.Context, p jwt.Payload) (string, time.Time, error) {
	const op = "Coordinator.Issue"

	raw, expiresAt, err := c.codec.Issue(p, c.refreshTTL)
	if err != nil {
		return "", time.Time{}, err
	}

	unlock := c.locks.Lock(p.AccountID)
	defer unlock()

	if err := c.repo.Put(ctx, Record{
		AccountID:      p.AccountID,
		CredentialHash: HashCredential(raw),
		ExpiresAt:      expiresAt,
	}); err != nil {
		return "", time.Time{}, errors.E(errors.Unavailable, op, err)
	}
	return raw, expiresAt, nil
}

// RotateOrReject validates a presented refresh credential.
//
// A credential that verifies but does not match the stored record is treated as
// reuse of a superseded credential: the record is cleared before RevokedCredential is
// returned, so the legitimate holder is logged out as well. An absent or expired
// record yields InvalidCredential.
func (c *Coordinator) RotateOrReject(ctx context.Context, raw string) (*Result, error) {
	const op = "Coordinator.RotateOrReject"

	payload, err := c.codec.Verify(raw)
	if err != nil {
		if errors.KindOf(err) == errors.ConfigurationError {
			return nil, err
		}
		return nil, errors.E(errors.InvalidCredential, op, err)
	}

	accountID := payload.AccountID
	unlock := c.locks.Lock(accountID)
	defer unlock()

	record, err := c.repo.Get(ctx, accountID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, errors.E(errors.InvalidCredential, op, err)
	}
	if err != nil {
		return nil, errors.E(errors.Unavailable, op, err)
	}

	presented := HashCredential(raw)
	if !HashesEqual(record.CredentialHash, presented) {
		c.revoke(ctx, accountID)
		return nil, errors.E(errors.RevokedCredential, op, ErrRecordMismatch)
	}

	if !c.nowFunc().Before(record.ExpiresAt) {
		c.clear(ctx, accountID)
		return nil, errors.E(errors.InvalidCredential, op, errors.New("refresh record expired"))
	}

	result := &Result{
		AccountID: accountID,
		Email:     payload.Email,
	}
	if !c.rotate {
		return result, nil
	}

	next, expiresAt, err := c.codec.Issue(jwt.Payload{AccountID: accountID, Email: payload.Email}, c.refreshTTL)
	if err != nil {
		return nil, err
	}
	err = c.repo.Swap(ctx, accountID, presented, Record{
		AccountID:      accountID,
		CredentialHash: HashCredential(next),
		ExpiresAt:      expiresAt,
	})
	switch {
	case err == nil:
		result.Refresh = next
		result.RefreshExpiresAt = expiresAt
		return result, nil
	case errors.Is(err, ErrRecordMismatch):
		// Another process rotated between Get and Swap.
		c.revoke(ctx, accountID)
		return nil, errors.E(errors.RevokedCredential, op, err)
	case errors.Is(err, ErrRecordNotFound):
		return nil, errors.E(errors.InvalidCredential, op, err)
	default:
		return nil, errors.E(errors.Unavailable, op, err)
	}
}

// Invalidate drops the account's refresh record. Calling it again is a no-op.
func (c *Coordinator) Invalidate(ctx context.Context, accountID string) error {
	const op = "Coordinator.Invalidate"

	unlock := c.locks.Lock(accountID)
	defer unlock()

	if err := c.repo.Clear(ctx, accountID); err != nil {
		return errors.E(errors.Unavailable, op, err)
	}
	return nil
}

func (c *Coordinator) revoke(ctx context.Context, accountID string) {
	log.Warn().Str("account_id", accountID).Msg("superseded refresh credential presented, revoking session")
	c.clear(ctx, accountID)
}

func (c *Coordinator) clear(ctx context.Context, accountID string) {
	if err := c.repo.Clear(ctx, accountID); err != nil {
		log.Err(err).Str("account_id", accountID).Msg("failed to clear refresh record")
	}
}
