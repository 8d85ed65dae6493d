package auth

import (
	"context"
	"time"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/token/jwt"
	"github.com/jrsteele09/go-patient-auth/token/refresh"
	"github.com/jrsteele09/go-patient-auth/users"
	"github.com/rs/zerolog/log"
)

const DefaultAccessTTL = 15 * time.Minute

// dummyPassword is hashed once per service so that a login for an unknown email costs
// one bcrypt comparison, the same as a login with a wrong password.
const dummyPassword = "not-a-real-password"

// AccessIssuer mints access credentials.
type AccessIssuer interface {
	Issue(p jwt.Payload, ttl time.Duration) (string, time.Time, error)
}

// Credentials is the outcome of a login or refresh. Refresh is empty after a refresh
// unless rotation is enabled.
type Credentials struct {
	Access           string
	AccessExpiresAt  time.Time
	Refresh          string
	RefreshExpiresAt time.Time
	Identity         users.Identity
}

// Service issues credentials for accounts: registration, password checks, login and
// the server half of refresh and logout.
type Service struct {
	accounts    users.Repo
	access      AccessIssuer
	coordinator *refresh.Coordinator
	accessTTL   time.Duration
	dummyHash   string
}

type ServiceOption func(*Service)

func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

func NewService(accounts users.Repo, access AccessIssuer, coordinator *refresh.Coordinator, opts ...ServiceOption) (*Service, error) {
	dummyHash, err := users.HashPassword(dummyPassword)
	if err != nil {
		return nil, errors.E(errors.ConfigurationError, "auth.NewService", err)
	}

	s := &Service{
		accounts:    accounts,
		access:      access,
		coordinator: coordinator,
		accessTTL:   DefaultAccessTTL,
		dummyHash:   dummyHash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an account. The password is hashed before anything is written.
func (s *Service) Register(ctx context.Context, email, password string) (*users.Account, error) {
	const op = "Service.Register"

	normalized, err := users.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := users.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := users.HashPassword(password)
	if err != nil {
		return nil, errors.E(errors.Unavailable, op, err)
	}

	account := &users.Account{
		Email:        normalized,
		PasswordHash: hash,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return nil, errors.E(errors.Conflict, op, err)
		}
		return nil, errors.E(errors.Unavailable, op, err)
	}

	log.Info().Str("account_id", account.ID).Msg("account registered")
	return account, nil
}

// Authenticate returns the account when email and password match, and (nil, nil) when
// they do not. Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*users.Account, error) {
	normalized, err := users.NormalizeEmail(email)
	if err != nil {
		users.CheckPasswordHash(password, s.dummyHash)
		return nil, nil
	}

	account, err := s.accounts.GetByEmail(ctx, normalized)
	if errors.Is(err, users.ErrAccountNotFound) {
		users.CheckPasswordHash(password, s.dummyHash)
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(errors.Unavailable, "Service.Authenticate", err)
	}

	if !users.CheckPasswordHash(password, account.PasswordHash) {
		return nil, nil
	}
	return account, nil
}

// Login mints an access and a refresh credential for an authenticated account. Any
// previous refresh credential for the account stops working.
func (s *Service) Login(ctx context.Context, account *users.Account) (*Credentials, error) {
	payload := jwt.Payload{AccountID: account.ID, Email: account.Email}

	access, accessExpiresAt, err := s.access.Issue(payload, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refreshRaw, refreshExpiresAt, err := s.coordinator.Issue(ctx, payload)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		Access:           access,
		AccessExpiresAt:  accessExpiresAt,
		Refresh:          refreshRaw,
		RefreshExpiresAt: refreshExpiresAt,
		Identity:         account.Identity(),
	}, nil
}

// Refresh exchanges a refresh credential for a new access credential.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*Credentials, error) {
	const op = "Service.Refresh"

	if rawRefresh == "" {
		return nil, errors.E(errors.MissingCredential, op, nil)
	}

	result, err := s.coordinator.RotateOrReject(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, result.AccountID)
	if errors.Is(err, users.ErrAccountNotFound) {
		if clearErr := s.coordinator.Invalidate(ctx, result.AccountID); clearErr != nil {
			log.Err(clearErr).Str("account_id", result.AccountID).Msg("failed to clear session of missing account")
		}
		return nil, errors.E(errors.InvalidCredential, op, err)
	}
	if err != nil {
		return nil, errors.E(errors.Unavailable, op, err)
	}

	access, accessExpiresAt, err := s.access.Issue(jwt.Payload{AccountID: account.ID, Email: account.Email}, s.accessTTL)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		Access:           access,
		AccessExpiresAt:  accessExpiresAt,
		Refresh:          result.Refresh,
		RefreshExpiresAt: result.RefreshExpiresAt,
		Identity:         account.Identity(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, accountID string) error {
	return s.coordinator.Invalidate(ctx, accountID)
}

func (s *Service) WhoAmI(ctx context.Context, accountID string) (*users.Identity, error) {
	const op = "Service.WhoAmI"

	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, users.ErrAccountNotFound) {
		return nil, errors.E(errors.InvalidCredential, op, err)
	}
	if err != nil {
		return nil, errors.E(errors.Unavailable, op, err)
	}
	identity := account.Identity()
	return &identity, nil
}

// ChangePassword replaces the account's password and ends its session everywhere.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) error {
	const op = "Service.ChangePassword"

	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, users.ErrAccountNotFound) {
		return errors.E(errors.InvalidCredential, op, err)
	}
	if err != nil {
		return errors.E(errors.Unavailable, op, err)
	}
	if !users.CheckPasswordHash(current, account.PasswordHash) {
		return errors.E(errors.InvalidCredential, op, errors.New("current password does not match"))
	}
	if err := users.ValidatePassword(next); err != nil {
		return err
	}

	hash, err := users.HashPassword(next)
	if err != nil {
		return errors.E(errors.Unavailable, op, err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return errors.E(errors.Unavailable, op, err)
	}
	return s.coordinator.Invalidate(ctx, accountID)
}
