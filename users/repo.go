package users

import (
	"context"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
)

var ErrAccountNotFound = errors.New("account not found")

// Repo persists accounts. Emails are stored normalized and are unique; Create returns
// an error matching errors.ErrConflict when the email is taken.
type Repo interface {
	Create(ctx context.Context, account *Account) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}
