package users

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes
	MaxPasswordLength = 72
)

type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Hashed version of the account's password - never serialize
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the sanitized projection of an Account. It is the only account shape
// that leaves the server.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (a *Account) Identity() Identity {
	return Identity{
		ID:        a.ID,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// NormalizeEmail trims and lowercases an email address and checks its syntax.
// Display names ("Ada <ada@example.com>") are rejected.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", errors.E(errors.InvalidInput, "users.NormalizeEmail", fmt.Errorf("email is required"))
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", errors.E(errors.InvalidInput, "users.NormalizeEmail", fmt.Errorf("invalid email address"))
	}
	return normalized, nil
}

// ValidatePassword checks the password policy: between 8 and 72 bytes.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.E(errors.InvalidInput, "users.ValidatePassword", fmt.Errorf("password must be at least %d characters long", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return errors.E(errors.InvalidInput, "users.ValidatePassword", fmt.Errorf("password must be at most %d bytes long", MaxPasswordLength))
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
