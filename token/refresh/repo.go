package refresh

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
)

var (
	ErrRecordNotFound = errors.New("refresh record not found")
	ErrRecordMismatch = errors.New("refresh record does not match")
)

// Record is the server-side state of an account's refresh credential. Only a hash of
// the credential is kept; the credential itself lives in the client's cookie.
type Record struct {
	AccountID      string
	CredentialHash string
	ExpiresAt      time.Time
}

// Repo stores at most one Record per account. Put always supersedes, so the last
// writer wins.
type Repo interface {
	Put(ctx context.Context, record Record) error
	// Get returns ErrRecordNotFound when the account has no record.
	Get(ctx context.Context, accountID string) (*Record, error)
	// Clear is idempotent.
	Clear(ctx context.Context, accountID string) error
	// Swap replaces the record only if its hash still equals expectedHash. It returns
	// ErrRecordMismatch when another writer got there first.
	Swap(ctx context.Context, accountID, expectedHash string, next Record) error
}

// HashCredential returns the hex SHA-256 of a raw credential.
func HashCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashesEqual compares two credential hashes in constant time.
func HashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
