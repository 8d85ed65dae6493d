package pgrepo_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/users"
	"github.com/jrsteele09/go-patient-auth/users/pgrepo"
	"github.com/stretchr/testify/require"
)

// Runs against a real database only when DATABASE_URL is set.
func newTestRepo(t *testing.T) *pgrepo.Repo {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	repo, err := pgrepo.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func TestRepo(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	email := uuid.New().String() + "@example.com"

	account := &users.Account{Email: email, PasswordHash: "hash-1"}
	require.NoError(t, repo.Create(ctx, account))
	require.NotEmpty(t, account.ID)
	require.False(t, account.CreatedAt.IsZero())

	t.Run("duplicate email conflicts", func(t *testing.T) {
		err := repo.Create(ctx, &users.Account{Email: email, PasswordHash: "hash-2"})
		require.ErrorIs(t, err, errors.ErrConflict)
	})

	t.Run("lookup", func(t *testing.T) {
		byEmail, err := repo.GetByEmail(ctx, email)
		require.NoError(t, err)
		require.Equal(t, account.ID, byEmail.ID)

		byID, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		require.Equal(t, "hash-1", byID.PasswordHash)

		_, err = repo.GetByID(ctx, "not-a-uuid")
		require.ErrorIs(t, err, users.ErrAccountNotFound)
		_, err = repo.GetByEmail(ctx, "nobody-"+email)
		require.ErrorIs(t, err, users.ErrAccountNotFound)
	})

	t.Run("update password hash", func(t *testing.T) {
		require.NoError(t, repo.UpdatePasswordHash(ctx, account.ID, "hash-3"))
		got, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		require.Equal(t, "hash-3", got.PasswordHash)

		err = repo.UpdatePasswordHash(ctx, uuid.New().String(), "hash-4")
		require.ErrorIs(t, err, users.ErrAccountNotFound)
	})
}
