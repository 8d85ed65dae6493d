// Package pgrepo stores accounts in PostgreSQL through a pgx connection pool.
package pgrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/users"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

var _ users.Repo = (*Repo)(nil)

type Repo struct {
	pool *pgxpool.Pool
}

// New connects to dsn and makes sure the accounts table exists.
func New(ctx context.Context, dsn string) (*Repo, error) {
	const op = "pgrepo.New"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repo) Create(ctx context.Context, account *users.Account) error {
	const op = "pgrepo.Create"

	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		account.ID, account.Email, account.PasswordHash,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, apperrors.ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (*users.Account, error) {
	return r.getOne(ctx, "pgrepo.GetByEmail", `
		SELECT id, email, password_hash, created_at, updated_at
		FROM accounts
		WHERE email = $1`, email)
}

func (r *Repo) GetByID(ctx context.Context, id string) (*users.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, users.ErrAccountNotFound
	}
	return r.getOne(ctx, "pgrepo.GetByID", `
		SELECT id, email, password_hash, created_at, updated_at
		FROM accounts
		WHERE id = $1`, id)
}

func (r *Repo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	const op = "pgrepo.UpdatePasswordHash"

	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = now()
		WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, users.ErrAccountNotFound)
	}
	return nil
}

func (r *Repo) getOne(ctx context.Context, op, query string, arg any) (*users.Account, error) {
	var (
		account users.Account
		id      uuid.UUID
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&id,
		&account.Email,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, users.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	account.ID = id.String()
	return &account, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}
