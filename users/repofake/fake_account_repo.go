package fakeaccountrepo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/users"
)

var _ users.Repo = (*FakeAccountRepo)(nil)

type FakeAccountRepo struct {
	accounts map[string]users.Account
	emailIds map[string]string // email to account id
	lock     sync.RWMutex
}

func NewFakeAccountRepo() *FakeAccountRepo {
	return &FakeAccountRepo{
		accounts: make(map[string]users.Account),
		emailIds: make(map[string]string),
	}
}

func (ar *FakeAccountRepo) Create(_ context.Context, account *users.Account) error {
	ar.lock.Lock()
	defer ar.lock.Unlock()

	if _, ok := ar.emailIds[account.Email]; ok {
		return errors.Wrapf(errors.ErrConflict, "[FakeAccountRepo.Create] %s", account.Email)
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	ar.accounts[account.ID] = *account
	ar.emailIds[account.Email] = account.ID
	return nil
}

func (ar *FakeAccountRepo) GetByEmail(_ context.Context, email string) (*users.Account, error) {
	ar.lock.RLock()
	defer ar.lock.RUnlock()

	id, ok := ar.emailIds[email]
	if !ok {
		return nil, users.ErrAccountNotFound
	}
	account := ar.accounts[id]
	return &account, nil
}

func (ar *FakeAccountRepo) GetByID(_ context.Context, id string) (*users.Account, error) {
	ar.lock.RLock()
	defer ar.lock.RUnlock()

	account, ok := ar.accounts[id]
	if !ok {
		return nil, users.ErrAccountNotFound
	}
	return &account, nil
}

func (ar *FakeAccountRepo) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	ar.lock.Lock()
	defer ar.lock.Unlock()

	account, ok := ar.accounts[id]
	if !ok {
		return users.ErrAccountNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now().UTC()
	ar.accounts[id] = account
	return nil
}

// Delete exists for tests that need an account to vanish mid-session.
func (ar *FakeAccountRepo) Delete(id string) {
	ar.lock.Lock()
	defer ar.lock.Unlock()

	if account, ok := ar.accounts[id]; ok {
		delete(ar.emailIds, account.Email)
		delete(ar.accounts, id)
	}
}
