package refreshrepofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-patient-auth/token/refresh"
)

var _ refresh.Repo = (*FakeRefreshRepo)(nil)

type FakeRefreshRepo struct {
	records map[string]refresh.Record
	lock    sync.RWMutex
}

func NewFakeRefreshRepo() *FakeRefreshRepo {
	return &FakeRefreshRepo{
		records: make(map[string]refresh.Record),
	}
}

func (rr *FakeRefreshRepo) Put(_ context.Context, record refresh.Record) error {
	rr.lock.Lock()
	defer rr.lock.Unlock()

	rr.records[record.AccountID] = record
	return nil
}

func (rr *FakeRefreshRepo) Get(_ context.Context, accountID string) (*refresh.Record, error) {
	rr.lock.RLock()
	defer rr.lock.RUnlock()

	record, ok := rr.records[accountID]
	if !ok {
		return nil, refresh.ErrRecordNotFound
	}
	return &record, nil
}

func (rr *FakeRefreshRepo) Clear(_ context.Context, accountID string) error {
	rr.lock.Lock()
	defer rr.lock.Unlock()

	delete(rr.records, accountID)
	return nil
}

func (rr *FakeRefreshRepo) Swap(_ context.Context, accountID, expectedHash string, next refresh.Record) error {
	rr.lock.Lock()
	defer rr.lock.Unlock()

	current, ok := rr.records[accountID]
	if !ok {
		return refresh.ErrRecordNotFound
	}
	if !refresh.HashesEqual(current.CredentialHash, expectedHash) {
		return refresh.ErrRecordMismatch
	}
	rr.records[accountID] = next
	return nil
}

// Len is used by tests to assert that at most one record exists per account.
func (rr *FakeRefreshRepo) Len() int {
	rr.lock.RLock()
	defer rr.lock.RUnlock()
	return len(rr.records)
}
