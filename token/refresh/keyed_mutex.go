package refresh

import "sync"

// keyedMutex serialises work per key. Entries are reference counted and removed once
// the last holder unlocks, so the map only holds accounts with work in progress.
type keyedMutex struct {
	lock  sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.lock.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.lock.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		k.lock.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.lock.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return len(k.locks)
}
