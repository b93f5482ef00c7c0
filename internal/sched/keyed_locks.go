package sched

import (
	"sync"
)

// KeyedLocks is an advisory per-key mutex table. It only reduces wasted CAS
// retries when many buyers hit the same item in one process; correctness
// never depends on it, and it is process-local, so multi-instance
// deployments can run without it unchanged.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocks creates an empty lock table.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns its release func. Entries are
// reference-counted and removed once the last holder releases.
func (k *KeyedLocks) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
