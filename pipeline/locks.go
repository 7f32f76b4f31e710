package pipeline

import (
	"sync"
)

// keyLocks hands out one advisory mutex per pipeline identifier. Every
// compound (read, mutate, write) Controller operation runs under the
// pipeline's lock so two concurrent requests on the same pipeline never
// interleave their store updates; operations on different pipelines run
// concurrently.
//
// Locks are never reclaimed. The set is bounded by the number of
// pipelines, which is bounded by the interactive workload.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for id and returns its release function. The
// caller must release on all exit paths, including errors.
func (l *keyLocks) acquire(id string) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
