package rollback

import (
	"errors"
	"sync"
)

var errAlreadyLocked = errors.New("already locked")

// keyedLock is a non-blocking per-key mutex. A second Acquire on a held key
// fails immediately instead of waiting.
type keyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{held: make(map[string]struct{})}
}

// TryAcquire locks key and returns its release func, or errAlreadyLocked.
func (l *keyedLock) TryAcquire(key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, errAlreadyLocked
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// IsLocked reports whether key is currently held.
func (l *keyedLock) IsLocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
