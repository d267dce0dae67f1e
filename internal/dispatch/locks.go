package dispatch

import "sync"

// KeyedLock is a set of non-blocking mutexes keyed by notification id
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedLock creates an empty lock set
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[string]struct{})}
}

// TryLock takes the lock for key. It returns false immediately when the key is
// already held; otherwise the returned func releases it.
func (l *KeyedLock) TryLock(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}

// Held reports whether key is currently locked
func (l *KeyedLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}
