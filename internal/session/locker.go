package session

import "sync"

// Locker serializes work per session id. Entries are reference counted
// and dropped when the last holder unlocks, so idle ids cost nothing.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock blocks until the caller holds id and returns the matching unlock.
func (l *Locker) Lock(id string) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[id]
	if !ok {
		kl = &keyLock{}
		l.locks[id] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Held returns the number of ids currently locked or awaited.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
