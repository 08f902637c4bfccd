// Package lock serializes reconciliation writes per identity key.
package lock

import (
	"context"
	"sync"

	"github.com/jobscan/jobscan/pkg/models"
)

// Locker grants exclusive access to one identity key. The returned release
// function must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key models.IdentityKey) (release func(), err error)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// dropped once no caller holds or waits on the key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[models.IdentityKey]*keyLock
}

type keyLock struct {
	ch   chan struct{} // Buffered(1): a token in the channel means the key is held
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[models.IdentityKey]*keyLock)}
}

// Lock blocks until key is free or ctx is done
func (m *KeyedMutex) Lock(ctx context.Context, key models.IdentityKey) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.unref(key, l)
		})
	}, nil
}

func (m *KeyedMutex) unref(key models.IdentityKey, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently held or waited on
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
