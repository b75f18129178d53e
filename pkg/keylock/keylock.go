// Package keylock provides per-key mutual exclusion.
//
// A Locker hands out one mutex per key and drops it once the last holder
// releases it, so the map only contains keys that are currently contended.
package keylock

import (
	"context"
	"sync"
)

type keyMutex struct {
	ch   chan struct{}
	refs int
}

// Locker serializes work per key. The zero value is not usable; call New.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*keyMutex)}
}

// Lock blocks until the key is acquired or ctx is done. On success the
// returned function releases the key and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &keyMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
		return func() { l.release(key, m) }, nil
	case <-ctx.Done():
		l.drop(key, m)
		return nil, ctx.Err()
	}
}

func (l *Locker) release(key string, m *keyMutex) {
	<-m.ch
	l.drop(key, m)
}

func (l *Locker) drop(key string, m *keyMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
}

// Len reports the number of keys currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
