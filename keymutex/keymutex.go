// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package keymutex implements mutual exclusion scoped to individual keys, so
// writers of unrelated keys never contend with each other.
package keymutex

import "sync"

// entry is a lock of a single key, reference counted so it can be dropped when
// nobody holds or waits for it any more.
type entry struct {
	lock sync.Mutex
	refs int
}

// Mutex is a set of mutexes, one per key, created on demand. The zero value is
// ready to use.
type Mutex struct {
	locks map[string]*entry
	lock  sync.Mutex
}

// Lock acquires the mutex of the given key, blocking until it's available.
func (m *Mutex) Lock(key string) {
	m.lock.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = new(entry)
		m.locks[key] = e
	}
	e.refs++
	m.lock.Unlock()

	e.lock.Lock()
}

// Unlock releases the mutex of the given key. It's a run-time error to unlock
// a key that's not locked.
func (m *Mutex) Unlock(key string) {
	m.lock.Lock()
	e, ok := m.locks[key]
	if !ok {
		m.lock.Unlock()
		panic("keymutex: unlock of unlocked key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.lock.Unlock()

	e.lock.Unlock()
}

// size returns the number of keys currently tracked.
func (m *Mutex) size() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.locks)
}
