// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package eventbus implements one-shot futures keyed by an event kind and a
// correlation id, waking up callers suspended on asynchronous responses.
package eventbus

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyListening is returned if a listener is registered for a key that
// already has a live one.
var ErrAlreadyListening = errors.New("already listening")

// Key identifies a single expected event.
type Key struct {
	Kind string // Event kind, e.g. the RPC method waited on
	ID   uint64 // Correlation id of the call waited on
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Result is the outcome delivered to a listener.
type Result struct {
	Err error // Failure reported by the remote side, nil on success
}

// Listener is a registered interest in a single event.
type Listener struct {
	C <-chan Result // Channel receiving the one and only result

	bus *Bus
	key Key
	ch  chan Result
}

// Release unregisters the listener. It is safe to call multiple times and
// after the event was already delivered.
func (l *Listener) Release() {
	l.bus.lock.Lock()
	defer l.bus.lock.Unlock()

	if l.bus.listeners[l.key] == l {
		delete(l.bus.listeners, l.key)
	}
}

// Bus is a registry of one-shot listeners. The zero value is ready to use.
type Bus struct {
	listeners map[Key]*Listener
	lock      sync.Mutex
}

// New creates an empty event bus.
func New() *Bus {
	return new(Bus)
}

// Once registers a listener that fires at most once for the given key.
func (b *Bus) Once(key Key) (*Listener, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.listeners == nil {
		b.listeners = make(map[Key]*Listener)
	}
	if _, ok := b.listeners[key]; ok {
		return nil, fmt.Errorf("%w: %v", ErrAlreadyListening, key)
	}
	ch := make(chan Result, 1)
	l := &Listener{C: ch, bus: b, key: key, ch: ch}
	b.listeners[key] = l
	return l, nil
}

// Emit delivers a result to the listener of the key, if any, and discards the
// listener. It never blocks and reports whether anyone was listening.
func (b *Bus) Emit(key Key, result Result) bool {
	b.lock.Lock()
	l, ok := b.listeners[key]
	if ok {
		delete(b.listeners, key)
	}
	b.lock.Unlock()

	if !ok {
		return false
	}
	l.ch <- result
	return true
}

// Len returns the number of live listeners.
func (b *Bus) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.listeners)
}
