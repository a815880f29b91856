// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with atomic snapshots and reload observers.

package control

import (
	"sync"
	"sync/atomic"
)

// ConfigStore holds an immutable snapshot of T. Readers never block;
// writers are serialized and notify listeners synchronously, in
// registration order, with the previous and the new snapshot.
type ConfigStore[T any] struct {
	mu        sync.Mutex
	current   atomic.Pointer[T]
	listeners []func(old, cur T)
}

// NewConfigStore initializes a store holding initial.
func NewConfigStore[T any](initial T) *ConfigStore[T] {
	cs := &ConfigStore[T]{}
	cs.current.Store(&initial)
	return cs
}

// Load returns the current snapshot.
func (cs *ConfigStore[T]) Load() T {
	return *cs.current.Load()
}

// Update applies fn to a copy of the current snapshot, publishes the result
// and dispatches reload listeners. It returns the new snapshot.
func (cs *ConfigStore[T]) Update(fn func(*T)) T {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	old := *cs.current.Load()
	next := old
	fn(&next)
	cs.current.Store(&next)
	for _, l := range cs.listeners {
		l(old, next)
	}
	return next
}

// TryUpdate is Update for changes that may be refused: when fn returns an
// error the snapshot is left untouched and no listener runs.
func (cs *ConfigStore[T]) TryUpdate(fn func(*T) error) (T, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	old := *cs.current.Load()
	next := old
	if err := fn(&next); err != nil {
		return old, err
	}
	cs.current.Store(&next)
	for _, l := range cs.listeners {
		l(old, next)
	}
	return next, nil
}

// OnReload registers a listener called after every Update.
func (cs *ConfigStore[T]) OnReload(fn func(old, cur T)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
